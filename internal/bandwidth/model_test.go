package bandwidth

import (
	"testing"

	"cxl-sched/internal/model"
)

type fixedSource struct {
	s  model.HardwareSample
	ok bool
}

func (f fixedSource) Sample(cpu int32, _ uint64) (model.HardwareSample, bool) {
	s := f.s
	s.CPU = cpu
	return s, f.ok
}

func TestModel_SplitAndOptimizationFlags(t *testing.T) {
	m := NewModel(DefaultConfig())
	src := fixedSource{s: model.HardwareSample{BandwidthMBps: 1000, CacheHitPct: 90, LatencyNs: 120, UtilizationPct: 50}, ok: true}

	cases := []struct {
		name      string
		reads     int
		writes    int
		wantRead  uint64
		wantWrite uint64
		wantRdOpt bool
		wantWrOpt bool
	}{
		{"tie", 0, 0, 600, 400, false, false},
		{"more readers", 2, 1, 700, 400, true, false},
		{"more writers", 1, 3, 600, 500, false, true},
		{"tie with tasks", 2, 2, 600, 400, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := NewCpuContexts(1)[0]
			for i := 0; i < tc.reads; i++ {
				ctx.TaskStarted(model.TaskTypeReadIntensive)
			}
			for i := 0; i < tc.writes; i++ {
				ctx.TaskStarted(model.TaskTypeWriteIntensive)
			}
			if !m.Refresh(ctx, 42, src) {
				t.Fatalf("refresh reported no update")
			}
			v := ctx.Snapshot()
			if v.Metrics.ReadBandwidth != tc.wantRead || v.Metrics.WriteBandwidth != tc.wantWrite {
				t.Fatalf("read/write = %d/%d, want %d/%d", v.Metrics.ReadBandwidth, v.Metrics.WriteBandwidth, tc.wantRead, tc.wantWrite)
			}
			if v.ReadOptimized != tc.wantRdOpt || v.WriteOptimized != tc.wantWrOpt {
				t.Fatalf("optimized flags = %v/%v, want %v/%v", v.ReadOptimized, v.WriteOptimized, tc.wantRdOpt, tc.wantWrOpt)
			}
			if v.ReadOptimized && v.WriteOptimized {
				t.Fatalf("read and write optimization must be exclusive")
			}
			if v.Metrics.LastUpdateTime != 42 {
				t.Fatalf("last update = %d, want 42", v.Metrics.LastUpdateTime)
			}
		})
	}
}

func TestModel_CXLAttachmentThreshold(t *testing.T) {
	m := NewModel(DefaultConfig())
	ctx := NewCpuContexts(1)[0]

	m.Refresh(ctx, 1, fixedSource{s: model.HardwareSample{LatencyNs: 150}, ok: true})
	if ctx.CXLAttached() {
		t.Fatalf("latency equal to threshold must not mark the CPU as CXL attached")
	}
	m.Refresh(ctx, 2, fixedSource{s: model.HardwareSample{LatencyNs: 151}, ok: true})
	if !ctx.CXLAttached() {
		t.Fatalf("latency above threshold must mark the CPU as CXL attached")
	}
}

func TestModel_NoOps(t *testing.T) {
	m := NewModel(DefaultConfig())
	if m.Refresh(nil, 0, SyntheticSource{}) {
		t.Fatalf("nil context must be a no-op")
	}
	uninit := &CpuContext{}
	if m.Refresh(uninit, 0, SyntheticSource{}) {
		t.Fatalf("uninitialized context must be a no-op")
	}
	ctx := NewCpuContexts(1)[0]
	if m.Refresh(ctx, 0, fixedSource{ok: false}) {
		t.Fatalf("source without a sample must be a no-op")
	}
	if ctx.Metrics() != (model.CxlMetrics{}) {
		t.Fatalf("metrics changed on no-op refresh: %+v", ctx.Metrics())
	}
}

func TestSyntheticSource_DeterministicAndInRange(t *testing.T) {
	src := SyntheticSource{Skew: 7}
	for now := uint64(0); now < 2_000_000_000; now += 13_000_000 {
		a, _ := src.Sample(3, now)
		b, _ := src.Sample(3, now)
		if a != b {
			t.Fatalf("synthetic source not deterministic at %d", now)
		}
		if a.BandwidthMBps < 800 || a.BandwidthMBps >= 1200 {
			t.Fatalf("bandwidth %d out of range", a.BandwidthMBps)
		}
		if a.CacheHitPct < 85 || a.CacheHitPct >= 100 {
			t.Fatalf("cache hit %d out of range", a.CacheHitPct)
		}
		if a.LatencyNs < 100 || a.LatencyNs >= 200 {
			t.Fatalf("latency %d out of range", a.LatencyNs)
		}
		if a.UtilizationPct < 60 || a.UtilizationPct >= 100 {
			t.Fatalf("utilization %d out of range", a.UtilizationPct)
		}
	}
}

func TestCpuContext_ClaimIdle(t *testing.T) {
	ctx := NewCpuContexts(1)[0]
	if !ctx.ClaimIdle() {
		t.Fatalf("fresh CPU should be idle")
	}
	if ctx.ClaimIdle() {
		t.Fatalf("idle flag must be cleared by the first claim")
	}
	ctx.SetIdle()
	ctx.TaskStarted(model.TaskTypeRegular)
	if ctx.ClaimIdle() {
		t.Fatalf("running a task clears idle")
	}
	ctx.TaskStopped(model.TaskTypeRegular)
	ctx.TaskStopped(model.TaskTypeRegular)
	if got := ctx.ActiveTotal(); got != 0 {
		t.Fatalf("active total went negative: %d", got)
	}
}
