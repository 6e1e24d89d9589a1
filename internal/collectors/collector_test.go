package collectors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cxl-sched/internal/model"

	"github.com/google/go-cmp/cmp"
)

type fakeReader struct {
	name    string
	fill    func(out []Reading)
	err     error
	closed  bool
	closeEr error
}

func (f *fakeReader) Name() string { return f.name }

func (f *fakeReader) Read(_ time.Duration, out []Reading) error {
	if f.fill != nil {
		f.fill(out)
	}
	return f.err
}

func (f *fakeReader) Close() error {
	f.closed = true
	return f.closeEr
}

func TestSampleCache(t *testing.T) {
	c := NewSampleCache(2)
	if _, ok := c.Sample(0, 0); ok {
		t.Fatalf("empty cache must report no sample")
	}
	if c.Store(model.HardwareSample{CPU: 2}) || c.Store(model.HardwareSample{CPU: -1}) {
		t.Fatalf("out of range CPUs must be dropped")
	}
	c.Store(model.HardwareSample{CPU: 1, BandwidthMBps: 900})
	s, ok := c.Sample(1, 0)
	if !ok || s.BandwidthMBps != 900 {
		t.Fatalf("got %+v %v", s, ok)
	}
	if _, ok := c.Sample(5, 0); ok {
		t.Fatalf("unknown CPU must report no sample")
	}
}

func TestCollectOnce_MergesReaders(t *testing.T) {
	cache := NewSampleCache(2)
	perfLike := &fakeReader{name: "perf", fill: func(out []Reading) {
		out[0] = Reading{CacheHitPct: 90, HasCache: true, LatencyNs: 180, HasLatency: true}
	}}
	rdtLike := &fakeReader{name: "rdt", fill: func(out []Reading) {
		out[0].BandwidthMBps, out[0].HasBandwidth = 2000, true
		out[1].BandwidthMBps, out[1].HasBandwidth = 500, true
	}}
	c := NewCollector(CollectorConfig{Utilization: func(b uint64) uint64 { return b / 100 }}, cache, 2, perfLike, rdtLike)
	if errs := c.CollectOnce(time.Second); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	got, _ := cache.Sample(0, 0)
	want := model.HardwareSample{CPU: 0, BandwidthMBps: 2000, CacheHitPct: 90, LatencyNs: 180, UtilizationPct: 20}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("cpu 0 sample (-want +got):\n%s", diff)
	}
	got, _ = cache.Sample(1, 0)
	if got.BandwidthMBps != 500 || got.LatencyNs != 0 {
		t.Fatalf("cpu 1 sample %+v", got)
	}
}

func TestCollectOnce_FailingReaderDoesNotBlockOthers(t *testing.T) {
	cache := NewSampleCache(1)
	bad := &fakeReader{name: "perf", err: errors.New("boom")}
	good := &fakeReader{name: "rdt", fill: func(out []Reading) {
		out[0].BandwidthMBps, out[0].HasBandwidth = 100, true
	}}
	c := NewCollector(CollectorConfig{}, cache, 1, bad, good)
	errs := c.CollectOnce(time.Second)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "perf") {
		t.Fatalf("errors = %v", errs)
	}
	if s, ok := cache.Sample(0, 0); !ok || s.BandwidthMBps != 100 {
		t.Fatalf("good reader output lost: %+v %v", s, ok)
	}
}

func TestCollector_StopClosesAllReaders(t *testing.T) {
	a := &fakeReader{name: "a", closeEr: errors.New("a failed")}
	b := &fakeReader{name: "b", closeEr: errors.New("b failed")}
	c := NewCollector(CollectorConfig{Frequency: time.Millisecond}, NewSampleCache(1), 1, a, b)
	err := c.Stop()
	if !a.closed || !b.closed {
		t.Fatalf("readers not closed")
	}
	if err == nil || !strings.Contains(err.Error(), "a failed") || !strings.Contains(err.Error(), "b failed") {
		t.Fatalf("expected both close errors, got %v", err)
	}
	if err := c.Stop(); err == nil {
		t.Fatalf("second Stop should still report close errors")
	}
}

func TestCollector_StartValidates(t *testing.T) {
	c := NewCollector(CollectorConfig{Frequency: time.Second}, NewSampleCache(1), 1)
	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("expected error without readers")
	}
}

func TestRDTReader_BandwidthPerDomain(t *testing.T) {
	totals := map[uint64]uint64{0: 0, 1: 0}
	rr := newRDTReader(func() map[uint64]uint64 {
		out := make(map[uint64]uint64, len(totals))
		for k, v := range totals {
			out[k] = v
		}
		return out
	}, []int{0, 0, 1})

	out := make([]Reading, 3)
	if err := rr.Read(time.Second, out); err != nil {
		t.Fatal(err)
	}
	if out[0].HasBandwidth {
		t.Fatalf("first read has no baseline")
	}

	totals[0] = 2000 * 1024 * 1024
	totals[1] = 300 * 1024 * 1024
	out = make([]Reading, 3)
	if err := rr.Read(2*time.Second, out); err != nil {
		t.Fatal(err)
	}
	for cpu, want := range []uint64{1000, 1000, 150} {
		if !out[cpu].HasBandwidth || out[cpu].BandwidthMBps != want {
			t.Fatalf("cpu %d: %+v, want %d MB/s", cpu, out[cpu], want)
		}
	}

	empty := newRDTReader(func() map[uint64]uint64 { return nil }, nil)
	if err := empty.Read(time.Second, out); err == nil {
		t.Fatalf("expected error without MBM data")
	}
}

func TestDeriveReading(t *testing.T) {
	var r Reading
	deriveReading(&r, map[string]uint64{
		labelCacheMisses: 100,
		labelCacheRefs:   1000,
		labelCycles:      2_000_000_000,
		labelStallsL3:    40_000,
	}, time.Second)
	// 400 stall cycles per miss at 2 cycles/ns
	if !r.HasCache || r.CacheHitPct != 90 || !r.HasLatency || r.LatencyNs != 200 {
		t.Fatalf("got %+v", r)
	}

	r = Reading{}
	deriveReading(&r, map[string]uint64{labelCycles: 10}, time.Second)
	if r.HasCache || r.HasLatency {
		t.Fatalf("no derived values expected, got %+v", r)
	}
}

func TestScaledDelta(t *testing.T) {
	prev := &eventState{value: 100, enabled: time.Second, running: time.Second}
	cur := &eventState{value: 200, enabled: 3 * time.Second, running: 2 * time.Second}
	if got := scaledDelta(prev, cur); got != 200 {
		t.Fatalf("multiplexed delta = %d, want 200", got)
	}
	if got := scaledDelta(cur, prev); got != 0 {
		t.Fatalf("counter reset must yield 0, got %d", got)
	}
}
