package dispatch

import (
	"math/rand"
	"testing"

	"cxl-sched/internal/model"
)

func TestManager_EnqueueDispatchRoundTrip(t *testing.T) {
	m := NewManager(8, 20_000_000)
	task := &model.Task{ID: 77, Weight: 100, VTime: 1234}
	m.Enqueue(3, task, Placement{})
	e, res := m.Dispatch(0, 0, nil)
	if res != Popped || e.TaskID != 77 || e.Slot != 3 {
		t.Fatalf("round trip returned %+v (%v)", e, res)
	}
	if _, res := m.Dispatch(0, 0, nil); res != Empty {
		t.Fatalf("expected empty queue")
	}
}

func TestManager_EnqueueClampsAndOffsets(t *testing.T) {
	const slice = 100
	m := NewManager(8, slice)
	m.Running(&model.Task{VTime: 1000})

	idle := &model.Task{ID: 1, VTime: 5}
	m.Enqueue(0, idle, Placement{})
	if idle.VTime != 900 {
		t.Fatalf("long idle task vtime = %d, want clamp to 900", idle.VTime)
	}

	boosted := &model.Task{ID: 2, VTime: 5}
	m.Enqueue(1, boosted, Placement{Offset: slice, Discount: true})
	if boosted.VTime != 800 {
		t.Fatalf("boosted vtime = %d, want 800", boosted.VTime)
	}

	demoted := &model.Task{ID: 3, VTime: 2000}
	m.Enqueue(2, demoted, Placement{Offset: slice})
	if demoted.VTime != 2100 {
		t.Fatalf("demoted vtime = %d, want 2100", demoted.VTime)
	}

	fresh := NewManager(8, slice)
	zero := &model.Task{ID: 4}
	fresh.Enqueue(0, zero, Placement{Offset: 50, Discount: true})
	if zero.VTime != 0 {
		t.Fatalf("vtime must saturate at zero, got %d", zero.VTime)
	}
}

func TestManager_GlobalVTimeMonotonic(t *testing.T) {
	m := NewManager(1, 100)
	rng := rand.New(rand.NewSource(5))
	prev := uint64(0)
	for i := 0; i < 10000; i++ {
		m.Running(&model.Task{VTime: uint64(rng.Int63n(1 << 40))})
		cur := m.GlobalVTime()
		if cur < prev {
			t.Fatalf("global vtime decreased from %d to %d", prev, cur)
		}
		prev = cur
	}
}

func TestManager_Stopping(t *testing.T) {
	const slice = 20_000_000
	m := NewManager(1, slice)
	cases := []struct {
		name   string
		weight uint64
		used   uint64
		want   uint64
	}{
		{"preempted early accrues the unused part", 100, 5_000_000, 15_000_000},
		{"higher weight slows growth", 200, 5_000_000, 7_500_000},
		{"full slice accrues nothing", 100, slice, 0},
		{"overrun accrues nothing", 100, slice * 2, 0},
		{"zero weight uses nominal", 0, 10_000_000, 10_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := &model.Task{Weight: tc.weight}
			m.Stopping(task, tc.used)
			if task.VTime != tc.want {
				t.Fatalf("vtime = %d, want %d", task.VTime, tc.want)
			}
		})
	}
}
