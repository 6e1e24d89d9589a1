package dispatch

import (
	"math/rand"
	"sort"
	"testing"
)

type admitSet map[int32]bool

func (a admitSet) Admit(_ int32, _ uint64, e *Entry) bool {
	return a[e.TaskID]
}

type countingAdmitter struct {
	calls int
	allow bool
}

func (c *countingAdmitter) Admit(_ int32, _ uint64, _ *Entry) bool {
	c.calls++
	return c.allow
}

func TestQueue_OrderByVtimeThenSequence(t *testing.T) {
	q := NewQueue(16)
	q.Push(Entry{Slot: 0, TaskID: 10, VTime: 50})
	q.Push(Entry{Slot: 1, TaskID: 11, VTime: 10})
	q.Push(Entry{Slot: 2, TaskID: 12, VTime: 50})
	q.Push(Entry{Slot: 3, TaskID: 13, VTime: 30})

	var got []int32
	for {
		e, res := q.Pop(0, 0, nil)
		if res == Empty {
			break
		}
		got = append(got, e.TaskID)
	}
	want := []int32{11, 13, 10, 12}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestQueue_RandomizedHeapOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	q := NewQueue(256)
	type key struct{ v, seq uint64 }
	live := map[int32]key{}
	for round := 0; round < 2000; round++ {
		slot := int32(rng.Intn(256))
		switch rng.Intn(3) {
		case 0, 1:
			v := uint64(rng.Intn(1000))
			q.Push(Entry{Slot: slot, TaskID: slot, VTime: v})
			live[slot] = key{v: v}
		case 2:
			q.Remove(slot)
			delete(live, slot)
		}
	}
	if q.Len() != len(live) {
		t.Fatalf("len = %d, want %d", q.Len(), len(live))
	}
	var vtimes []uint64
	for _, k := range live {
		vtimes = append(vtimes, k.v)
	}
	sort.Slice(vtimes, func(i, j int) bool { return vtimes[i] < vtimes[j] })
	for i := range vtimes {
		e, res := q.Pop(0, 0, nil)
		if res != Popped {
			t.Fatalf("pop %d: result %v", i, res)
		}
		if e.VTime != vtimes[i] {
			t.Fatalf("pop %d: vtime %d, want %d", i, e.VTime, vtimes[i])
		}
		if live[e.Slot].v != e.VTime {
			t.Fatalf("slot %d popped with stale vtime", e.Slot)
		}
	}
	if _, res := q.Pop(0, 0, nil); res != Empty {
		t.Fatalf("queue should be empty")
	}
	if q.Repairs() != 0 {
		t.Fatalf("no repairs expected, got %d", q.Repairs())
	}
}

func TestQueue_PushRepositionsQueuedSlot(t *testing.T) {
	q := NewQueue(4)
	q.Push(Entry{Slot: 0, TaskID: 1, VTime: 10})
	q.Push(Entry{Slot: 1, TaskID: 2, VTime: 20})
	q.Push(Entry{Slot: 0, TaskID: 1, VTime: 30})
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
	e, _ := q.Pop(0, 0, nil)
	if e.TaskID != 2 {
		t.Fatalf("expected repositioned task to sort last, got %d", e.TaskID)
	}
}

func TestQueue_AdmissionRetriesOnce(t *testing.T) {
	q := NewQueue(8)
	q.Push(Entry{Slot: 0, TaskID: 1, VTime: 1, Critical: true})
	q.Push(Entry{Slot: 1, TaskID: 2, VTime: 2, Critical: true})
	q.Push(Entry{Slot: 2, TaskID: 3, VTime: 3})

	adm := &countingAdmitter{}
	if _, res := q.Pop(0, 0, adm); res != Denied {
		t.Fatalf("expected denial, got %v", res)
	}
	if adm.calls != 2 {
		t.Fatalf("admission tried %d times, want 2", adm.calls)
	}
	if q.Len() != 3 {
		t.Fatalf("denied entries must stay queued")
	}

	// Head denied, next candidate admitted.
	e, res := q.Pop(0, 0, admitSet{2: true})
	if res != Popped || e.TaskID != 2 {
		t.Fatalf("expected task 2 dispatched, got %d (%v)", e.TaskID, res)
	}
	// Head denied, next candidate is not critical.
	e, res = q.Pop(0, 0, admitSet{})
	if res != Popped || e.TaskID != 3 {
		t.Fatalf("expected task 3 dispatched, got %d (%v)", e.TaskID, res)
	}
	// Head keeps its vtime while waiting.
	e, res = q.Pop(0, 0, admitSet{1: true})
	if res != Popped || e.TaskID != 1 || e.VTime != 1 {
		t.Fatalf("expected task 1 with vtime 1, got %+v (%v)", e, res)
	}
	if q.Denials() != 4 {
		t.Fatalf("denials = %d, want 4", q.Denials())
	}
}

func TestQueue_SingleDeniedEntryIsIdle(t *testing.T) {
	q := NewQueue(2)
	q.Push(Entry{Slot: 0, TaskID: 1, Critical: true})
	if _, res := q.Pop(0, 0, admitSet{}); res != Denied {
		t.Fatalf("expected denial, got %v", res)
	}
	if !q.Contains(0) {
		t.Fatalf("denied entry must stay queued")
	}
}

func TestQueue_RejectsOutOfRangeSlots(t *testing.T) {
	q := NewQueue(2)
	if q.Push(Entry{Slot: 2}) || q.Push(Entry{Slot: -1}) {
		t.Fatalf("out of range slots must be rejected")
	}
	if q.Remove(5) {
		t.Fatalf("remove of unknown slot must be a no-op")
	}
}

func TestQueue_InversionIsRepaired(t *testing.T) {
	if debugAssertions {
		t.Skip("inversions panic in debug builds")
	}
	q := NewQueue(4)
	q.Push(Entry{Slot: 0, TaskID: 1, VTime: 10})
	q.Push(Entry{Slot: 1, TaskID: 2, VTime: 20})
	q.Push(Entry{Slot: 2, TaskID: 3, VTime: 30})
	// Corrupt the heap behind its back.
	q.heap[2].VTime = 1

	e, _ := q.Pop(0, 0, nil)
	if e.TaskID != 1 {
		t.Fatalf("expected root to pop first, got %d", e.TaskID)
	}
	if q.Repairs() != 1 {
		t.Fatalf("repairs = %d, want 1", q.Repairs())
	}
	e, _ = q.Pop(0, 0, nil)
	if e.TaskID != 3 {
		t.Fatalf("repaired heap should yield the corrupted minimum, got %d", e.TaskID)
	}
}
