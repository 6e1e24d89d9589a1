package tasktable

import (
	"sync"
	"sync/atomic"

	"cxl-sched/internal/model"
)

const (
	slotEmpty     int64 = 0
	slotTombstone int64 = -1
)

// Entry is the exclusively-owned state of one task.
type Entry struct {
	Task    model.Task
	Pattern model.MemoryAccessPattern
}

type slot struct {
	// key is the task id + 1 so the zero value means empty.
	key atomic.Int64
	mu  sync.Mutex
	gen atomic.Uint64
	e   Entry
}

// Table is a fixed-capacity arena keyed by task id. Lookups are lock free; inserts and
// deletes take a short table lock; task state is guarded by the slot lock.
type Table struct {
	mu    sync.Mutex
	slots []slot
	mask  uint64
	live  atomic.Int64
	limit int64
}

// New allocates a table able to hold capacity live tasks.
func New(capacity int) *Table {
	if capacity < 1 {
		capacity = 1
	}
	size := 1
	for size < capacity*2 {
		size <<= 1
	}
	return &Table{slots: make([]slot, size), mask: uint64(size - 1), limit: int64(capacity)}
}

// Cap returns the number of slots; slot indexes are in [0, Cap()).
func (t *Table) Cap() int {
	return len(t.slots)
}

// Len returns the number of live tasks.
func (t *Table) Len() int {
	return int(t.live.Load())
}

func hash(id int32) uint64 {
	x := uint64(uint32(id))
	x ^= x >> 16
	x *= 0x45d9f3b
	x ^= x >> 16
	return x
}

// Find returns the slot index of id.
func (t *Table) Find(id int32) (int, bool) {
	if id < 0 {
		return -1, false
	}
	key := int64(id) + 1
	i := hash(id) & t.mask
	for n := 0; n < len(t.slots); n++ {
		switch t.slots[i].key.Load() {
		case key:
			return int(i), true
		case slotEmpty:
			return -1, false
		}
		i = (i + 1) & t.mask
	}
	return -1, false
}

// FindOrInsert returns the slot of id, creating it with a fresh entry when absent.
// created reports whether the entry is new. It fails only when the table is full.
func (t *Table) FindOrInsert(id int32, now uint64) (idx int, created bool, ok bool) {
	if id < 0 {
		return -1, false, false
	}
	if idx, ok := t.Find(id); ok {
		return idx, false, true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := t.Find(id); ok {
		return idx, false, true
	}
	if t.live.Load() >= t.limit {
		return -1, false, false
	}
	key := int64(id) + 1
	i := hash(id) & t.mask
	for n := 0; n < len(t.slots); n++ {
		k := t.slots[i].key.Load()
		if k == slotEmpty || k == slotTombstone {
			s := &t.slots[i]
			s.mu.Lock()
			s.e = Entry{
				Task:    model.Task{ID: id, Weight: 100, LastCPU: -1},
				Pattern: model.NewMemoryAccessPattern(now),
			}
			s.gen.Add(1)
			s.key.Store(key)
			s.mu.Unlock()
			t.live.Add(1)
			return int(i), true, true
		}
		i = (i + 1) & t.mask
	}
	return -1, false, false
}

// Delete removes id. Removing an unknown id is a no-op.
func (t *Table) Delete(id int32) bool {
	idx, ok := t.Find(id)
	if !ok {
		return false
	}
	if t.Lock(idx, id) == nil {
		return false
	}
	t.DeleteLocked(idx)
	t.Unlock(idx)
	return true
}

// DeleteLocked clears a slot the caller holds through Lock. The slot stays locked.
// Inserts only lock free slots, so taking the table lock here cannot deadlock.
func (t *Table) DeleteLocked(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[idx]
	s.e = Entry{}
	s.gen.Add(1)
	s.key.Store(slotTombstone)
	t.live.Add(-1)
	t.reclaim(uint64(idx))
}

// reclaim turns the tombstone run ending at i back into empty slots when the next
// slot is empty. No probe chain can cross an empty slot, so nothing beyond i is
// reachable through the run. Called with t.mu held.
func (t *Table) reclaim(i uint64) {
	if t.slots[(i+1)&t.mask].key.Load() != slotEmpty {
		return
	}
	for n := 0; n < len(t.slots); n++ {
		s := &t.slots[i]
		if s.key.Load() != slotTombstone {
			return
		}
		s.key.Store(slotEmpty)
		i = (i - 1) & t.mask
	}
}

// Lock acquires exclusive ownership of the slot and returns its entry, or nil if the
// slot no longer holds id (the task vanished). The caller must Unlock on success.
func (t *Table) Lock(idx int, id int32) *Entry {
	if idx < 0 || idx >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	s.mu.Lock()
	if s.key.Load() != int64(id)+1 {
		s.mu.Unlock()
		return nil
	}
	return &s.e
}

// Unlock releases a slot obtained from Lock.
func (t *Table) Unlock(idx int) {
	t.slots[idx].mu.Unlock()
}

// Generation returns the slot's reuse counter; it changes whenever the slot is
// assigned to a new task or cleared.
func (t *Table) Generation(idx int) uint64 {
	return t.slots[idx].gen.Load()
}

// Range calls fn for each live entry under its slot lock. fn must not call back into
// the table.
func (t *Table) Range(fn func(idx int, e *Entry)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.key.Load() <= slotEmpty {
			continue
		}
		s.mu.Lock()
		if s.key.Load() > slotEmpty {
			fn(i, &s.e)
		}
		s.mu.Unlock()
	}
}
