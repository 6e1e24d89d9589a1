package dispatch

import (
	"sync/atomic"

	"cxl-sched/internal/model"
)

// VtimeScale is the nominal task weight; higher weights slow vtime growth.
const VtimeScale = 100

// Clock is the global virtual time. It never decreases.
type Clock struct {
	v atomic.Uint64
}

func (c *Clock) Load() uint64 {
	return c.v.Load()
}

// Advance moves the clock forward to v if v is ahead.
func (c *Clock) Advance(v uint64) uint64 {
	for {
		cur := c.v.Load()
		if v <= cur {
			return cur
		}
		if c.v.CompareAndSwap(cur, v) {
			return v
		}
	}
}

// Manager owns the dispatch queue and the global virtual clock.
type Manager struct {
	Queue *Queue
	clock Clock
	slice uint64
}

func NewManager(slots int, slice uint64) *Manager {
	return &Manager{Queue: NewQueue(slots), slice: slice}
}

// Slice returns the nominal time slice in nanoseconds.
func (m *Manager) Slice() uint64 {
	return m.slice
}

// GlobalVTime returns the current global virtual time.
func (m *Manager) GlobalVTime() uint64 {
	return m.clock.Load()
}

// Placement is the vtime computation input for one enqueue.
type Placement struct {
	Gen      uint64
	Offset   uint64
	Discount bool
	Critical bool
	Channel  model.Channel
	Demand   uint64
}

// Enqueue clamps the task's vtime to at most one slice behind the global clock, applies
// the priority-derived offset, stores the result on the task and queues it.
func (m *Manager) Enqueue(slot int32, task *model.Task, p Placement) bool {
	v := task.VTime
	if floor := satSub(m.clock.Load(), m.slice); v < floor {
		v = floor
	}
	if p.Discount {
		v = satSub(v, p.Offset)
	} else {
		v = satAdd(v, p.Offset)
	}
	task.VTime = v
	return m.Queue.Push(Entry{
		VTime:    v,
		Slot:     slot,
		TaskID:   task.ID,
		Gen:      p.Gen,
		Critical: p.Critical,
		Channel:  p.Channel,
		Demand:   p.Demand,
	})
}

// Dispatch pops the next runnable entry for cpu.
func (m *Manager) Dispatch(cpu int32, now uint64, adm Admitter) (Entry, PopResult) {
	return m.Queue.Pop(cpu, now, adm)
}

// Running advances the global clock to the task's vtime.
func (m *Manager) Running(task *model.Task) uint64 {
	return m.clock.Advance(task.VTime)
}

// Stopping charges the unused part of the slice, scaled by weight.
func (m *Manager) Stopping(task *model.Task, used uint64) {
	weight := task.Weight
	if weight == 0 {
		weight = VtimeScale
	}
	unused := satSub(m.slice, used)
	task.VTime = satAdd(task.VTime, unused*VtimeScale/weight)
}

func satSub(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return 0
}

func satAdd(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint64(0)
}
