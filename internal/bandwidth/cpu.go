package bandwidth

import (
	"sync"
	"sync/atomic"

	"cxl-sched/internal/model"
)

// CpuContext is the per-CPU view of the memory subsystem and the tasks running on it.
// Metrics and flags are guarded by mu; task counts and the idle flag are atomics so
// the dispatch path can update them without taking the lock.
type CpuContext struct {
	Index int32

	mu              sync.Mutex
	metrics         model.CxlMetrics
	cxlAttached     bool
	readOptimized   bool
	writeOptimized  bool
	lastBalanceTime uint64
	initialized     bool

	activeCounts [model.NumTaskTypes]atomic.Int32
	activeTotal  atomic.Int32
	idle         atomic.Bool
}

// View is a consistent copy of a CpuContext.
type View struct {
	Index            int32            `json:"cpu"`
	Metrics          model.CxlMetrics `json:"metrics"`
	CXLAttached      bool             `json:"cxl_attached"`
	ReadOptimized    bool             `json:"read_optimized"`
	WriteOptimized   bool             `json:"write_optimized"`
	LastBalanceTime  uint64           `json:"last_balance_time_ns"`
	ActiveTasks      int32            `json:"active_tasks"`
	ActiveReadTasks  int32            `json:"active_read_tasks"`
	ActiveWriteTasks int32            `json:"active_write_tasks"`
	Idle             bool             `json:"idle"`
}

// NewCpuContexts allocates one initialized context per CPU. All CPUs start idle.
func NewCpuContexts(n int) []*CpuContext {
	out := make([]*CpuContext, n)
	for i := range out {
		c := &CpuContext{Index: int32(i), initialized: true}
		c.idle.Store(true)
		out[i] = c
	}
	return out
}

// Metrics returns a copy of the current metrics.
func (c *CpuContext) Metrics() model.CxlMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// CXLAttached reports whether the CPU currently shows CXL latency characteristics.
func (c *CpuContext) CXLAttached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cxlAttached
}

// Snapshot returns a consistent copy of the whole context.
func (c *CpuContext) Snapshot() View {
	c.mu.Lock()
	v := View{
		Index:           c.Index,
		Metrics:         c.metrics,
		CXLAttached:     c.cxlAttached,
		ReadOptimized:   c.readOptimized,
		WriteOptimized:  c.writeOptimized,
		LastBalanceTime: c.lastBalanceTime,
	}
	c.mu.Unlock()
	v.ActiveTasks = c.activeTotal.Load()
	v.ActiveReadTasks = c.ActiveCount(model.TaskTypeReadIntensive)
	v.ActiveWriteTasks = c.ActiveCount(model.TaskTypeWriteIntensive)
	v.Idle = c.idle.Load()
	return v
}

// TaskStarted accounts a task of type t running on this CPU.
func (c *CpuContext) TaskStarted(t model.TaskType) {
	c.activeCounts[t].Add(1)
	c.activeTotal.Add(1)
	c.idle.Store(false)
}

// TaskStopped reverses TaskStarted. Counts never go negative.
func (c *CpuContext) TaskStopped(t model.TaskType) {
	if c.activeCounts[t].Add(-1) < 0 {
		c.activeCounts[t].Store(0)
	}
	if c.activeTotal.Add(-1) < 0 {
		c.activeTotal.Store(0)
	}
}

// ActiveCount returns the number of running tasks of type t.
func (c *CpuContext) ActiveCount(t model.TaskType) int32 {
	return c.activeCounts[t].Load()
}

// ActiveTotal returns the number of running tasks of all types.
func (c *CpuContext) ActiveTotal() int32 {
	return c.activeTotal.Load()
}

// SetIdle marks the CPU as having nothing to run.
func (c *CpuContext) SetIdle() {
	c.idle.Store(true)
}

// ClaimIdle atomically tests and clears the idle flag.
func (c *CpuContext) ClaimIdle() bool {
	return c.idle.CompareAndSwap(true, false)
}

// MarkBalanced records the time of the last placement decision involving this CPU.
func (c *CpuContext) MarkBalanced(now uint64) {
	c.mu.Lock()
	c.lastBalanceTime = now
	c.mu.Unlock()
}
