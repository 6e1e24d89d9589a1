package scheduler

import (
	"cxl-sched/internal/access"
	"cxl-sched/internal/bandwidth"
	"cxl-sched/internal/dispatch"
	"cxl-sched/internal/model"

	"github.com/sirupsen/logrus"
)

// cpu returns the context for index i, or nil when i is out of range.
func (s *State) cpu(i int32) *bandwidth.CpuContext {
	if i < 0 || int(i) >= len(s.cpus) {
		return nil
	}
	return s.cpus[i]
}

// Created registers a new task and classifies it.
func (e *Engine) Created(taskID int32, comm string, hint model.BehaviorHint, weight uint64, now uint64) bool {
	s := e.state
	idx, _, ok := s.tasks.FindOrInsert(taskID, now)
	if !ok {
		s.counters.missingContext.Add(1)
		return false
	}
	ent := s.tasks.Lock(idx, taskID)
	if ent == nil {
		s.counters.missingContext.Add(1)
		return false
	}
	defer s.tasks.Unlock(idx)

	if weight > 0 {
		ent.Task.Weight = weight
	}
	s.classifier.Classify(&ent.Task, comm, hint)
	debugTask(&ent.Task, comm, "Task created", nil)
	return true
}

// SelectCPU picks the CPU a waking task should run on. Any failure yields prevCPU.
func (e *Engine) SelectCPU(taskID, prevCPU int32, wakeFlags uint64, now uint64) model.CpuAssignment {
	s := e.state
	out := model.CpuAssignment{TaskID: taskID, CPU: prevCPU}
	idx, ok := s.tasks.Find(taskID)
	if !ok {
		s.counters.missingContext.Add(1)
		return out
	}
	ent := s.tasks.Lock(idx, taskID)
	if ent == nil {
		s.counters.missingContext.Add(1)
		return out
	}
	out.CPU = s.selector.Select(&ent.Task, prevCPU, s.cpus)
	if out.CPU != prevCPU {
		debugTask(&ent.Task, "", "Task migrated", logrus.Fields{"from_cpu": prevCPU, "to_cpu": out.CPU})
	}
	s.tasks.Unlock(idx)

	if out.CPU != prevCPU {
		if c := s.cpu(out.CPU); c != nil {
			c.MarkBalanced(now)
		}
	}
	return out
}

// Enqueue makes the task runnable. Tasks seen for the first time are created and
// classified from comm.
func (e *Engine) Enqueue(taskID int32, comm string, wakeFlags uint64, now uint64) bool {
	s := e.state
	idx, _, ok := s.tasks.FindOrInsert(taskID, now)
	if !ok {
		s.counters.missingContext.Add(1)
		return false
	}
	ent := s.tasks.Lock(idx, taskID)
	if ent == nil {
		s.counters.missingContext.Add(1)
		return false
	}
	defer s.tasks.Unlock(idx)

	task := &ent.Task
	if !task.Classified {
		s.classifier.Classify(task, comm, model.BehaviorHint{})
	}
	if wakeFlags&model.WakeFlagWakeup != 0 && task.LastStoppedTime != 0 &&
		now > task.LastStoppedTime && now-task.LastStoppedTime > e.opts.Slice {
		s.priority.GrantWakeBoost(task)
	}

	var metrics *model.CxlMetrics
	if c := s.cpu(task.LastCPU); c != nil {
		m := c.Metrics()
		metrics = &m
	}
	prio := s.priority.Compute(task, &ent.Pattern, metrics)
	offset, discount := s.priority.VtimeOffset(prio, e.opts.Slice)

	ch := task.Channel(ent.Pattern.IoPattern)
	return s.queue.Enqueue(int32(idx), task, dispatch.Placement{
		Gen:      s.tasks.Generation(idx),
		Offset:   offset,
		Discount: discount,
		Critical: task.IsBandwidthCritical,
		Channel:  ch,
		Demand:   min(task.BandwidthDemand, s.regulator.Capacity(ch)),
	})
}

// Dispatch selects the next task for cpu. It never touches task slots.
func (e *Engine) Dispatch(cpu int32, now uint64) model.DispatchDecision {
	s := e.state
	out := model.DispatchDecision{CPU: cpu, TaskID: -1, Idle: true}
	c := s.cpu(cpu)
	if c == nil {
		s.counters.missingContext.Add(1)
		return out
	}

	ent, res := s.queue.Dispatch(cpu, now, &s.admit)
	if res != dispatch.Popped {
		s.counters.idleCycles.Add(1)
		c.SetIdle()
		return out
	}
	if s.tasks.Generation(int(ent.Slot)) != ent.Gen {
		// exited between pop and lookup
		s.counters.missingContext.Add(1)
		s.counters.idleCycles.Add(1)
		c.SetIdle()
		return out
	}
	c.ClaimIdle()
	s.counters.dispatched.Add(1)
	out.TaskID, out.Idle, out.Slice = ent.TaskID, false, e.opts.Slice
	return out
}

// Running records that the task started executing on cpu and advances global vtime.
func (e *Engine) Running(taskID, cpu int32, now uint64) bool {
	s := e.state
	idx, ok := s.tasks.Find(taskID)
	if !ok {
		s.counters.missingContext.Add(1)
		return false
	}
	ent := s.tasks.Lock(idx, taskID)
	if ent == nil {
		s.counters.missingContext.Add(1)
		return false
	}
	defer s.tasks.Unlock(idx)

	task := &ent.Task
	if task.Running {
		if c := s.cpu(task.LastCPU); c != nil {
			c.TaskStopped(task.RunningType)
		}
	}
	task.Running = true
	task.RunningType = task.Type
	task.LastScheduledTime = now
	task.LastCPU = cpu
	if c := s.cpu(cpu); c != nil {
		c.TaskStarted(task.Type)
	}
	s.queue.Running(task)
	return true
}

// Stopping charges the used part of the slice and releases the CPU accounting.
func (e *Engine) Stopping(taskID, cpu int32, used uint64, now uint64) bool {
	s := e.state
	idx, ok := s.tasks.Find(taskID)
	if !ok {
		s.counters.missingContext.Add(1)
		return false
	}
	ent := s.tasks.Lock(idx, taskID)
	if ent == nil {
		s.counters.missingContext.Add(1)
		return false
	}
	defer s.tasks.Unlock(idx)

	task := &ent.Task
	s.queue.Stopping(task, used)
	task.LastStoppedTime = now
	if task.Running {
		if c := s.cpu(task.LastCPU); c != nil {
			c.TaskStopped(task.RunningType)
		}
		task.Running = false
	}
	return true
}

// Exited removes every trace of the task. Unknown tasks are ignored.
func (e *Engine) Exited(taskID int32) bool {
	s := e.state
	idx, ok := s.tasks.Find(taskID)
	if !ok {
		return false
	}
	ent := s.tasks.Lock(idx, taskID)
	if ent == nil {
		return false
	}
	defer s.tasks.Unlock(idx)

	if ent.Task.Running {
		if c := s.cpu(ent.Task.LastCPU); c != nil {
			c.TaskStopped(ent.Task.RunningType)
		}
	}
	s.queue.Queue.Remove(int32(idx))
	s.tasks.DeleteLocked(idx)
	return true
}

// HandleSample folds a monitoring sample into the task's access pattern, re-evaluates
// its label and records its bandwidth demand for the next admission.
func (e *Engine) HandleSample(sample model.PeriodicSample, now uint64) access.Result {
	s := e.state
	idx, ok := s.tasks.Find(sample.TaskID)
	if !ok {
		s.counters.missingContext.Add(1)
		return access.Missing
	}
	ent := s.tasks.Lock(idx, sample.TaskID)
	if ent == nil {
		s.counters.missingContext.Add(1)
		return access.Missing
	}
	defer s.tasks.Unlock(idx)

	p := &ent.Pattern
	read, write := p.ReadBytes, p.WriteBytes
	res := s.tracker.Sample(p, now, sample)
	switch res {
	case access.Stale:
		s.counters.staleSamples.Add(1)
		return res
	case access.Missing:
		s.counters.missingContext.Add(1)
		return res
	}
	s.classifier.Reevaluate(&ent.Task, p)
	if ent.Task.Channel(p.IoPattern) == model.ChannelWrite {
		ent.Task.BandwidthDemand = p.WriteBytes - write
	} else {
		ent.Task.BandwidthDemand = p.ReadBytes - read
	}
	return res
}

// HandleHardware applies a pushed hardware sample to its CPU.
func (e *Engine) HandleHardware(sample model.HardwareSample, now uint64) bool {
	c := e.state.cpu(sample.CPU)
	if c == nil {
		e.state.counters.missingContext.Add(1)
		return false
	}
	return e.state.model.Apply(c, now, sample)
}

// Tick refreshes every CPU from the metric source and refills the token buckets.
func (e *Engine) Tick(now uint64) {
	s := e.state
	if s.source != nil {
		for _, c := range s.cpus {
			s.model.Refresh(c, now, s.source)
		}
	}
	s.regulator.Refill(now)
}

// HandleEvent routes a lifecycle event. Only SelectingCPU produces an assignment.
func (e *Engine) HandleEvent(ev model.TaskLifecycleEvent, now uint64) (model.CpuAssignment, bool) {
	switch ev.Kind {
	case model.EventCreated:
		e.Created(ev.TaskID, ev.Comm, ev.Hint, ev.Weight, now)
	case model.EventEnqueued:
		e.Enqueue(ev.TaskID, ev.Comm, ev.WakeFlags, now)
	case model.EventSelectingCPU:
		return e.SelectCPU(ev.TaskID, ev.PrevCPU, ev.WakeFlags, now), true
	case model.EventRunning:
		e.Running(ev.TaskID, ev.CPU, now)
	case model.EventStopping:
		e.Stopping(ev.TaskID, ev.CPU, ev.SliceUsed, now)
	case model.EventExited:
		e.Exited(ev.TaskID)
	}
	return model.CpuAssignment{}, false
}
