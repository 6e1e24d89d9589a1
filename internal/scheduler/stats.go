package scheduler

import (
	"sync/atomic"

	"cxl-sched/internal/bandwidth"
	"cxl-sched/internal/model"
	"cxl-sched/internal/tasktable"
)

type counters struct {
	missingContext atomic.Uint64
	staleSamples   atomic.Uint64
	dispatched     atomic.Uint64
	idleCycles     atomic.Uint64
}

// TokenLevels reports the token buckets of one channel, summed over all buckets.
type TokenLevels struct {
	Tokens   uint64 `json:"tokens"`
	Capacity uint64 `json:"capacity"`
}

// StatsSnapshot is a point-in-time copy of the engine's observable state.
type StatsSnapshot struct {
	Scheduler            string                 `json:"scheduler"`
	Tasks                int                    `json:"tasks"`
	PerTypeCounts        map[string]uint64      `json:"per_type_counts"`
	PerCPUMetrics        []bandwidth.View       `json:"per_cpu_metrics"`
	MissingContextEvents uint64                 `json:"missing_context_events"`
	StaleSamples         uint64                 `json:"stale_samples"`
	AdmissionDenied      uint64                 `json:"admission_denied"`
	Dispatched           uint64                 `json:"dispatched"`
	IdleCycles           uint64                 `json:"idle_cycles"`
	OrderingRepairs      uint64                 `json:"ordering_repairs"`
	QueueLength          int                    `json:"queue_length"`
	GlobalVTime          uint64                 `json:"global_vtime"`
	Tokens               map[string]TokenLevels `json:"tokens"`
}

// Stats collects a snapshot. It takes every slot lock briefly and is meant for the
// host side, not for callbacks.
func (e *Engine) Stats() StatsSnapshot {
	s := e.state
	st := StatsSnapshot{
		Scheduler:            e.name,
		Tasks:                s.tasks.Len(),
		PerTypeCounts:        make(map[string]uint64, model.NumTaskTypes),
		PerCPUMetrics:        make([]bandwidth.View, 0, len(s.cpus)),
		MissingContextEvents: s.counters.missingContext.Load(),
		StaleSamples:         s.counters.staleSamples.Load(),
		AdmissionDenied:      s.queue.Queue.Denials(),
		Dispatched:           s.counters.dispatched.Load(),
		IdleCycles:           s.counters.idleCycles.Load(),
		OrderingRepairs:      s.queue.Queue.Repairs(),
		QueueLength:          s.queue.Queue.Len(),
		GlobalVTime:          s.queue.GlobalVTime(),
		Tokens:               make(map[string]TokenLevels, model.NumChannels),
	}
	for t := 0; t < model.NumTaskTypes; t++ {
		st.PerTypeCounts[model.TaskType(t).String()] = 0
	}
	s.tasks.Range(func(_ int, ent *tasktable.Entry) {
		st.PerTypeCounts[ent.Task.Type.String()]++
	})
	for _, c := range s.cpus {
		st.PerCPUMetrics = append(st.PerCPUMetrics, c.Snapshot())
	}
	for _, ch := range []model.Channel{model.ChannelRead, model.ChannelWrite} {
		st.Tokens[ch.String()] = TokenLevels{
			Tokens:   s.regulator.Tokens(ch),
			Capacity: s.regulator.Capacity(ch) * uint64(s.regulator.Len()),
		}
	}
	return st
}
