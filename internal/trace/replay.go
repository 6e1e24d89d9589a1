package trace

import (
	"context"

	"cxl-sched/internal/access"
	"cxl-sched/internal/logging"
	"cxl-sched/internal/model"

	"github.com/sirupsen/logrus"
)

// Target is the engine surface a trace drives.
type Target interface {
	HandleEvent(ev model.TaskLifecycleEvent, now uint64) (model.CpuAssignment, bool)
	HandleSample(sample model.PeriodicSample, now uint64) access.Result
	HandleHardware(sample model.HardwareSample, now uint64) bool
	Dispatch(cpu int32, now uint64) model.DispatchDecision
	Tick(now uint64)
}

// Result collects what the engine decided during a replay.
type Result struct {
	Steps       int
	Assignments []model.CpuAssignment
	Decisions   []model.DispatchDecision
}

// Idle returns how many dispatch decisions found nothing to run.
func (r *Result) Idle() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Idle {
			n++
		}
	}
	return n
}

// Replayer feeds a trace to a target, ticking it every TickNs of trace time.
type Replayer struct {
	target Target
	tickNs uint64
	logger *logrus.Logger
}

// NewReplayer creates a replayer. tickNs of zero disables implicit ticks.
func NewReplayer(target Target, tickNs uint64) *Replayer {
	return &Replayer{target: target, tickNs: tickNs, logger: logging.GetSchedulerLogger()}
}

// Replay runs every step in order. It stops early when ctx is cancelled and returns
// what was collected so far together with ctx.Err().
func (r *Replayer) Replay(ctx context.Context, t *Trace) (*Result, error) {
	res := &Result{}
	var nextTick uint64
	if len(t.Steps) > 0 && r.tickNs > 0 {
		nextTick = t.Steps[0].TimeNs
	}

	for i := range t.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s := &t.Steps[i]
		if r.tickNs > 0 {
			for nextTick <= s.TimeNs {
				r.target.Tick(nextTick)
				nextTick += r.tickNs
			}
		}
		r.step(s, res)
		res.Steps++
	}

	r.logger.WithFields(logrus.Fields{
		"steps":       res.Steps,
		"assignments": len(res.Assignments),
		"dispatches":  len(res.Decisions),
		"idle":        res.Idle(),
	}).Info("Trace replay finished")
	return res, nil
}

func (r *Replayer) step(s *Step, res *Result) {
	now := s.TimeNs
	switch s.Kind {
	case KindTick:
		r.target.Tick(now)
	case KindSample:
		out := r.target.HandleSample(model.PeriodicSample{
			TaskID:          s.Task,
			ElapsedNs:       s.ElapsedNs,
			ReadDeltaBytes:  s.ReadBytes,
			WriteDeltaBytes: s.WriteBytes,
			HasIO:           !s.NoIO,
			Seq:             s.Seq,
		}, now)
		if out != access.Applied {
			r.logger.WithFields(logrus.Fields{"task": s.Task, "time_ns": now}).Debug("Trace sample not applied")
		}
	case KindHardware:
		r.target.HandleHardware(model.HardwareSample{
			CPU:            s.CPU,
			BandwidthMBps:  s.BandwidthMBps,
			CacheHitPct:    s.CacheHitPct,
			LatencyNs:      s.LatencyNs,
			UtilizationPct: s.UtilizationPct,
		}, now)
	case KindDispatch:
		d := r.target.Dispatch(s.CPU, now)
		res.Decisions = append(res.Decisions, d)
		if !d.Idle && s.RunNs > 0 {
			r.target.HandleEvent(model.TaskLifecycleEvent{Kind: model.EventRunning, TaskID: d.TaskID, CPU: d.CPU}, now)
			r.target.HandleEvent(model.TaskLifecycleEvent{
				Kind:      model.EventStopping,
				TaskID:    d.TaskID,
				CPU:       d.CPU,
				SliceUsed: min(s.RunNs, d.Slice),
			}, now+s.RunNs)
		}
	default:
		kind, _ := model.ParseEventKind(s.Kind)
		if a, ok := r.target.HandleEvent(s.event(kind), now); ok {
			res.Assignments = append(res.Assignments, a)
		}
	}
}
