package scheduler

import (
	"fmt"

	"cxl-sched/internal/access"
	"cxl-sched/internal/bandwidth"
	"cxl-sched/internal/classifier"
	"cxl-sched/internal/cpuselect"
	"cxl-sched/internal/dispatch"
	"cxl-sched/internal/logging"
	"cxl-sched/internal/model"
	"cxl-sched/internal/priority"
	"cxl-sched/internal/tasktable"
	"cxl-sched/internal/tokenbucket"

	"github.com/sirupsen/logrus"
)

// Scheduler is the lifecycle surface shared by scheduler implementations.
type Scheduler interface {
	Initialize() error
	Shutdown() error
	GetVersion() string
}

// State is the complete mutable scheduler state. There are no package-level
// scheduler globals; every callback goes through the Engine that owns a State.
type State struct {
	tasks      *tasktable.Table
	cpus       []*bandwidth.CpuContext
	model      *bandwidth.Model
	source     bandwidth.MetricSource
	regulator  *tokenbucket.Regulator
	queue      *dispatch.Manager
	selector   *cpuselect.Selector
	classifier *classifier.Classifier
	tracker    *access.Tracker
	priority   *priority.Engine
	admit      admitter
	counters   counters
}

// admitter gates bandwidth-critical dispatches through the token buckets.
type admitter struct {
	r *tokenbucket.Regulator
}

func (a *admitter) Admit(cpu int32, now uint64, e *dispatch.Entry) bool {
	return a.r.Admit(cpu, e.Channel, now, e.Demand)
}

// Engine is the bandwidth-aware policy engine. All callbacks are safe for concurrent
// use and never block on I/O.
type Engine struct {
	name    string
	version string
	opts    Options
	state   *State
}

// NewEngine builds an engine for opts.NrCPUs CPUs. now seeds the token buckets.
func NewEngine(opts Options, now uint64) (*Engine, error) {
	if opts.NrCPUs <= 0 {
		return nil, fmt.Errorf("invalid CPU count %d", opts.NrCPUs)
	}
	if opts.MaxTasks <= 0 {
		return nil, fmt.Errorf("invalid task capacity %d", opts.MaxTasks)
	}
	if opts.Slice == 0 {
		return nil, fmt.Errorf("slice must be positive")
	}

	tasks := tasktable.New(opts.MaxTasks)
	regulator := tokenbucket.NewRegulator(opts.TokenBucket, opts.NrCPUs, now)
	s := &State{
		tasks:      tasks,
		cpus:       bandwidth.NewCpuContexts(opts.NrCPUs),
		model:      bandwidth.NewModel(opts.Bandwidth),
		source:     opts.Source,
		regulator:  regulator,
		queue:      dispatch.NewManager(tasks.Cap(), opts.Slice),
		selector:   cpuselect.New(opts.CPUSelect),
		classifier: classifier.New(opts.Classifier, opts.Providers...),
		tracker:    access.NewTracker(opts.Access),
		priority:   priority.NewEngine(opts.Priority),
		admit:      admitter{r: regulator},
	}
	return &Engine{name: "cxl-bandwidth", version: "1.0.0", opts: opts, state: s}, nil
}

func (e *Engine) Initialize() error {
	logging.GetSchedulerLogger().WithFields(logrus.Fields{
		"scheduler":      e.name,
		"version":        e.version,
		"cpus":           len(e.state.cpus),
		"task_slots":     e.state.tasks.Cap(),
		"slice_ns":       e.opts.Slice,
		"bucket_scope":   e.state.regulator.Scope(),
		"read_capacity":  e.state.regulator.Capacity(model.ChannelRead),
		"write_capacity": e.state.regulator.Capacity(model.ChannelWrite),
		"cxl_candidates": e.state.selector.Candidates(),
		"metric_source":  fmt.Sprintf("%T", e.state.source),
		"hint_providers": len(e.opts.Providers),
	}).Info("Scheduler initialized")
	return nil
}

func (e *Engine) Shutdown() error {
	st := e.Stats()
	logging.GetSchedulerLogger().WithFields(logrus.Fields{
		"dispatched":       st.Dispatched,
		"idle_cycles":      st.IdleCycles,
		"admission_denied": st.AdmissionDenied,
		"missing_context":  st.MissingContextEvents,
		"stale_samples":    st.StaleSamples,
		"ordering_repairs": st.OrderingRepairs,
	}).Info("Scheduler shut down")
	return nil
}

func (e *Engine) GetVersion() string {
	return e.version
}

// Name returns the scheduler's name.
func (e *Engine) Name() string {
	return e.name
}

// NrCPUs returns the number of CPU contexts.
func (e *Engine) NrCPUs() int {
	return len(e.state.cpus)
}

// Slice returns the nominal time slice in nanoseconds.
func (e *Engine) Slice() uint64 {
	return e.opts.Slice
}

// Reconfigure applies new token bucket sizes. The bucket scope cannot change.
func (e *Engine) Reconfigure(cfg tokenbucket.Config) {
	e.state.regulator.Reconfigure(cfg)
}
