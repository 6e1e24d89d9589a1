// Package trace replays recorded scheduler activity against an engine.
package trace

import (
	"fmt"
	"os"
	"strings"

	"cxl-sched/internal/model"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Step kinds besides the lifecycle event names.
const (
	KindSample   = "sample"
	KindHardware = "hardware"
	KindDispatch = "dispatch"
	KindTick     = "tick"
)

// Trace is a time-ordered list of steps.
type Trace struct {
	NrCPUs int    `yaml:"nr_cpus"`
	Steps  []Step `yaml:"steps"`
}

type Hint struct {
	Type              string `yaml:"type,omitempty"`
	LatencySensitive  bool   `yaml:"latency_sensitive,omitempty"`
	BandwidthCritical bool   `yaml:"bandwidth_critical,omitempty"`
}

// Step is one replayed action. Which fields matter depends on Kind.
type Step struct {
	TimeNs uint64 `yaml:"time_ns"`
	Kind   string `yaml:"kind"`

	Task      int32    `yaml:"task,omitempty"`
	Comm      string   `yaml:"comm,omitempty"`
	Weight    uint64   `yaml:"weight,omitempty"`
	Hint      *Hint    `yaml:"hint,omitempty"`
	CPU       int32    `yaml:"cpu,omitempty"`
	PrevCPU   int32    `yaml:"prev_cpu,omitempty"`
	Wake      []string `yaml:"wake,omitempty"`
	SliceUsed uint64   `yaml:"slice_used,omitempty"`

	// sample
	ElapsedNs  uint64 `yaml:"elapsed_ns,omitempty"`
	ReadBytes  uint64 `yaml:"read_bytes,omitempty"`
	WriteBytes uint64 `yaml:"write_bytes,omitempty"`
	NoIO       bool   `yaml:"no_io,omitempty"`
	Seq        uint64 `yaml:"seq,omitempty"`

	// hardware
	BandwidthMBps  uint64 `yaml:"bandwidth_mbps,omitempty"`
	CacheHitPct    uint64 `yaml:"cache_hit_pct,omitempty"`
	LatencyNs      uint64 `yaml:"latency_ns,omitempty"`
	UtilizationPct uint64 `yaml:"utilization_pct,omitempty"`

	// dispatch: when set and a task is picked, it runs for RunNs and stops.
	RunNs uint64 `yaml:"run_ns,omitempty"`
}

func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a trace.
func Parse(data []byte) (*Trace, error) {
	var t Trace
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse trace: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("invalid trace: %w", err)
	}
	return &t, nil
}

func (t *Trace) validate() error {
	var errors *multierror.Error
	if t.NrCPUs < 0 {
		errors = multierror.Append(errors, fmt.Errorf("nr_cpus must not be negative"))
	}
	var last uint64
	for i := range t.Steps {
		s := &t.Steps[i]
		if s.TimeNs < last {
			errors = multierror.Append(errors, fmt.Errorf("step %d: time_ns %d goes backwards", i, s.TimeNs))
		}
		last = max(last, s.TimeNs)

		switch s.Kind {
		case KindSample, KindHardware, KindDispatch, KindTick:
		default:
			if _, ok := model.ParseEventKind(s.Kind); !ok {
				errors = multierror.Append(errors, fmt.Errorf("step %d: unknown kind %q", i, s.Kind))
			}
		}
		if s.Hint != nil && s.Hint.Type != "" {
			if _, ok := model.ParseTaskType(s.Hint.Type); !ok {
				errors = multierror.Append(errors, fmt.Errorf("step %d: unknown task type %q", i, s.Hint.Type))
			}
		}
		for _, w := range s.Wake {
			if _, err := wakeFlag(w); err != nil {
				errors = multierror.Append(errors, fmt.Errorf("step %d: %w", i, err))
			}
		}
	}
	return errors.ErrorOrNil()
}

// MaxCPU returns the highest CPU index referenced by the trace, or -1.
func (t *Trace) MaxCPU() int32 {
	highest := int32(-1)
	for i := range t.Steps {
		highest = max(highest, t.Steps[i].CPU, t.Steps[i].PrevCPU)
	}
	return highest
}

func wakeFlag(name string) (uint64, error) {
	switch strings.ToLower(name) {
	case "sync":
		return model.WakeFlagSync, nil
	case "wakeup":
		return model.WakeFlagWakeup, nil
	}
	return 0, fmt.Errorf("unknown wake flag %q", name)
}

func (s *Step) wakeFlags() uint64 {
	var flags uint64
	for _, w := range s.Wake {
		f, _ := wakeFlag(w)
		flags |= f
	}
	return flags
}

func (s *Step) hint() model.BehaviorHint {
	if s.Hint == nil {
		return model.BehaviorHint{}
	}
	typ, _ := model.ParseTaskType(s.Hint.Type)
	return model.BehaviorHint{
		Type:              typ,
		LatencySensitive:  s.Hint.LatencySensitive,
		BandwidthCritical: s.Hint.BandwidthCritical,
	}
}

func (s *Step) event(kind model.EventKind) model.TaskLifecycleEvent {
	return model.TaskLifecycleEvent{
		Kind:      kind,
		TaskID:    s.Task,
		PrevCPU:   s.PrevCPU,
		CPU:       s.CPU,
		WakeFlags: s.wakeFlags(),
		Weight:    s.Weight,
		SliceUsed: s.SliceUsed,
		Runnable:  kind == model.EventEnqueued,
		Comm:      s.Comm,
		Hint:      s.hint(),
	}
}
