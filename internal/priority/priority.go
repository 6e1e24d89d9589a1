package priority

import "cxl-sched/internal/model"

// BasePriority is the CFS default nice-0 priority.
const BasePriority = 120

// Config holds the thresholds used by Compute.
type Config struct {
	BandwidthThreshold   uint64
	MoeLocalityThreshold uint32
	BandwidthHeadroom    uint64
	VectorDBBandwidth    uint64
	KworkerPressurePct   uint64
	BoostDecay           uint32
	WakeBoost            uint32
	MaxBoost             uint32
	// PriorityStep is the priority delta worth one slice of vtime.
	PriorityStep uint64
	// MaxOffsetSlices caps the vtime offset.
	MaxOffsetSlices uint64
}

func DefaultConfig() Config {
	return Config{
		BandwidthThreshold:   70,
		MoeLocalityThreshold: 80,
		BandwidthHeadroom:    100,
		VectorDBBandwidth:    1000,
		KworkerPressurePct:   90,
		BoostDecay:           5,
		WakeBoost:            10,
		MaxBoost:             40,
		PriorityStep:         20,
		MaxOffsetSlices:      2,
	}
}

// Engine computes scheduling priorities.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.PriorityStep == 0 {
		cfg.PriorityStep = 1
	}
	return &Engine{cfg: cfg}
}

// Compute returns the task's priority (lower runs sooner, never below 1) and decays
// its priority boost. pattern and metrics may be nil.
func (e *Engine) Compute(task *model.Task, pattern *model.MemoryAccessPattern, metrics *model.CxlMetrics) uint32 {
	if task == nil {
		return BasePriority
	}
	prio := int64(BasePriority)
	c := &e.cfg

	switch task.Type {
	case model.TaskTypeVectorDB:
		if pattern != nil && pattern.LocalityScore > c.MoeLocalityThreshold {
			prio -= 20
		}
		if metrics != nil && metrics.MemoryBandwidth > c.VectorDBBandwidth {
			prio -= 10
		}
	case model.TaskTypeReadIntensive:
		if metrics != nil && metrics.ReadBandwidth > c.BandwidthThreshold {
			prio -= 15
		}
		if pattern != nil && pattern.IoPattern == model.IoPatternReadHeavy {
			prio -= 10
		}
	case model.TaskTypeWriteIntensive:
		if metrics != nil && metrics.WriteBandwidth > c.BandwidthThreshold {
			prio -= 15
		}
		if pattern != nil && pattern.IoPattern == model.IoPatternWriteHeavy {
			prio -= 10
		}
	case model.TaskTypeBandwidthTest:
		if task.IsBandwidthCritical {
			prio -= 30
		}
		if pattern != nil && metrics != nil {
			switch {
			case pattern.IoPattern == model.IoPatternReadHeavy && metrics.ReadBandwidth > c.BandwidthHeadroom:
				prio -= 10
			case pattern.IoPattern == model.IoPatternWriteHeavy && metrics.WriteBandwidth > c.BandwidthHeadroom:
				prio -= 10
			}
		}
	case model.TaskTypeKworker:
		if task.NeedsPromotion {
			prio -= 15
		}
		if metrics != nil && metrics.CxlUtilization > c.KworkerPressurePct {
			prio += 10
		}
	case model.TaskTypeLatencySensitive:
		prio -= 25
	default:
		if pattern != nil && pattern.LocalityScore < 30 {
			prio += 10
		}
	}

	if task.PriorityBoost > 0 {
		prio -= min(int64(task.PriorityBoost), prio-1)
		if task.PriorityBoost > c.BoostDecay {
			task.PriorityBoost -= c.BoostDecay
		} else {
			task.PriorityBoost = 0
		}
	}
	if prio < 1 {
		prio = 1
	}
	task.Priority = uint32(prio)
	return task.Priority
}

// GrantWakeBoost adds the configured wake boost, capped at MaxBoost.
func (e *Engine) GrantWakeBoost(task *model.Task) {
	if task == nil {
		return
	}
	task.PriorityBoost = min(task.PriorityBoost+e.cfg.WakeBoost, e.cfg.MaxBoost)
}

// VtimeOffset converts a priority into a vtime adjustment: boosted priorities yield a
// discount, demoted ones a penalty, proportional to the distance from BasePriority.
func (e *Engine) VtimeOffset(prio uint32, slice uint64) (offset uint64, discount bool) {
	delta := int64(prio) - BasePriority
	if delta == 0 {
		return 0, false
	}
	discount = delta < 0
	if discount {
		delta = -delta
	}
	offset = slice * uint64(delta) / e.cfg.PriorityStep
	if e.cfg.MaxOffsetSlices > 0 {
		offset = min(offset, slice*e.cfg.MaxOffsetSlices)
	}
	return offset, discount
}
