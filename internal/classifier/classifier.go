package classifier

import (
	"strings"

	"cxl-sched/internal/model"
)

// HintProvider resolves host knowledge about a task. Implementations are supplied by
// the host and must answer without blocking.
type HintProvider interface {
	Hint(taskID int32, name string) (model.BehaviorHint, bool)
}

// Rule maps a task name prefix to a hint.
type Rule struct {
	Prefix string
	Hint   model.BehaviorHint
}

// RuleProvider matches task names against prefix rules in order.
type RuleProvider struct {
	rules []Rule
}

func NewRuleProvider(rules []Rule) *RuleProvider {
	return &RuleProvider{rules: append([]Rule(nil), rules...)}
}

func (p *RuleProvider) Hint(_ int32, name string) (model.BehaviorHint, bool) {
	for i := range p.rules {
		if p.rules[i].Prefix != "" && strings.HasPrefix(name, p.rules[i].Prefix) {
			return p.rules[i].Hint, true
		}
	}
	return model.BehaviorHint{}, false
}

// Config controls behavior-driven re-evaluation.
type Config struct {
	// PromotionSamples is the number of consecutive heavy samples needed to relabel.
	PromotionSamples uint32
	// KworkerPromotionThreshold is the locality above which kworkers are promoted.
	KworkerPromotionThreshold uint32
}

func DefaultConfig() Config {
	return Config{PromotionSamples: 5, KworkerPromotionThreshold: 70}
}

// Classifier assigns and re-evaluates task types.
type Classifier struct {
	cfg       Config
	providers []HintProvider
}

func New(cfg Config, providers ...HintProvider) *Classifier {
	if cfg.PromotionSamples == 0 {
		cfg.PromotionSamples = 1
	}
	return &Classifier{cfg: cfg, providers: providers}
}

// Classify labels a task. An explicit hint wins over providers; providers are asked in
// order; anything unmatched becomes Regular. Explicitly hinted labels are locked.
func (c *Classifier) Classify(task *model.Task, name string, hint model.BehaviorHint) model.TaskType {
	if task == nil {
		return model.TaskTypeRegular
	}
	locked := !hint.IsZero()
	if !locked {
		for _, p := range c.providers {
			if h, ok := p.Hint(task.ID, name); ok && !h.IsZero() {
				hint, locked = h, true
				break
			}
		}
	}

	typ := hint.Type
	if hint.LatencySensitive && typ == model.TaskTypeUnknown {
		typ = model.TaskTypeLatencySensitive
	}
	if typ == model.TaskTypeUnknown {
		typ = model.TaskTypeRegular
	}

	task.Type = typ
	task.PreferredQueue = model.QueueFor(typ)
	task.Classified = true
	task.LabelLocked = locked
	task.IsBandwidthCritical = hint.BandwidthCritical || typ == model.TaskTypeBandwidthTest
	task.ReadHeavyStreak, task.WriteHeavyStreak = 0, 0
	return typ
}

// Reevaluate updates streaks from the latest pattern and relabels the task when its
// sustained behavior contradicts the current label. It returns true on relabel.
func (c *Classifier) Reevaluate(task *model.Task, p *model.MemoryAccessPattern) bool {
	if task == nil || p == nil {
		return false
	}
	switch p.IoPattern {
	case model.IoPatternReadHeavy:
		task.ReadHeavyStreak++
		task.WriteHeavyStreak = 0
	case model.IoPatternWriteHeavy:
		task.WriteHeavyStreak++
		task.ReadHeavyStreak = 0
	default:
		task.ReadHeavyStreak, task.WriteHeavyStreak = 0, 0
	}

	if task.Type == model.TaskTypeKworker {
		task.NeedsPromotion = p.LocalityScore > c.cfg.KworkerPromotionThreshold
	}
	if task.LabelLocked {
		return false
	}

	next := task.Type
	switch task.Type {
	case model.TaskTypeUnknown, model.TaskTypeRegular:
		if task.ReadHeavyStreak >= c.cfg.PromotionSamples {
			next = model.TaskTypeReadIntensive
		} else if task.WriteHeavyStreak >= c.cfg.PromotionSamples {
			next = model.TaskTypeWriteIntensive
		}
	case model.TaskTypeReadIntensive:
		if task.WriteHeavyStreak >= c.cfg.PromotionSamples {
			next = model.TaskTypeWriteIntensive
		}
	case model.TaskTypeWriteIntensive:
		if task.ReadHeavyStreak >= c.cfg.PromotionSamples {
			next = model.TaskTypeReadIntensive
		}
	}
	if next == task.Type {
		return false
	}
	task.Type = next
	task.PreferredQueue = model.QueueFor(next)
	task.ReadHeavyStreak, task.WriteHeavyStreak = 0, 0
	return true
}
