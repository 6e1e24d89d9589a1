package scheduler

import (
	"cxl-sched/internal/access"
	"cxl-sched/internal/bandwidth"
	"cxl-sched/internal/classifier"
	"cxl-sched/internal/config"
	"cxl-sched/internal/cpuselect"
	"cxl-sched/internal/model"
	"cxl-sched/internal/priority"
	"cxl-sched/internal/tokenbucket"
)

const mib = 1 << 20

// Options holds everything needed to build an Engine.
type Options struct {
	NrCPUs   int
	MaxTasks int
	// Slice is the nominal time slice in nanoseconds.
	Slice uint64

	Access      access.Config
	Classifier  classifier.Config
	Providers   []classifier.HintProvider
	Priority    priority.Config
	Bandwidth   bandwidth.Config
	TokenBucket tokenbucket.Config
	CPUSelect   cpuselect.Config
	// Source feeds Tick. Nil means hardware samples only arrive via HandleHardware.
	Source bandwidth.MetricSource
}

// DefaultOptions returns the stock policy for nrCPUs CPUs with synthetic metrics.
func DefaultOptions(nrCPUs int) Options {
	return Options{
		NrCPUs:      nrCPUs,
		MaxTasks:    config.DefaultMaxTasks,
		Slice:       config.DefaultSliceMs * 1_000_000,
		Access:      access.DefaultConfig(),
		Classifier:  classifier.DefaultConfig(),
		Providers:   []classifier.HintProvider{classifier.NewRuleProvider(Rules(config.DefaultRules()))},
		Priority:    priority.DefaultConfig(),
		Bandwidth:   bandwidth.DefaultConfig(),
		TokenBucket: tokenbucket.DefaultConfig(),
		CPUSelect:   cpuselect.DefaultConfig(),
		Source:      bandwidth.SyntheticSource{},
	}
}

// OptionsFromConfig translates a validated configuration. Providers beyond the name
// rules (container labels) and hardware sources are attached by the caller.
func OptionsFromConfig(cfg *config.Config, nrCPUs int) Options {
	opts := DefaultOptions(nrCPUs)
	opts.MaxTasks = cfg.Scheduler.MaxTasks
	opts.Slice = uint64(cfg.Slice().Nanoseconds())

	opts.Access.ThrashNsPerAccess = uint64(cfg.Access.ThrashNsPerAccess)
	opts.Access.Splitter = access.ExecTimeSplitter{
		ReadNsPerByte:  uint64(cfg.Access.ExecReadDivisor),
		WriteNsPerByte: uint64(cfg.Access.ExecWriteDivisor),
	}

	opts.Classifier.PromotionSamples = uint32(cfg.Classifier.PromotionSamples)
	opts.Classifier.KworkerPromotionThreshold = uint32(cfg.Classifier.KworkerPromotionThreshold)
	opts.Providers = []classifier.HintProvider{classifier.NewRuleProvider(Rules(cfg.Classifier.Rules))}

	opts.Priority.BandwidthThreshold = uint64(cfg.Priority.BandwidthThreshold)
	opts.Priority.MoeLocalityThreshold = uint32(cfg.Priority.MoeLocalityThreshold)
	opts.Priority.WakeBoost = uint32(cfg.Priority.WakeBoost)
	opts.Priority.MaxBoost = uint32(cfg.Priority.MaxBoost)
	opts.Priority.BoostDecay = uint32(cfg.Priority.BoostDecay)

	opts.Bandwidth.ReadSplitPercent = uint64(cfg.Bandwidth.ReadSplitPercent)
	opts.Bandwidth.OptimizedBoostMBps = uint64(cfg.Bandwidth.OptimizedBoostMBps)
	opts.Bandwidth.CXLLatencyThresholdNs = uint64(cfg.Bandwidth.CXLLatencyThresholdNs)

	opts.TokenBucket = TokenBucketConfig(cfg.TokenBucket)

	opts.CPUSelect.Candidates = nil
	for _, cpu := range cfg.Scheduler.CXLCPUList {
		opts.CPUSelect.Candidates = append(opts.CPUSelect.Candidates, int32(cpu))
	}
	opts.CPUSelect.MaxMigrations = uint32(cfg.Scheduler.MaxMigrations)
	opts.CPUSelect.LoadFactorPercent = uint64(cfg.Scheduler.LoadFactorPercent)

	if cfg.Bandwidth.Source != "synthetic" {
		opts.Source = nil
	}
	return opts
}

// TokenBucketConfig converts MB/s rates and a burst window into bucket sizes.
func TokenBucketConfig(tb config.TokenBucketConfig) tokenbucket.Config {
	channel := func(mbps int) tokenbucket.ChannelConfig {
		rate := uint64(mbps) * mib
		return tokenbucket.ChannelConfig{
			Capacity:   rate * uint64(tb.BurstMs) / 1000,
			RefillRate: rate,
		}
	}
	return tokenbucket.Config{
		Scope: tokenbucket.Scope(tb.Scope),
		Read:  channel(tb.ReadMBps),
		Write: channel(tb.WriteMBps),
	}
}

// Rules converts configured name rules. Unknown type names were rejected by
// validation and map to Unknown here.
func Rules(rules []config.Rule) []classifier.Rule {
	out := make([]classifier.Rule, 0, len(rules))
	for _, r := range rules {
		typ, _ := model.ParseTaskType(r.Type)
		out = append(out, classifier.Rule{
			Prefix: r.Prefix,
			Hint: model.BehaviorHint{
				Type:              typ,
				LatencySensitive:  r.LatencySensitive,
				BandwidthCritical: r.BandwidthCritical,
			},
		})
	}
	return out
}
