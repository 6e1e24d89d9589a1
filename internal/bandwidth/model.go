package bandwidth

import "cxl-sched/internal/model"

// MetricSource provides raw hardware readings for a CPU. Implementations must not
// block; the engine calls Sample on the decision path's periodic tick.
type MetricSource interface {
	Sample(cpu int32, now uint64) (model.HardwareSample, bool)
}

// Config holds the derivation constants of the model.
type Config struct {
	ReadSplitPercent      uint64
	OptimizedBoostMBps    uint64
	CXLLatencyThresholdNs uint64
}

func DefaultConfig() Config {
	return Config{
		ReadSplitPercent:      60,
		OptimizedBoostMBps:    100,
		CXLLatencyThresholdNs: 150,
	}
}

// Model derives per-CPU bandwidth state from hardware samples.
type Model struct {
	cfg Config
}

func NewModel(cfg Config) *Model {
	if cfg.ReadSplitPercent > 100 {
		cfg.ReadSplitPercent = 100
	}
	return &Model{cfg: cfg}
}

// Refresh pulls a sample for ctx from src and updates its metrics and flags. It reports
// whether anything was updated; a nil or uninitialized context is a no-op.
func (m *Model) Refresh(ctx *CpuContext, now uint64, src MetricSource) bool {
	if ctx == nil || src == nil {
		return false
	}
	s, ok := src.Sample(ctx.Index, now)
	if !ok {
		return false
	}
	return m.Apply(ctx, now, s)
}

// Apply folds a single hardware sample into ctx.
func (m *Model) Apply(ctx *CpuContext, now uint64, s model.HardwareSample) bool {
	if ctx == nil {
		return false
	}
	reads := ctx.ActiveCount(model.TaskTypeReadIntensive)
	writes := ctx.ActiveCount(model.TaskTypeWriteIntensive)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if !ctx.initialized {
		return false
	}

	mt := &ctx.metrics
	mt.MemoryBandwidth = s.BandwidthMBps
	mt.CacheHitRate = min(s.CacheHitPct, 100)
	mt.MemoryLatencyNs = s.LatencyNs
	mt.CxlUtilization = min(s.UtilizationPct, 100)
	mt.ReadBandwidth = s.BandwidthMBps * m.cfg.ReadSplitPercent / 100
	mt.WriteBandwidth = s.BandwidthMBps * (100 - m.cfg.ReadSplitPercent) / 100

	switch {
	case reads > writes:
		mt.ReadBandwidth += m.cfg.OptimizedBoostMBps
		ctx.readOptimized, ctx.writeOptimized = true, false
	case writes > reads:
		mt.WriteBandwidth += m.cfg.OptimizedBoostMBps
		ctx.readOptimized, ctx.writeOptimized = false, true
	default:
		ctx.readOptimized, ctx.writeOptimized = false, false
	}
	mt.LastUpdateTime = now
	ctx.cxlAttached = mt.MemoryLatencyNs > m.cfg.CXLLatencyThresholdNs
	return true
}
