package bandwidth

import "cxl-sched/internal/model"

// SyntheticSource generates deterministic, time-varying readings. It stands in for a
// PMU on hosts without CXL counters and makes engine runs reproducible.
type SyntheticSource struct {
	// Skew offsets each CPU's phase so CPUs do not report identical values.
	Skew uint64
}

func (s SyntheticSource) Sample(cpu int32, now uint64) (model.HardwareSample, bool) {
	t := now/1_000_000 + uint64(cpu)*s.Skew
	return model.HardwareSample{
		CPU:            cpu,
		BandwidthMBps:  800 + t%400,
		CacheHitPct:    85 + t%15,
		LatencyNs:      100 + t%100,
		UtilizationPct: 60 + t%40,
	}, true
}

// StaticSource replays a single pushed sample for its CPU.
type StaticSource struct {
	S model.HardwareSample
}

func (s StaticSource) Sample(cpu int32, _ uint64) (model.HardwareSample, bool) {
	if cpu != s.S.CPU {
		return model.HardwareSample{}, false
	}
	return s.S, true
}
