package collectors

import (
	"sync/atomic"

	"cxl-sched/internal/model"
)

// SampleCache holds the latest hardware sample per CPU. Collectors publish into it
// from the host side; the engine reads it through bandwidth.MetricSource without
// blocking.
type SampleCache struct {
	slots []atomic.Pointer[model.HardwareSample]
}

func NewSampleCache(nrCPUs int) *SampleCache {
	return &SampleCache{slots: make([]atomic.Pointer[model.HardwareSample], nrCPUs)}
}

// Store publishes s for s.CPU. Samples for unknown CPUs are dropped.
func (c *SampleCache) Store(s model.HardwareSample) bool {
	if s.CPU < 0 || int(s.CPU) >= len(c.slots) {
		return false
	}
	c.slots[s.CPU].Store(&s)
	return true
}

// Sample implements bandwidth.MetricSource.
func (c *SampleCache) Sample(cpu int32, _ uint64) (model.HardwareSample, bool) {
	if cpu < 0 || int(cpu) >= len(c.slots) {
		return model.HardwareSample{}, false
	}
	p := c.slots[cpu].Load()
	if p == nil {
		return model.HardwareSample{}, false
	}
	return *p, true
}
