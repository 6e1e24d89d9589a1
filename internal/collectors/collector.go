package collectors

import (
	"context"
	"fmt"
	"time"

	"cxl-sched/internal/logging"
	"cxl-sched/internal/model"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Reading is one reader's contribution to a CPU's sample for one interval.
type Reading struct {
	BandwidthMBps uint64
	CacheHitPct   uint64
	LatencyNs     uint64
	HasBandwidth  bool
	HasCache      bool
	HasLatency    bool
}

// Reader measures some of the hardware counters of every CPU.
type Reader interface {
	Name() string
	// Read fills out[cpu] with the values measured since the previous call.
	Read(elapsed time.Duration, out []Reading) error
	Close() error
}

// UtilizationFunc converts a bandwidth reading into a utilization percentage.
type UtilizationFunc func(bandwidthMBps uint64) uint64

type CollectorConfig struct {
	Frequency   time.Duration
	Utilization UtilizationFunc
}

// Collector periodically merges reader output into a SampleCache.
type Collector struct {
	readers  []Reader
	cache    *SampleCache
	config   CollectorConfig
	readings []Reading
	last     time.Time

	stopChan chan struct{}
	stopped  bool
}

func NewCollector(config CollectorConfig, cache *SampleCache, nrCPUs int, readers ...Reader) *Collector {
	return &Collector{
		readers:  readers,
		cache:    cache,
		config:   config,
		readings: make([]Reading, nrCPUs),
		stopChan: make(chan struct{}),
	}
}

// Start runs the collection loop until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if len(c.readers) == 0 {
		return fmt.Errorf("no hardware readers available")
	}
	if c.config.Frequency <= 0 {
		return fmt.Errorf("invalid collector frequency %v", c.config.Frequency)
	}
	c.last = time.Now()
	go c.collect(ctx)
	return nil
}

func (c *Collector) collect(ctx context.Context) {
	ticker := time.NewTicker(c.config.Frequency)
	defer ticker.Stop()

	warn := logging.NewRateLimited(logging.GetLogger(), time.Minute)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(c.last)
			c.last = now
			for _, err := range c.CollectOnce(elapsed) {
				warn.Warn(logrus.Fields{"error": err.Error()}, "Hardware reader failed")
			}
		}
	}
}

// CollectOnce reads every reader and publishes merged samples. A failing reader does
// not prevent the others from contributing.
func (c *Collector) CollectOnce(elapsed time.Duration) []error {
	for i := range c.readings {
		c.readings[i] = Reading{}
	}
	merged := make([]Reading, len(c.readings))
	var errs []error
	for _, r := range c.readers {
		if err := r.Read(elapsed, c.readings); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
		for cpu := range c.readings {
			mergeReading(&merged[cpu], c.readings[cpu])
			c.readings[cpu] = Reading{}
		}
	}

	for cpu, m := range merged {
		if !m.HasBandwidth && !m.HasCache && !m.HasLatency {
			continue
		}
		s := model.HardwareSample{
			CPU:           int32(cpu),
			BandwidthMBps: m.BandwidthMBps,
			CacheHitPct:   m.CacheHitPct,
			LatencyNs:     m.LatencyNs,
		}
		if c.config.Utilization != nil {
			s.UtilizationPct = c.config.Utilization(m.BandwidthMBps)
		}
		c.cache.Store(s)
	}
	return errs
}

func mergeReading(dst *Reading, src Reading) {
	if src.HasBandwidth {
		dst.BandwidthMBps, dst.HasBandwidth = src.BandwidthMBps, true
	}
	if src.HasCache {
		dst.CacheHitPct, dst.HasCache = src.CacheHitPct, true
	}
	if src.HasLatency {
		dst.LatencyNs, dst.HasLatency = src.LatencyNs, true
	}
}

// Stop ends the loop and closes every reader.
func (c *Collector) Stop() error {
	if !c.stopped {
		close(c.stopChan)
		c.stopped = true
	}

	var errors *multierror.Error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errors = multierror.Append(errors, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.ErrorOrNil()
}
