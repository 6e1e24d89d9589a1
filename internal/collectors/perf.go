package collectors

import (
	"fmt"
	"sync"
	"time"

	"cxl-sched/internal/logging"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

const (
	labelCacheMisses = "cache-misses"
	labelCacheRefs   = "cache-references"
	labelCycles      = "cpu-cycles"
	labelStallsL3    = "cycle_activity.stalls_l3_miss"
)

type eventState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

type cpuEvent struct {
	cpu   int
	label string
	event *perf.Event
	last  *eventState
}

// PerfReader counts cache and stall events on every CPU system-wide and derives the
// cache hit rate and an average memory latency estimate.
type PerfReader struct {
	events []*cpuEvent
	mutex  sync.Mutex
}

func NewPerfReader(cpus []int) (*PerfReader, error) {
	logger := logging.GetLogger()
	reader := &PerfReader{}

	hardwareCounters := []perf.HardwareCounter{
		perf.CacheMisses,
		perf.CacheReferences,
		perf.CPUCycles,
	}

	// Intel-specific, not among go-perf's predefined counters
	rawStallEvents := []struct {
		name   string
		config uint64
	}{
		{labelStallsL3, 0x60006a3},
	}

	for _, cpu := range cpus {
		for _, counter := range hardwareCounters {
			attr := &perf.Attr{}
			counter.Configure(attr)
			// Enable time tracking for multiplexing correction
			attr.CountFormat.Enabled = true
			attr.CountFormat.Running = true
			event, err := perf.Open(attr, perf.AllThreads, cpu, nil)
			if err != nil {
				reader.Close()
				logger.WithFields(logrus.Fields{
					"counter": counter,
					"cpu":     cpu,
				}).WithError(err).Error("Failed to open perf event")
				return nil, err
			}
			reader.events = append(reader.events, &cpuEvent{cpu: cpu, label: attr.Label, event: event})
		}

		for _, rawEvent := range rawStallEvents {
			attr := &perf.Attr{
				Type:   perf.RawEvent,
				Config: rawEvent.config,
				Label:  rawEvent.name,
			}
			attr.CountFormat.Enabled = true
			attr.CountFormat.Running = true
			event, err := perf.Open(attr, perf.AllThreads, cpu, nil)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"event": rawEvent.name,
					"cpu":   cpu,
				}).WithError(err).Warn("Failed to open raw perf event, latency estimate disabled for CPU")
				continue
			}
			reader.events = append(reader.events, &cpuEvent{cpu: cpu, label: rawEvent.name, event: event})
		}
	}

	for _, e := range reader.events {
		if err := e.event.Enable(); err != nil {
			reader.Close()
			return nil, fmt.Errorf("failed to enable perf event: %w", err)
		}
	}
	return reader, nil
}

func (pr *PerfReader) Name() string {
	return "perf"
}

func (pr *PerfReader) Read(elapsed time.Duration, out []Reading) error {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()

	sums := make(map[int]map[string]uint64)
	var failed int
	for _, e := range pr.events {
		count, err := e.event.ReadCount()
		if err != nil {
			failed++
			continue
		}
		cur := &eventState{value: count.Value, enabled: count.Enabled, running: count.Running}
		if e.last != nil {
			if sums[e.cpu] == nil {
				sums[e.cpu] = make(map[string]uint64)
			}
			sums[e.cpu][e.label] += scaledDelta(e.last, cur)
		}
		e.last = cur
	}

	for cpu, s := range sums {
		if cpu < 0 || cpu >= len(out) {
			continue
		}
		deriveReading(&out[cpu], s, elapsed)
	}
	if failed > 0 {
		return fmt.Errorf("%d perf events could not be read", failed)
	}
	return nil
}

// scaledDelta returns the counter delta corrected for multiplexing in this interval.
func scaledDelta(prev, cur *eventState) uint64 {
	if cur.value < prev.value {
		return 0
	}
	delta := cur.value - prev.value
	deltaEnabled := cur.enabled - prev.enabled
	deltaRunning := cur.running - prev.running
	if deltaRunning > 0 && deltaEnabled > 0 && deltaRunning != deltaEnabled {
		delta = uint64(float64(delta) * float64(deltaEnabled) / float64(deltaRunning))
	}
	return delta
}

// deriveReading computes the hit rate from misses/references and the latency from L3
// miss stall cycles per miss, converted to nanoseconds with the observed cycle rate.
func deriveReading(r *Reading, s map[string]uint64, elapsed time.Duration) {
	misses, refs := s[labelCacheMisses], s[labelCacheRefs]
	if refs > 0 {
		r.CacheHitPct = 100 - min(misses*100/refs, 100)
		r.HasCache = true
	}
	cycles, stalls := s[labelCycles], s[labelStallsL3]
	if misses > 0 && cycles > 0 && stalls > 0 && elapsed > 0 {
		cyclesPerNs := float64(cycles) / float64(elapsed.Nanoseconds())
		r.LatencyNs = uint64(float64(stalls) / float64(misses) / cyclesPerNs)
		r.HasLatency = true
	}
}

func (pr *PerfReader) Close() error {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()
	for _, e := range pr.events {
		if e.event != nil {
			e.event.Close()
		}
	}
	pr.events = nil
	return nil
}
