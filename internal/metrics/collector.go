// Package metrics exports scheduler statistics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"cxl-sched/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cxl_sched"

// descriptor indices
const (
	tasksDesc = iota
	queueLengthDesc
	globalVTimeDesc
	dispatchedDesc
	idleCyclesDesc
	admissionDeniedDesc
	missingContextDesc
	staleSamplesDesc
	orderingRepairsDesc
	taskTypeDesc
	tokensDesc
	tokenCapacityDesc
	cpuBandwidthDesc
	cpuLatencyDesc
	cpuCacheHitDesc
	cpuUtilizationDesc
	cpuActiveDesc
	cpuCXLDesc
	numDescriptors
)

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

var descriptors = [numDescriptors]*prometheus.Desc{
	tasksDesc:           desc("tasks", "Tasks tracked by the scheduler."),
	queueLengthDesc:     desc("queue_length", "Entries waiting in the dispatch queue."),
	globalVTimeDesc:     desc("global_vtime", "Global virtual time in nanoseconds."),
	dispatchedDesc:      desc("dispatched_total", "Tasks dispatched."),
	idleCyclesDesc:      desc("idle_cycles_total", "Dispatch cycles that found nothing runnable."),
	admissionDeniedDesc: desc("admission_denied_total", "Dispatch attempts refused by the token buckets."),
	missingContextDesc:  desc("missing_context_events_total", "Callbacks for unknown tasks or CPUs."),
	staleSamplesDesc:    desc("stale_samples_total", "Out-of-order access samples ignored."),
	orderingRepairsDesc: desc("ordering_repairs_total", "Dispatch queue ordering inversions repaired."),
	taskTypeDesc:        desc("tasks_by_type", "Tasks per classification.", "type"),
	tokensDesc:          desc("bucket_tokens_bytes", "Tokens available per channel.", "channel"),
	tokenCapacityDesc:   desc("bucket_capacity_bytes", "Token capacity per channel.", "channel"),
	cpuBandwidthDesc:    desc("cpu_bandwidth_mbps", "Memory bandwidth per CPU and direction.", "cpu", "direction"),
	cpuLatencyDesc:      desc("cpu_memory_latency_ns", "Memory latency per CPU.", "cpu"),
	cpuCacheHitDesc:     desc("cpu_cache_hit_rate_percent", "Cache hit rate per CPU.", "cpu"),
	cpuUtilizationDesc:  desc("cpu_cxl_utilization_percent", "CXL utilization per CPU.", "cpu"),
	cpuActiveDesc:       desc("cpu_active_tasks", "Running tasks per CPU.", "cpu"),
	cpuCXLDesc:          desc("cpu_cxl_attached", "1 when the CPU shows CXL latency.", "cpu"),
}

type collector struct {
	source scheduler.StatsSource
}

// NewCollector creates a Prometheus collector reading snapshots from source.
func NewCollector(source scheduler.StatsSource) prometheus.Collector {
	return &collector{source: source}
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()

	gauge := func(d int, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(descriptors[d], prometheus.GaugeValue, v, labels...)
	}
	counter := func(d int, v uint64) {
		ch <- prometheus.MustNewConstMetric(descriptors[d], prometheus.CounterValue, float64(v))
	}

	gauge(tasksDesc, float64(st.Tasks))
	gauge(queueLengthDesc, float64(st.QueueLength))
	gauge(globalVTimeDesc, float64(st.GlobalVTime))
	counter(dispatchedDesc, st.Dispatched)
	counter(idleCyclesDesc, st.IdleCycles)
	counter(admissionDeniedDesc, st.AdmissionDenied)
	counter(missingContextDesc, st.MissingContextEvents)
	counter(staleSamplesDesc, st.StaleSamples)
	counter(orderingRepairsDesc, st.OrderingRepairs)

	for typ, n := range st.PerTypeCounts {
		gauge(taskTypeDesc, float64(n), typ)
	}
	for channel, lvl := range st.Tokens {
		gauge(tokensDesc, float64(lvl.Tokens), channel)
		gauge(tokenCapacityDesc, float64(lvl.Capacity), channel)
	}
	for _, v := range st.PerCPUMetrics {
		cpu := strconv.Itoa(int(v.Index))
		gauge(cpuBandwidthDesc, float64(v.Metrics.ReadBandwidth), cpu, "read")
		gauge(cpuBandwidthDesc, float64(v.Metrics.WriteBandwidth), cpu, "write")
		gauge(cpuLatencyDesc, float64(v.Metrics.MemoryLatencyNs), cpu)
		gauge(cpuCacheHitDesc, float64(v.Metrics.CacheHitRate), cpu)
		gauge(cpuUtilizationDesc, float64(v.Metrics.CxlUtilization), cpu)
		gauge(cpuActiveDesc, float64(v.ActiveTasks), cpu)
		attached := 0.0
		if v.CXLAttached {
			attached = 1
		}
		gauge(cpuCXLDesc, attached, cpu)
	}
}

// Handler registers a collector for source on a fresh registry and returns the
// /metrics handler serving it.
func Handler(source scheduler.StatsSource) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
