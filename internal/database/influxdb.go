package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cxl-sched/internal/config"
	"cxl-sched/internal/host"
	"cxl-sched/internal/logging"
	"cxl-sched/internal/scheduler"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	measurementStats = "scheduler_stats"
	measurementCPU   = "scheduler_cpu"
	measurementTypes = "scheduler_task_types"
	measurementMeta  = "scheduler_meta"
)

// RunMetadata describes one scheduler run.
type RunMetadata struct {
	RunID            int    `json:"run_id"`
	Scheduler        string `json:"scheduler"`
	SchedulerVersion string `json:"scheduler_version"`
	Started          string `json:"started"`  // RFC3339 timestamp
	Finished         string `json:"finished"` // RFC3339 timestamp
	DurationSeconds  int64  `json:"duration_seconds"`
	Hostname         string `json:"hostname"`
	KernelVersion    string `json:"kernel_version"`
	CPUVendor        string `json:"cpu_vendor"`
	CPUModel         string `json:"cpu_model"`
	TotalCPUs        int    `json:"total_cpus"`
	Sockets          int    `json:"sockets"`
	ConfigChecksum   string `json:"config_checksum"`
	ConfigFile       string `json:"config_file"`
}

// CollectRunMetadata fills run metadata from the host description.
func CollectRunMetadata(runID int, name, version, checksum, configContent string, hc *host.HostConfig, start, end time.Time) *RunMetadata {
	meta := &RunMetadata{
		RunID:            runID,
		Scheduler:        name,
		SchedulerVersion: version,
		Started:          start.Format(time.RFC3339),
		Finished:         end.Format(time.RFC3339),
		DurationSeconds:  int64(end.Sub(start).Seconds()),
		ConfigChecksum:   checksum,
		ConfigFile:       configContent,
	}
	if hc != nil {
		meta.Hostname = hc.Hostname
		meta.KernelVersion = hc.KernelVersion
		meta.CPUVendor = hc.CPUVendor
		meta.CPUModel = hc.CPUModel
		meta.TotalCPUs = hc.NumCPUs
		meta.Sockets = hc.NumSockets
	}
	return meta
}

// InfluxSink writes scheduler statistics to InfluxDB.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
	runID    int
	checksum string
}

// NewInfluxSink connects and health-checks the database. Points are tagged with the
// run id assigned later via SetRun.
func NewInfluxSink(ctx context.Context, cfg config.DatabaseConfig) (*InfluxSink, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": msg,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is unhealthy: %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

// SetRun sets the run id and config checksum tagged onto every point.
func (s *InfluxSink) SetRun(runID int, checksum string) {
	s.runID, s.checksum = runID, checksum
}

func (s *InfluxSink) Name() string {
	return "influxdb"
}

// LastRunID returns the highest run id written in the last 30 days, or 0.
func (s *InfluxSink) LastRunID(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "%s")
		|> distinct(column: "run_id")
		|> map(fn: (r) => ({_value: int(v: r.run_id)}))
		|> max()
		|> yield(name: "max_run_id")
	`, s.bucket, measurementStats)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}
	defer result.Close()

	maxID := 0
	for result.Next() {
		if id, ok := result.Record().Value().(int64); ok && int(id) > maxID {
			maxID = int(id)
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}
	return maxID, nil
}

// Write stores one snapshot.
func (s *InfluxSink) Write(ctx context.Context, st scheduler.StatsSnapshot, at time.Time) error {
	points := statsPoints(s.runID, s.checksum, st, at)
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write data points: %w", err)
	}
	return nil
}

// WriteMetadata stores the run description.
func (s *InfluxSink) WriteMetadata(ctx context.Context, meta *RunMetadata) error {
	point := influxdb2.NewPoint(measurementMeta,
		map[string]string{
			"run_id": strconv.Itoa(meta.RunID),
		},
		map[string]interface{}{
			"scheduler":         meta.Scheduler,
			"scheduler_version": meta.SchedulerVersion,
			"started":           meta.Started,
			"finished":          meta.Finished,
			"duration_seconds":  meta.DurationSeconds,
			"hostname":          meta.Hostname,
			"kernel_version":    meta.KernelVersion,
			"cpu_vendor":        meta.CPUVendor,
			"cpu_model":         meta.CPUModel,
			"total_cpus":        meta.TotalCPUs,
			"sockets":           meta.Sockets,
			"config_checksum":   meta.ConfigChecksum,
			"config_file":       meta.ConfigFile,
		},
		time.Now())

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// statsPoints converts a snapshot into one counters point, one point per CPU and one
// point per task type.
func statsPoints(runID int, checksum string, st scheduler.StatsSnapshot, at time.Time) []*write.Point {
	base := map[string]string{
		"run_id":          strconv.Itoa(runID),
		"scheduler":       st.Scheduler,
		"config_checksum": checksum,
	}
	tags := func(extra ...string) map[string]string {
		out := make(map[string]string, len(base)+len(extra)/2)
		for k, v := range base {
			out[k] = v
		}
		for i := 0; i+1 < len(extra); i += 2 {
			out[extra[i]] = extra[i+1]
		}
		return out
	}

	points := make([]*write.Point, 0, 1+len(st.PerCPUMetrics)+len(st.PerTypeCounts))

	fields := map[string]interface{}{
		"tasks":                  st.Tasks,
		"queue_length":           st.QueueLength,
		"global_vtime":           st.GlobalVTime,
		"dispatched":             st.Dispatched,
		"idle_cycles":            st.IdleCycles,
		"admission_denied":       st.AdmissionDenied,
		"missing_context_events": st.MissingContextEvents,
		"stale_samples":          st.StaleSamples,
		"ordering_repairs":       st.OrderingRepairs,
	}
	for ch, lvl := range st.Tokens {
		fields["tokens_"+ch] = lvl.Tokens
		fields["capacity_"+ch] = lvl.Capacity
	}
	points = append(points, influxdb2.NewPoint(measurementStats, tags(), fields, at))

	for _, v := range st.PerCPUMetrics {
		points = append(points, influxdb2.NewPoint(measurementCPU,
			tags("cpu", strconv.Itoa(int(v.Index)), "cxl_attached", strconv.FormatBool(v.CXLAttached)),
			map[string]interface{}{
				"memory_bandwidth_mbps": v.Metrics.MemoryBandwidth,
				"read_bandwidth_mbps":   v.Metrics.ReadBandwidth,
				"write_bandwidth_mbps":  v.Metrics.WriteBandwidth,
				"cache_hit_rate_pct":    v.Metrics.CacheHitRate,
				"memory_latency_ns":     v.Metrics.MemoryLatencyNs,
				"cxl_utilization_pct":   v.Metrics.CxlUtilization,
				"active_tasks":          v.ActiveTasks,
				"active_read_tasks":     v.ActiveReadTasks,
				"active_write_tasks":    v.ActiveWriteTasks,
				"read_optimized":        v.ReadOptimized,
				"write_optimized":       v.WriteOptimized,
				"idle":                  v.Idle,
			},
			at))
	}

	for typ, n := range st.PerTypeCounts {
		points = append(points, influxdb2.NewPoint(measurementTypes,
			tags("task_type", typ),
			map[string]interface{}{"count": n},
			at))
	}
	return points
}
