package database

import (
	"strings"
	"testing"
	"time"

	"cxl-sched/internal/bandwidth"
	"cxl-sched/internal/host"
	"cxl-sched/internal/model"
	"cxl-sched/internal/scheduler"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestStatsPoints(t *testing.T) {
	at := time.Unix(1700000000, 0)
	st := scheduler.StatsSnapshot{
		Scheduler:     "cxl-bandwidth",
		Tasks:         3,
		Dispatched:    42,
		PerTypeCounts: map[string]uint64{"vectordb": 2, "regular": 1},
		PerCPUMetrics: []bandwidth.View{
			{Index: 0, CXLAttached: true, Metrics: model.CxlMetrics{MemoryBandwidth: 900, MemoryLatencyNs: 210}},
			{Index: 1},
		},
		Tokens: map[string]scheduler.TokenLevels{"read": {Tokens: 10, Capacity: 100}},
	}

	points := statsPoints(5, "c0ffee", st, at)
	if len(points) != 1+2+2 {
		t.Fatalf("got %d points", len(points))
	}

	var lines []string
	for _, p := range points {
		lines = append(lines, write.PointToLineProtocol(p, time.Nanosecond))
	}
	all := strings.Join(lines, "")

	for _, want := range []string{
		"scheduler_stats,config_checksum=c0ffee,run_id=5,scheduler=cxl-bandwidth ",
		"dispatched=42u",
		"tokens_read=10u",
		"scheduler_cpu,config_checksum=c0ffee,cpu=0,cxl_attached=true,run_id=5,scheduler=cxl-bandwidth ",
		"memory_bandwidth_mbps=900u",
		"scheduler_task_types,config_checksum=c0ffee,run_id=5,scheduler=cxl-bandwidth,task_type=vectordb count=2u",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("missing %q in:\n%s", want, all)
		}
	}
}

func TestCollectRunMetadata(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	hc := &host.HostConfig{Hostname: "node1", CPUVendor: "GenuineIntel", NumCPUs: 16, NumSockets: 2}
	meta := CollectRunMetadata(3, "cxl-bandwidth", "1.0.0", "abc", "cfg", hc, start, start.Add(90*time.Second))
	if meta.DurationSeconds != 90 || meta.Hostname != "node1" || meta.TotalCPUs != 16 || meta.Sockets != 2 {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.Started != "2023-11-14T22:13:20Z" {
		t.Fatalf("started = %s", meta.Started)
	}
	if CollectRunMetadata(1, "s", "v", "", "", nil, start, start).Hostname != "" {
		t.Fatal("nil host config must leave host fields empty")
	}
}
