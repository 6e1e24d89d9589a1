package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"cxl-sched/internal/bandwidth"
	"cxl-sched/internal/model"
	"cxl-sched/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixedSource scheduler.StatsSnapshot

func (f fixedSource) Stats() scheduler.StatsSnapshot { return scheduler.StatsSnapshot(f) }

var snapshot = fixedSource{
	Tasks:           4,
	Dispatched:      42,
	AdmissionDenied: 3,
	PerTypeCounts:   map[string]uint64{"vectordb": 3, "regular": 1},
	PerCPUMetrics: []bandwidth.View{
		{Index: 0, CXLAttached: true, ActiveTasks: 2, Metrics: model.CxlMetrics{ReadBandwidth: 600, WriteBandwidth: 400, MemoryLatencyNs: 210}},
	},
	Tokens: map[string]scheduler.TokenLevels{"read": {Tokens: 512, Capacity: 1024}},
}

func TestCollector_Counters(t *testing.T) {
	expected := `
# HELP cxl_sched_dispatched_total Tasks dispatched.
# TYPE cxl_sched_dispatched_total counter
cxl_sched_dispatched_total 42
# HELP cxl_sched_admission_denied_total Dispatch attempts refused by the token buckets.
# TYPE cxl_sched_admission_denied_total counter
cxl_sched_admission_denied_total 3
`
	err := testutil.CollectAndCompare(NewCollector(snapshot), strings.NewReader(expected),
		"cxl_sched_dispatched_total", "cxl_sched_admission_denied_total")
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollector_LabelledSeries(t *testing.T) {
	c := NewCollector(snapshot)
	for name, want := range map[string]int{
		"cxl_sched_tasks_by_type":       2,
		"cxl_sched_cpu_bandwidth_mbps":  2,
		"cxl_sched_cpu_cxl_attached":    1,
		"cxl_sched_bucket_tokens_bytes": 1,
	} {
		if got := testutil.CollectAndCount(c, name); got != want {
			t.Errorf("%s: %d series, want %d", name, got, want)
		}
	}
}

func TestHandler(t *testing.T) {
	h, err := Handler(snapshot)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `cxl_sched_cpu_bandwidth_mbps{cpu="0",direction="read"} 600`) {
		t.Fatalf("unexpected exposition:\n%s", body)
	}
}
