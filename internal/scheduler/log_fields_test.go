package scheduler

import (
	"testing"

	"cxl-sched/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func TestTaskLogFields(t *testing.T) {
	task := &model.Task{ID: 7, Type: model.TaskTypeBandwidthTest, Weight: 100, LastCPU: -1, IsBandwidthCritical: true}
	want := logrus.Fields{
		"task_id":            int32(7),
		"task_type":          "bandwidth_test",
		"comm":               "stream",
		"bandwidth_critical": true,
	}
	if diff := cmp.Diff(want, taskLogFields(task, "stream")); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	task = &model.Task{ID: 3, Type: model.TaskTypeRegular, Weight: 200, LastCPU: 2, LabelLocked: true}
	want = logrus.Fields{
		"task_id":   int32(3),
		"task_type": "regular",
		"weight":    uint64(200),
		"hinted":    true,
		"last_cpu":  int32(2),
	}
	if diff := cmp.Diff(want, taskLogFields(task, "")); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	task = &model.Task{ID: 4, Type: model.TaskTypeReadIntensive, Weight: 100, LastCPU: -1, PreferredQueue: model.QueueReadIntensive}
	want = logrus.Fields{
		"task_id":         int32(4),
		"task_type":       "read_intensive",
		"preferred_queue": model.QueueReadIntensive,
	}
	if diff := cmp.Diff(want, taskLogFields(task, "")); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}
