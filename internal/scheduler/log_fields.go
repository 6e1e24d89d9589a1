package scheduler

import (
	"cxl-sched/internal/logging"
	"cxl-sched/internal/model"

	"github.com/sirupsen/logrus"
)

func taskLogFields(task *model.Task, comm string) logrus.Fields {
	fields := logrus.Fields{
		"task_id":   task.ID,
		"task_type": task.Type.String(),
	}
	if comm != "" {
		fields["comm"] = comm
	}
	if task.Weight != 100 {
		fields["weight"] = task.Weight
	}
	if task.PreferredQueue != model.QueueFallback {
		fields["preferred_queue"] = task.PreferredQueue
	}
	if task.IsBandwidthCritical {
		fields["bandwidth_critical"] = true
	}
	if task.LabelLocked {
		fields["hinted"] = true
	}
	if task.LastCPU >= 0 {
		fields["last_cpu"] = task.LastCPU
	}
	return fields
}

// debugTask logs at debug level only; callbacks run on the hot path.
func debugTask(task *model.Task, comm, msg string, extra logrus.Fields) {
	logger := logging.GetSchedulerLogger()
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	fields := taskLogFields(task, comm)
	for k, v := range extra {
		fields[k] = v
	}
	logger.WithFields(fields).Debug(msg)
}
