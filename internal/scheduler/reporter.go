package scheduler

import (
	"context"
	"fmt"
	"time"

	"cxl-sched/internal/logging"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// StatsSink persists snapshots produced by the Reporter.
type StatsSink interface {
	Name() string
	Write(ctx context.Context, st StatsSnapshot, at time.Time) error
}

// StatsSource is anything that can produce a snapshot.
type StatsSource interface {
	Stats() StatsSnapshot
}

// Reporter periodically logs scheduler statistics and forwards them to sinks.
type Reporter struct {
	source   StatsSource
	interval time.Duration
	sinks    []StatsSink
	last     StatsSnapshot
	lastAt   time.Time
}

func NewReporter(source StatsSource, interval time.Duration, sinks ...StatsSink) *Reporter {
	return &Reporter{source: source, interval: interval, sinks: sinks}
}

// Run reports every interval until ctx is done, then reports once more.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	warn := logging.NewRateLimited(logging.GetSchedulerLogger(), time.Minute)
	for {
		select {
		case <-ctx.Done():
			flush, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Report(flush, time.Now()); err != nil {
				logging.GetSchedulerLogger().WithError(err).Warn("Final statistics report incomplete")
			}
			cancel()
			return
		case now := <-ticker.C:
			if err := r.Report(ctx, now); err != nil {
				warn.Warn(logrus.Fields{"error": err.Error()}, "Statistics sink failed")
			}
		}
	}
}

// Report takes one snapshot, logs its deltas and writes it to every sink.
func (r *Reporter) Report(ctx context.Context, at time.Time) error {
	st := r.source.Stats()

	fields := logrus.Fields{
		"tasks":            st.Tasks,
		"queued":           st.QueueLength,
		"dispatched":       st.Dispatched - r.last.Dispatched,
		"idle_cycles":      st.IdleCycles - r.last.IdleCycles,
		"admission_denied": st.AdmissionDenied - r.last.AdmissionDenied,
		"stale_samples":    st.StaleSamples - r.last.StaleSamples,
		"missing_context":  st.MissingContextEvents - r.last.MissingContextEvents,
		"global_vtime":     st.GlobalVTime,
	}
	if !r.lastAt.IsZero() {
		if secs := at.Sub(r.lastAt).Seconds(); secs > 0 {
			fields["dispatch_rate"] = fmt.Sprintf("%.1f/s", float64(st.Dispatched-r.last.Dispatched)/secs)
		}
	}
	for name, n := range st.PerTypeCounts {
		if n > 0 {
			fields["type_"+name] = n
		}
	}
	logger := logging.GetSchedulerLogger()
	logger.WithFields(fields).Info("Scheduler statistics")
	if st.OrderingRepairs > r.last.OrderingRepairs {
		logger.WithField("repairs", st.OrderingRepairs-r.last.OrderingRepairs).Warn("Dispatch queue ordering repaired")
	}
	r.last, r.lastAt = st, at

	var errors *multierror.Error
	for _, sink := range r.sinks {
		if err := sink.Write(ctx, st, at); err != nil {
			errors = multierror.Append(errors, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.ErrorOrNil()
}
