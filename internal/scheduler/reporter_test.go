package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu    sync.Mutex
	name  string
	err   error
	got   []StatsSnapshot
	times []time.Time
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, st StatsSnapshot, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, st)
	s.times = append(s.times, at)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestReporter_ReportWritesEverySink(t *testing.T) {
	e := newTestEngine(t, 1, nil)
	e.Enqueue(1, "app", 0, testNow)
	e.Dispatch(0, testNow)

	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("unreachable")}
	r := NewReporter(e, time.Second, ok, bad)

	at := time.Unix(1700000000, 0)
	err := r.Report(context.Background(), at)
	if err == nil || !strings.Contains(err.Error(), "bad: unreachable") {
		t.Fatalf("err = %v", err)
	}
	if ok.count() != 1 || bad.count() != 1 {
		t.Fatalf("sinks written %d/%d times", ok.count(), bad.count())
	}
	if ok.got[0].Dispatched != 1 || !ok.times[0].Equal(at) {
		t.Fatalf("snapshot = %+v at %v", ok.got[0], ok.times[0])
	}
}

func TestReporter_RunFlushesOnCancel(t *testing.T) {
	e := newTestEngine(t, 1, nil)
	sink := &recordingSink{name: "mem"}
	r := NewReporter(e, time.Hour, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not stop")
	}
	if sink.count() != 1 {
		t.Fatalf("final flush wrote %d snapshots, want 1", sink.count())
	}
}
