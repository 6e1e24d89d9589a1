package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestRateLimited_SuppressesRepeats(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	rl := NewRateLimited(l, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warn(logrus.Fields{"cpu": i}, "stale sample")
	}
	rl.Warn(nil, "other message")

	out := buf.String()
	if n := strings.Count(out, "stale sample"); n != 1 {
		t.Fatalf("repeated message logged %d times, want 1:\n%s", n, out)
	}
	if !strings.Contains(out, "other message") {
		t.Fatalf("distinct message must not be limited:\n%s", out)
	}
}

func TestRateLimited_ReportsSuppressedCount(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)

	rl := NewRateLimited(l, 50*time.Millisecond)
	rl.Info(nil, "tick")
	rl.Info(nil, "tick")
	rl.Info(nil, "tick")
	time.Sleep(120 * time.Millisecond)
	rl.Info(nil, "tick")

	if !strings.Contains(buf.String(), "suppressed=2") {
		t.Fatalf("expected suppressed count in output:\n%s", buf.String())
	}
}

func TestRateLimited_WindowEvictsOldest(t *testing.T) {
	rl := NewRateLimited(logrus.New(), time.Hour)
	for i := 0; i < DefaultWindow+10; i++ {
		rl.allow(strings.Repeat("x", i+1))
	}
	if len(rl.limits) != DefaultWindow {
		t.Fatalf("tracked = %d, want %d", len(rl.limits), DefaultWindow)
	}
}
