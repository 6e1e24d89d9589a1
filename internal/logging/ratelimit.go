package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	goxrate "golang.org/x/time/rate"
)

// DefaultWindow is the number of distinct messages tracked by a RateLimited logger.
const DefaultWindow = 256

// RateLimited suppresses repeats of the same message beyond a fixed rate. Suppressed
// repeats are counted and reported with the next message that gets through.
type RateLimited struct {
	log    logrus.FieldLogger
	limit  goxrate.Limit
	burst  int
	mu     sync.Mutex
	window []string
	limits map[string]*limited
}

type limited struct {
	lim        *goxrate.Limiter
	suppressed uint64
}

// NewRateLimited lets each distinct message through at most once per interval.
func NewRateLimited(log logrus.FieldLogger, interval time.Duration) *RateLimited {
	if log == nil {
		log = GetLogger()
	}
	return &RateLimited{
		log:    log,
		limit:  goxrate.Every(interval),
		burst:  1,
		window: make([]string, 0, DefaultWindow),
		limits: make(map[string]*limited),
	}
}

// Warn logs msg with fields unless it is being rate limited.
func (rl *RateLimited) Warn(fields logrus.Fields, msg string) {
	if n, ok := rl.allow(msg); ok {
		rl.entry(fields, n).Warn(msg)
	}
}

// Info logs msg with fields unless it is being rate limited.
func (rl *RateLimited) Info(fields logrus.Fields, msg string) {
	if n, ok := rl.allow(msg); ok {
		rl.entry(fields, n).Info(msg)
	}
}

func (rl *RateLimited) entry(fields logrus.Fields, suppressed uint64) *logrus.Entry {
	e := rl.log.WithFields(fields)
	if suppressed > 0 {
		e = e.WithField("suppressed", suppressed)
	}
	return e
}

func (rl *RateLimited) allow(msg string) (uint64, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limits[msg]
	if !ok {
		if len(rl.window) == DefaultWindow {
			delete(rl.limits, rl.window[0])
			copy(rl.window, rl.window[1:])
			rl.window = rl.window[:len(rl.window)-1]
		}
		rl.window = append(rl.window, msg)
		l = &limited{lim: goxrate.NewLimiter(rl.limit, rl.burst)}
		rl.limits[msg] = l
	}
	if !l.lim.Allow() {
		l.suppressed++
		return 0, false
	}
	n := l.suppressed
	l.suppressed = 0
	return n, true
}
