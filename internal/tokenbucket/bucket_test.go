package tokenbucket

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"cxl-sched/internal/model"
)

func TestBucket_AdmissionScenario(t *testing.T) {
	b := NewBucket(1000, 0, 0)

	if b.Admit(1500) {
		t.Fatalf("admit(1500) with 1000 tokens must fail")
	}
	if got := b.Tokens(); got != 1000 {
		t.Fatalf("failed admission changed tokens to %d", got)
	}
	if !b.Admit(500) {
		t.Fatalf("admit(500) with 1000 tokens must succeed")
	}
	if got := b.Tokens(); got != 500 {
		t.Fatalf("tokens = %d, want 500", got)
	}
	b.Refill(1_000_000_000)
	if got := b.Tokens(); got != 500 {
		t.Fatalf("zero refill rate changed tokens to %d", got)
	}
}

func TestBucket_RefillRate(t *testing.T) {
	b := NewBucket(1000, 100, 0) // 100 tokens/s
	if !b.Admit(1000) {
		t.Fatalf("expected full bucket")
	}
	b.Refill(500_000_000)
	if got := b.Tokens(); got != 50 {
		t.Fatalf("after 0.5s tokens = %d, want 50", got)
	}
	// Many tiny refills must add up thanks to the remainder carry.
	for now := uint64(500_000_000); now < 1_500_000_000; now += 1_000_000 {
		b.Refill(now + 1_000_000)
	}
	if got := b.Tokens(); got != 150 {
		t.Fatalf("after 1.5s of small refills tokens = %d, want 150", got)
	}
	b.Refill(math.MaxUint64)
	if got := b.Tokens(); got != 1000 {
		t.Fatalf("huge interval must saturate at capacity, got %d", got)
	}
}

func TestBucket_TimeGoingBackwardsIsIgnored(t *testing.T) {
	b := NewBucket(100, 1_000_000_000, 1000)
	b.Admit(100)
	b.Refill(500)
	if got := b.Tokens(); got != 0 {
		t.Fatalf("refill into the past added tokens: %d", got)
	}
}

func TestBucket_TokensStayInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := NewBucket(10_000, 3_333, 0)
	now := uint64(0)
	for i := 0; i < 20000; i++ {
		now += uint64(rng.Intn(50_000_000))
		n := uint64(rng.Intn(12_000))
		before := b.Tokens()
		ok := b.Admit(n)
		after := b.Tokens()
		if n > before && (ok || after != before) {
			t.Fatalf("admit(%d) with %d tokens: ok=%v after=%d", n, before, ok, after)
		}
		if rng.Intn(3) == 0 {
			b.Refill(now)
		}
		if got := b.Tokens(); got > b.Capacity() {
			t.Fatalf("tokens %d exceed capacity", got)
		}
	}
}

func TestBucket_ConcurrentAdmitNeverOverdraws(t *testing.T) {
	b := NewBucket(10_000, 0, 0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := uint64(0)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if b.Admit(7) {
					mu.Lock()
					admitted += 7
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if admitted+b.Tokens() != 10_000 {
		t.Fatalf("admitted %d + remaining %d != capacity", admitted, b.Tokens())
	}
}

func TestBucket_ReconfigureClamps(t *testing.T) {
	b := NewBucket(1000, 0, 0)
	b.Reconfigure(300, 10)
	if got := b.Tokens(); got != 300 {
		t.Fatalf("tokens = %d, want clamp to 300", got)
	}
}

func TestRegulator_Scopes(t *testing.T) {
	cfg := Config{
		Scope: ScopePerCPU,
		Read:  ChannelConfig{Capacity: 100},
		Write: ChannelConfig{Capacity: 50},
	}
	r := NewRegulator(cfg, 4, 0)
	if !r.Admit(0, model.ChannelRead, 0, 100) {
		t.Fatalf("cpu 0 read bucket should admit")
	}
	if r.Admit(0, model.ChannelRead, 0, 1) {
		t.Fatalf("cpu 0 read bucket should be empty")
	}
	if !r.Admit(1, model.ChannelRead, 0, 100) {
		t.Fatalf("cpu 1 has its own read bucket")
	}
	if r.Admit(2, model.ChannelWrite, 0, 51) {
		t.Fatalf("write bucket capacity is 50")
	}
	if got := r.Tokens(model.ChannelRead); got != 200 {
		t.Fatalf("summed read tokens = %d, want 200", got)
	}

	g := NewRegulator(Config{Scope: "bogus", Read: ChannelConfig{Capacity: 10}}, 4, 0)
	if g.Scope() != ScopeGlobal {
		t.Fatalf("unknown scope should fall back to global, got %q", g.Scope())
	}
	if g.Bucket(0, model.ChannelRead) != g.Bucket(3, model.ChannelRead) {
		t.Fatalf("global scope must share buckets")
	}
}
