package tokenbucket

import "cxl-sched/internal/model"

// Scope selects whether buckets are shared by all CPUs or kept per CPU.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopePerCPU Scope = "per_cpu"
)

// ChannelConfig sizes one channel's bucket.
type ChannelConfig struct {
	Capacity   uint64
	RefillRate uint64
}

// Config sizes the regulator.
type Config struct {
	Scope Scope
	Read  ChannelConfig
	Write ChannelConfig
}

const mib = 1 << 20

// DefaultConfig admits 1000 MiB/s of reads and 500 MiB/s of writes with one second of burst.
func DefaultConfig() Config {
	return Config{
		Scope: ScopeGlobal,
		Read:  ChannelConfig{Capacity: 1000 * mib, RefillRate: 1000 * mib},
		Write: ChannelConfig{Capacity: 500 * mib, RefillRate: 500 * mib},
	}
}

// Regulator rate-limits bandwidth-critical dispatches per channel.
type Regulator struct {
	scope   Scope
	buckets [][model.NumChannels]*Bucket
}

// NewRegulator builds the bucket set. nrCPUs is only used for per-CPU scope.
func NewRegulator(cfg Config, nrCPUs int, now uint64) *Regulator {
	n := 1
	if cfg.Scope == ScopePerCPU && nrCPUs > 0 {
		n = nrCPUs
	} else {
		cfg.Scope = ScopeGlobal
	}
	r := &Regulator{scope: cfg.Scope, buckets: make([][model.NumChannels]*Bucket, n)}
	for i := range r.buckets {
		r.buckets[i][model.ChannelRead] = NewBucket(cfg.Read.Capacity, cfg.Read.RefillRate, now)
		r.buckets[i][model.ChannelWrite] = NewBucket(cfg.Write.Capacity, cfg.Write.RefillRate, now)
	}
	return r
}

// Scope returns the effective bucket scope.
func (r *Regulator) Scope() Scope {
	return r.scope
}

// Len returns the number of buckets per channel.
func (r *Regulator) Len() int {
	return len(r.buckets)
}

// Bucket returns the bucket serving cpu on channel ch.
func (r *Regulator) Bucket(cpu int32, ch model.Channel) *Bucket {
	idx := 0
	if r.scope == ScopePerCPU && cpu >= 0 && int(cpu) < len(r.buckets) {
		idx = int(cpu)
	}
	return r.buckets[idx][ch]
}

// Refill tops up every bucket.
func (r *Regulator) Refill(now uint64) {
	for i := range r.buckets {
		for _, b := range r.buckets[i] {
			b.Refill(now)
		}
	}
}

// Admit lazily refills the serving bucket and tries to consume bytes from it.
func (r *Regulator) Admit(cpu int32, ch model.Channel, now, bytes uint64) bool {
	return r.Bucket(cpu, ch).AdmitAt(now, bytes)
}

// Capacity returns the capacity of the channel's buckets.
func (r *Regulator) Capacity(ch model.Channel) uint64 {
	return r.buckets[0][ch].Capacity()
}

// Tokens returns the summed token level of a channel across all buckets.
func (r *Regulator) Tokens(ch model.Channel) uint64 {
	var sum uint64
	for i := range r.buckets {
		sum += r.buckets[i][ch].Tokens()
	}
	return sum
}

// Reconfigure applies new channel sizes to every bucket. The scope is fixed at
// construction.
func (r *Regulator) Reconfigure(cfg Config) {
	for i := range r.buckets {
		r.buckets[i][model.ChannelRead].Reconfigure(cfg.Read.Capacity, cfg.Read.RefillRate)
		r.buckets[i][model.ChannelWrite].Reconfigure(cfg.Write.Capacity, cfg.Write.RefillRate)
	}
}
