package cpuselect

import (
	"cxl-sched/internal/bandwidth"
	"cxl-sched/internal/model"
)

// MaxCandidates bounds the scan on the wake path.
const MaxCandidates = 8

// Config controls VectorDB placement.
type Config struct {
	// Candidates are the CXL-attached CPUs scanned for VectorDB tasks, in order.
	Candidates []int32
	// MaxMigrations pins a task to its previous CPU once it has moved this many times
	// in a row.
	MaxMigrations uint32
	// LoadFactorPercent skips candidates busier than this share of the average load.
	LoadFactorPercent uint64
}

func DefaultConfig() Config {
	return Config{Candidates: []int32{0, 1}, MaxMigrations: 3, LoadFactorPercent: 150}
}

// Selector picks a CPU for a waking task.
type Selector struct {
	candidates []int32
	maxMig     uint32
	loadFactor uint64
}

func New(cfg Config) *Selector {
	c := cfg.Candidates
	if len(c) > MaxCandidates {
		c = c[:MaxCandidates]
	}
	if cfg.LoadFactorPercent == 0 {
		cfg.LoadFactorPercent = 150
	}
	return &Selector{
		candidates: append([]int32(nil), c...),
		maxMig:     cfg.MaxMigrations,
		loadFactor: cfg.LoadFactorPercent,
	}
}

// Candidates returns a copy of the scanned CPU list.
func (s *Selector) Candidates() []int32 {
	return append([]int32(nil), s.candidates...)
}

// Select returns the CPU the task should wake on and updates its migration counter.
// Only VectorDB tasks are steered; everything else, and every case where no candidate
// qualifies, stays on prevCPU. prevCPU is returned unchanged even if it is invalid.
// A migration raises the counter by one and a stay lowers it by one, so a task that
// keeps hitting the cap migrates on at most every other wake.
func (s *Selector) Select(task *model.Task, prevCPU int32, cpus []*bandwidth.CpuContext) int32 {
	if task == nil {
		return prevCPU
	}
	cpu := prevCPU
	if task.Type == model.TaskTypeVectorDB && task.ConsecutiveMigrations <= s.maxMig {
		if c, ok := s.scan(cpus); ok {
			cpu = c
		}
	}
	if cpu != prevCPU {
		task.ConsecutiveMigrations++
	} else if task.ConsecutiveMigrations > 0 {
		task.ConsecutiveMigrations--
	}
	return cpu
}

func (s *Selector) scan(cpus []*bandwidth.CpuContext) (int32, bool) {
	if len(cpus) == 0 {
		return 0, false
	}
	var total int64
	for _, c := range cpus {
		if c != nil {
			total += int64(c.ActiveTotal())
		}
	}
	n := int64(len(cpus))

	for _, idx := range s.candidates {
		if idx < 0 || int(idx) >= len(cpus) {
			continue
		}
		c := cpus[idx]
		if c == nil || !c.CXLAttached() {
			continue
		}
		// active > average * loadFactor / 100
		if int64(c.ActiveTotal())*n*100 > total*int64(s.loadFactor) {
			continue
		}
		if c.ClaimIdle() {
			return idx, true
		}
	}
	return 0, false
}
