package access

import (
	"math"
	"math/bits"

	"cxl-sched/internal/model"
)

const (
	maxLocality     = 100
	maxWorkingSetKB = math.MaxUint16

	localityPenalty = 10
	localityReward  = 5
)

// Config controls the tracker heuristics.
type Config struct {
	// ThrashNsPerAccess marks a sample as thrashing when the execution delta exceeds
	// nr_accesses * ThrashNsPerAccess.
	ThrashNsPerAccess uint64
	// Splitter estimates byte deltas for samples without I/O counters. Nil disables it.
	Splitter Splitter
}

// DefaultConfig mirrors the thresholds of the in-kernel tracker.
func DefaultConfig() Config {
	return Config{
		ThrashNsPerAccess: 500,
		Splitter:          ExecTimeSplitter{ReadNsPerByte: 1000, WriteNsPerByte: 2000},
	}
}

// Result reports what a call to Sample did.
type Result uint8

const (
	Applied Result = iota
	Stale
	Missing
)

// Tracker turns raw byte deltas into a per-task access pattern summary.
type Tracker struct {
	cfg Config
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Sample folds one observation into p. It never allocates.
func (t *Tracker) Sample(p *model.MemoryAccessPattern, now uint64, s model.PeriodicSample) Result {
	if p == nil {
		return Missing
	}
	if s.Seq != 0 {
		if s.Seq <= p.LastSeq {
			return Stale
		}
		p.LastSeq = s.Seq
	}

	p.NrAccesses++
	p.LastAccessTime = now
	p.TotalAccessTime = satAdd(p.TotalAccessTime, s.ElapsedNs)

	readDelta, writeDelta := s.ReadDeltaBytes, s.WriteDeltaBytes
	if !s.HasIO && t.cfg.Splitter != nil {
		readDelta, writeDelta = t.cfg.Splitter.Split(p, s.ElapsedNs)
	}
	p.ReadBytes = satAdd(p.ReadBytes, readDelta)
	p.WriteBytes = satAdd(p.WriteBytes, writeDelta)

	touched := satAdd(readDelta, writeDelta)
	if touched >= p.AvgAccessSize {
		p.HotRegions++
	} else {
		p.ColdRegions++
	}
	p.AvgAccessSize = ewma(p.AvgAccessSize, touched)
	p.WorkingSetKB = uint32(min(ewma(uint64(p.WorkingSetKB), touched/1024), maxWorkingSetKB))

	p.IoPattern = ClassifyIO(p.ReadBytes, p.WriteBytes)

	if t.thrashing(p, s.ElapsedNs) {
		if p.LocalityScore > localityPenalty {
			p.LocalityScore -= localityPenalty
		} else {
			p.LocalityScore = 0
		}
	} else {
		p.LocalityScore = min(p.LocalityScore+localityReward, maxLocality)
	}
	if p.IoPattern == model.IoPatternReadHeavy || p.IoPattern == model.IoPatternWriteHeavy {
		p.LocalityScore = min(p.LocalityScore+localityReward, maxLocality)
	}
	return Applied
}

func (t *Tracker) thrashing(p *model.MemoryAccessPattern, execDelta uint64) bool {
	hi, lo := bits.Mul64(p.NrAccesses, t.cfg.ThrashNsPerAccess)
	return hi == 0 && execDelta > lo
}

// ClassifyIO maps accumulated byte counts to an IoPattern:
// ReadHeavy if read/total > 0.80, WriteHeavy if read/total < 0.20, Mixed otherwise and
// Unknown when nothing was transferred. The comparison is exact.
func ClassifyIO(readBytes, writeBytes uint64) model.IoPattern {
	totalLo, totalHi := bits.Add64(readBytes, writeBytes, 0)
	if totalLo == 0 && totalHi == 0 {
		return model.IoPatternUnknown
	}
	// 5*read vs 4*total and 5*read vs total
	r5hi, r5lo := bits.Mul64(readBytes, 5)
	t4hi := totalHi<<2 | totalLo>>62
	t4lo := totalLo << 2
	switch {
	case greater128(r5hi, r5lo, t4hi, t4lo):
		return model.IoPatternReadHeavy
	case greater128(totalHi, totalLo, r5hi, r5lo):
		return model.IoPatternWriteHeavy
	}
	return model.IoPatternMixed
}

func greater128(ahi, alo, bhi, blo uint64) bool {
	return ahi > bhi || (ahi == bhi && alo > blo)
}

func ewma(old, sample uint64) uint64 {
	return old - old>>2 + sample>>2
}

func satAdd(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return s
}
