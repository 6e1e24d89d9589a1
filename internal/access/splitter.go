package access

import "cxl-sched/internal/model"

// Splitter estimates read and write byte deltas when only execution time is known.
type Splitter interface {
	Split(p *model.MemoryAccessPattern, execNs uint64) (readDelta, writeDelta uint64)
}

// ExecTimeSplitter is an approximation, not a measurement: a sample whose execution
// delta is long relative to the access count is booked as reads, otherwise as writes.
type ExecTimeSplitter struct {
	ReadNsPerByte  uint64
	WriteNsPerByte uint64
}

func (s ExecTimeSplitter) Split(p *model.MemoryAccessPattern, execNs uint64) (uint64, uint64) {
	if execNs == 0 || s.ReadNsPerByte == 0 || s.WriteNsPerByte == 0 {
		return 0, 0
	}
	if execNs > p.NrAccesses*1000 {
		return execNs / s.ReadNsPerByte, 0
	}
	return 0, execNs / s.WriteNsPerByte
}
