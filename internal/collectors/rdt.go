package collectors

import (
	"fmt"
	"sync"
	"time"

	"cxl-sched/internal/logging"

	"github.com/intel/goresctrl/pkg/rdt"
)

const mbmTotalBytes = "mbm_total_bytes"

// goresctrl's rdt package is not safe for concurrent use.
var resctrlMu sync.Mutex

// MonSource returns cumulative MBM byte counters per L3 cache id. It abstracts the
// resctrl classes so the bandwidth derivation can be tested without hardware.
type MonSource func() map[uint64]uint64

// RDTReader derives memory bandwidth per L3 domain from resctrl MBM counters and
// reports it for every CPU of the domain.
type RDTReader struct {
	source    MonSource
	cacheOf   []int
	lastBytes map[uint64]uint64
}

// NewRDTReader initializes resctrl and reads MBM totals across all classes.
// cacheOf maps a CPU to its L3 cache id.
func NewRDTReader(cacheOf []int) (*RDTReader, error) {
	resctrlMu.Lock()
	defer resctrlMu.Unlock()
	if err := rdt.Initialize(""); err != nil {
		return nil, fmt.Errorf("failed to initialize RDT: %w", err)
	}
	if !rdt.MonSupported() {
		return nil, fmt.Errorf("RDT monitoring not supported")
	}
	logging.GetLogger().WithField("classes", len(rdt.GetClasses())).Debug("RDT bandwidth reader initialized")
	return newRDTReader(resctrlTotals, cacheOf), nil
}

func newRDTReader(source MonSource, cacheOf []int) *RDTReader {
	return &RDTReader{source: source, cacheOf: cacheOf, lastBytes: make(map[uint64]uint64)}
}

// resctrlTotals sums mbm_total_bytes over every control group per cache id.
func resctrlTotals() map[uint64]uint64 {
	resctrlMu.Lock()
	defer resctrlMu.Unlock()
	totals := make(map[uint64]uint64)
	for _, class := range rdt.GetClasses() {
		monData := class.GetMonData()
		for cacheID, l3Data := range monData.L3 {
			if v, ok := l3Data[mbmTotalBytes]; ok {
				totals[cacheID] += v
			}
		}
	}
	return totals
}

func (rr *RDTReader) Name() string {
	return "rdt"
}

func (rr *RDTReader) Read(elapsed time.Duration, out []Reading) error {
	totals := rr.source()
	if len(totals) == 0 {
		return fmt.Errorf("no MBM data available")
	}
	mbps := make(map[uint64]uint64, len(totals))
	for id, bytes := range totals {
		if last, ok := rr.lastBytes[id]; ok && bytes >= last && elapsed > 0 {
			mbps[id] = (bytes - last) / 1024 * uint64(time.Second) / uint64(elapsed) / 1024
		}
		rr.lastBytes[id] = bytes
	}
	for cpu := range out {
		if cpu >= len(rr.cacheOf) {
			break
		}
		if v, ok := mbps[uint64(rr.cacheOf[cpu])]; ok {
			out[cpu].BandwidthMBps = v
			out[cpu].HasBandwidth = true
		}
	}
	return nil
}

func (rr *RDTReader) Close() error {
	return nil
}
