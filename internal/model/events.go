package model

// EventKind enumerates task lifecycle events.
type EventKind uint8

const (
	EventCreated EventKind = iota
	EventEnqueued
	EventSelectingCPU
	EventRunning
	EventStopping
	EventExited
)

var eventKindNames = [...]string{"created", "enqueued", "selecting_cpu", "running", "stopping", "exited"}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "invalid"
}

// ParseEventKind maps a trace name to an EventKind.
func ParseEventKind(name string) (EventKind, bool) {
	for i, n := range eventKindNames {
		if n == name {
			return EventKind(i), true
		}
	}
	return 0, false
}

// Wake flags understood by the CPU selector.
const (
	WakeFlagSync uint64 = 1 << iota
	WakeFlagWakeup
)

// TaskLifecycleEvent is delivered by the hook layer for every task transition.
type TaskLifecycleEvent struct {
	Kind      EventKind
	TaskID    int32
	PrevCPU   int32
	CPU       int32
	WakeFlags uint64
	Weight    uint64
	SliceUsed uint64
	Runnable  bool
	Comm      string
	Hint      BehaviorHint
}

// PeriodicSample is a memory-access sample from the monitoring path.
type PeriodicSample struct {
	TaskID          int32
	ElapsedNs       uint64
	ReadDeltaBytes  uint64
	WriteDeltaBytes uint64
	// HasIO is false when the producer only knows execution time.
	HasIO bool
	// Seq is a per-task producer sequence; zero disables stale detection.
	Seq uint64
}

// HardwareSample is one reading of a CPU's memory subsystem counters.
type HardwareSample struct {
	CPU            int32
	BandwidthMBps  uint64
	CacheHitPct    uint64
	LatencyNs      uint64
	UtilizationPct uint64
}

// CpuAssignment is the placement decision for a waking task.
type CpuAssignment struct {
	TaskID int32
	CPU    int32
}

// DispatchDecision is the outcome of one dispatch cycle on a CPU.
type DispatchDecision struct {
	CPU    int32
	TaskID int32
	Idle   bool
	Slice  uint64
}
