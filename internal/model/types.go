package model

// TaskType is the behavioral category of a task.
type TaskType uint8

const (
	TaskTypeUnknown TaskType = iota
	TaskTypeVectorDB
	TaskTypeKworker
	TaskTypeRegular
	TaskTypeLatencySensitive
	TaskTypeReadIntensive
	TaskTypeWriteIntensive
	TaskTypeBandwidthTest

	NumTaskTypes = int(TaskTypeBandwidthTest) + 1
)

var taskTypeNames = [NumTaskTypes]string{
	"unknown",
	"vectordb",
	"kworker",
	"regular",
	"latency_sensitive",
	"read_intensive",
	"write_intensive",
	"bandwidth_test",
}

func (t TaskType) String() string {
	if int(t) < NumTaskTypes {
		return taskTypeNames[t]
	}
	return "invalid"
}

// ParseTaskType maps a configuration name to a TaskType.
func ParseTaskType(name string) (TaskType, bool) {
	for i, n := range taskTypeNames {
		if n == name {
			return TaskType(i), true
		}
	}
	return TaskTypeUnknown, false
}

// IoPattern classifies the read/write byte ratio of a task.
type IoPattern uint8

const (
	IoPatternUnknown IoPattern = iota
	IoPatternReadHeavy
	IoPatternWriteHeavy
	IoPatternMixed
	IoPatternSequential
	IoPatternRandom
)

func (p IoPattern) String() string {
	switch p {
	case IoPatternReadHeavy:
		return "read_heavy"
	case IoPatternWriteHeavy:
		return "write_heavy"
	case IoPatternMixed:
		return "mixed"
	case IoPatternSequential:
		return "sequential"
	case IoPatternRandom:
		return "random"
	}
	return "unknown"
}

// Channel is a bandwidth admission channel.
type Channel uint8

const (
	ChannelRead Channel = iota
	ChannelWrite

	NumChannels = 2
)

func (c Channel) String() string {
	if c == ChannelWrite {
		return "write"
	}
	return "read"
}

// BehaviorHint carries host knowledge about a task. A zero hint means "no opinion".
type BehaviorHint struct {
	Type              TaskType
	LatencySensitive  bool
	BandwidthCritical bool
}

// IsZero reports whether the hint carries no information.
func (h BehaviorHint) IsZero() bool {
	return h.Type == TaskTypeUnknown && !h.LatencySensitive && !h.BandwidthCritical
}

// Task is the per-task scheduling state. It is owned by the engine's task table and
// only touched while the owning slot is locked.
type Task struct {
	ID     int32
	Type   TaskType
	Weight uint64
	VTime  uint64

	Priority              uint32
	PriorityBoost         uint32
	ConsecutiveMigrations uint32
	LastScheduledTime     uint64
	LastStoppedTime       uint64
	LastCPU               int32

	IsBandwidthCritical bool
	NeedsPromotion      bool
	// PreferredQueue is the type shard the task belongs to (see QueueFor).
	PreferredQueue uint32

	// LabelLocked is set when the type came from an explicit hint and must not be
	// re-evaluated from observed behavior.
	LabelLocked bool
	Classified  bool

	ReadHeavyStreak  uint32
	WriteHeavyStreak uint32

	// BandwidthDemand is the byte cost charged against the task's channel at dispatch.
	BandwidthDemand uint64
	Running         bool
	// RunningType is the type accounted on LastCPU while Running.
	RunningType TaskType
}

// Queue shards by task type. Ordering is identical across shards.
const (
	QueueFallback uint32 = iota
	QueueReadIntensive
	QueueWriteIntensive
)

// QueueFor returns the preferred queue shard of a task type.
func QueueFor(t TaskType) uint32 {
	switch t {
	case TaskTypeReadIntensive:
		return QueueReadIntensive
	case TaskTypeWriteIntensive:
		return QueueWriteIntensive
	}
	return QueueFallback
}

// Channel returns the admission channel the task draws from.
func (t *Task) Channel(p IoPattern) Channel {
	if t.Type == TaskTypeWriteIntensive || p == IoPatternWriteHeavy {
		return ChannelWrite
	}
	return ChannelRead
}

// MemoryAccessPattern is the DAMON-like access summary of a task.
type MemoryAccessPattern struct {
	NrAccesses      uint64
	AvgAccessSize   uint64
	TotalAccessTime uint64
	LastAccessTime  uint64
	HotRegions      uint64
	ColdRegions     uint64
	LocalityScore   uint32
	WorkingSetKB    uint32
	ReadBytes       uint64
	WriteBytes      uint64
	IoPattern       IoPattern

	LastSeq uint64
}

// InitialLocalityScore is the neutral starting locality of a new pattern.
const InitialLocalityScore = 50

// NewMemoryAccessPattern returns a pattern in its initial state.
func NewMemoryAccessPattern(now uint64) MemoryAccessPattern {
	return MemoryAccessPattern{
		LastAccessTime: now,
		LocalityScore:  InitialLocalityScore,
	}
}

// CxlMetrics holds the bandwidth/latency view of one CPU.
type CxlMetrics struct {
	MemoryBandwidth uint64 `json:"memory_bandwidth_mbps"`
	CacheHitRate    uint64 `json:"cache_hit_rate_pct"`
	MemoryLatencyNs uint64 `json:"memory_latency_ns"`
	CxlUtilization  uint64 `json:"cxl_utilization_pct"`
	ReadBandwidth   uint64 `json:"read_bandwidth_mbps"`
	WriteBandwidth  uint64 `json:"write_bandwidth_mbps"`
	LastUpdateTime  uint64 `json:"last_update_time_ns"`
}
