package config

const (
	DefaultSliceMs        = 20
	DefaultMaxTasks       = 4096
	DefaultTickMs         = 10
	DefaultReportInterval = 5
	DefaultReadMBps       = 1000
	DefaultWriteMBps      = 500
	DefaultBurstMs        = 1000
	DefaultCollectorMs    = 1000
)

// DefaultRules classify well-known process names. Matching is by prefix of the task
// command name, first match wins.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "vect", Type: "vectordb"},
		{Prefix: "fais", Type: "vectordb"},
		{Prefix: "milv", Type: "vectordb"},
		{Prefix: "weav", Type: "vectordb"},
		{Prefix: "kworker", Type: "kworker"},
		{Prefix: "double_", Type: "bandwidth_test"},
		{Prefix: "band", Type: "bandwidth_test"},
		{Prefix: "memt", Type: "bandwidth_test"},
		{Prefix: "stre", Type: "bandwidth_test"},
	}
}

// ApplyDefaults fills every unset field. It runs before validation.
func ApplyDefaults(c *Config) {
	s := &c.Scheduler
	if s.Name == "" {
		s.Name = "cxl-sched"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.SchedulerLogLevel == "" {
		s.SchedulerLogLevel = s.LogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = "text"
	}
	if s.SliceMs == 0 {
		s.SliceMs = DefaultSliceMs
	}
	if s.MaxTasks == 0 {
		s.MaxTasks = DefaultMaxTasks
	}
	if s.CXLCPUs == "" {
		s.CXLCPUs = "0,1"
	}
	if s.MaxMigrations == 0 {
		s.MaxMigrations = 3
	}
	if s.LoadFactorPercent == 0 {
		s.LoadFactorPercent = 150
	}
	if s.TickMs == 0 {
		s.TickMs = DefaultTickMs
	}
	if s.ReportIntervalS == 0 {
		s.ReportIntervalS = DefaultReportInterval
	}

	cl := &c.Classifier
	if cl.PromotionSamples == 0 {
		cl.PromotionSamples = 5
	}
	if cl.KworkerPromotionThreshold == 0 {
		cl.KworkerPromotionThreshold = 70
	}
	if cl.Rules == nil {
		cl.Rules = DefaultRules()
	}

	a := &c.Access
	if a.ThrashNsPerAccess == 0 {
		a.ThrashNsPerAccess = 500
	}
	if a.ExecReadDivisor == 0 {
		a.ExecReadDivisor = 1000
	}
	if a.ExecWriteDivisor == 0 {
		a.ExecWriteDivisor = 2000
	}

	p := &c.Priority
	if p.BandwidthThreshold == 0 {
		p.BandwidthThreshold = 70
	}
	if p.MoeLocalityThreshold == 0 {
		p.MoeLocalityThreshold = 80
	}
	if p.WakeBoost == 0 {
		p.WakeBoost = 10
	}
	if p.MaxBoost == 0 {
		p.MaxBoost = 40
	}
	if p.BoostDecay == 0 {
		p.BoostDecay = 5
	}

	b := &c.Bandwidth
	if b.Source == "" {
		b.Source = "synthetic"
	}
	if b.ReadSplitPercent == 0 {
		b.ReadSplitPercent = 60
	}
	if b.OptimizedBoostMBps == 0 {
		b.OptimizedBoostMBps = 100
	}
	if b.CXLLatencyThresholdNs == 0 {
		b.CXLLatencyThresholdNs = 150
	}

	tb := &c.TokenBucket
	if tb.Scope == "" {
		tb.Scope = "global"
	}
	if tb.ReadMBps == 0 {
		tb.ReadMBps = DefaultReadMBps
	}
	if tb.WriteMBps == 0 {
		tb.WriteMBps = DefaultWriteMBps
	}
	if tb.BurstMs == 0 {
		tb.BurstMs = DefaultBurstMs
	}

	if c.Collectors.IntervalMs == 0 {
		c.Collectors.IntervalMs = DefaultCollectorMs
	}
}
