package config

import (
	"time"
)

// Config is the host-owned configuration of the scheduler daemon.
type Config struct {
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Access      AccessConfig      `yaml:"access"`
	Priority    PriorityConfig    `yaml:"priority"`
	Bandwidth   BandwidthConfig   `yaml:"bandwidth"`
	TokenBucket TokenBucketConfig `yaml:"token_bucket"`
	Collectors  CollectorConfig   `yaml:"collectors"`
	Data        DataConfig        `yaml:"data"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type SchedulerConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// SchedulerLogLevel controls the statistics reporter output.
	SchedulerLogLevel string `yaml:"scheduler_log_level"`
	LogFormat         string `yaml:"log_format"`
	SliceMs           int    `yaml:"slice_ms"`
	MaxTasks          int    `yaml:"max_tasks"`
	// CPUs is a cpu list spec ("0-7"); empty means every online CPU.
	CPUs              string `yaml:"cpus,omitempty"`
	CXLCPUs           string `yaml:"cxl_cpus"`
	MaxMigrations     int    `yaml:"max_migrations"`
	LoadFactorPercent int    `yaml:"load_factor_percent"`
	TickMs            int    `yaml:"tick_ms"`
	ReportIntervalS   int    `yaml:"report_interval_s"`

	// Parsed from CPUs / CXLCPUs
	CPUList    []int `yaml:"-"`
	CXLCPUList []int `yaml:"-"`
}

type ClassifierConfig struct {
	PromotionSamples          int    `yaml:"promotion_samples"`
	KworkerPromotionThreshold int    `yaml:"kworker_promotion_threshold"`
	DockerHints               bool   `yaml:"docker_hints"`
	Rules                     []Rule `yaml:"rules"`
}

// Rule maps a task name prefix to a classification hint.
type Rule struct {
	Prefix            string `yaml:"prefix"`
	Type              string `yaml:"type"`
	LatencySensitive  bool   `yaml:"latency_sensitive,omitempty"`
	BandwidthCritical bool   `yaml:"bandwidth_critical,omitempty"`
}

type AccessConfig struct {
	ThrashNsPerAccess int `yaml:"thrash_ns_per_access"`
	ExecReadDivisor   int `yaml:"exec_read_divisor"`
	ExecWriteDivisor  int `yaml:"exec_write_divisor"`
}

type PriorityConfig struct {
	BandwidthThreshold   int `yaml:"bandwidth_threshold"`
	MoeLocalityThreshold int `yaml:"moe_locality_threshold"`
	WakeBoost            int `yaml:"wake_boost"`
	MaxBoost             int `yaml:"max_boost"`
	BoostDecay           int `yaml:"boost_decay"`
}

type BandwidthConfig struct {
	// Source selects the hardware metric source: synthetic, hardware or static.
	Source                string `yaml:"source"`
	ReadSplitPercent      int    `yaml:"read_split_percent"`
	OptimizedBoostMBps    int    `yaml:"optimized_boost_mbps"`
	CXLLatencyThresholdNs int    `yaml:"cxl_latency_threshold_ns"`
}

type TokenBucketConfig struct {
	Scope     string `yaml:"scope"`
	ReadMBps  int    `yaml:"read_mbps"`
	WriteMBps int    `yaml:"write_mbps"`
	// BurstMs is the bucket capacity expressed as milliseconds of refill.
	BurstMs int `yaml:"burst_ms"`
}

type CollectorConfig struct {
	IntervalMs int  `yaml:"interval_ms"`
	Perf       bool `yaml:"perf"`
	RDT        bool `yaml:"rdt"`
}

type DataConfig struct {
	DB       DatabaseConfig `yaml:"db"`
	SpoolDir string         `yaml:"spool_dir,omitempty"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// Enabled reports whether an InfluxDB sink is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

func (c *Config) Slice() time.Duration {
	return time.Duration(c.Scheduler.SliceMs) * time.Millisecond
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickMs) * time.Millisecond
}

func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Scheduler.ReportIntervalS) * time.Second
}

func (c *Config) CollectorInterval() time.Duration {
	return time.Duration(c.Collectors.IntervalMs) * time.Millisecond
}
