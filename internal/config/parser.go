package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"cxl-sched/internal/logging"
	"cxl-sched/internal/model"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MaxCXLCPUs bounds the CPU selector's candidate list.
const MaxCXLCPUs = 8

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func LoadConfig(filepath string) (*Config, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

// LoadConfigWithContent parses the file and also returns its unexpanded content.
func LoadConfigWithContent(filepath string) (*Config, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	config, err := Parse([]byte(originalContent))
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to load config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// Parse expands environment variables, decodes YAML, fills defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ApplyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// ParseCPUSpec parses CPU lists like "0", "0,2,4", or "0-3,8".
func ParseCPUSpec(spec string) ([]int, error) {
	var cpus []int
	seen := make(map[int]bool)

	parts := strings.Split(spec, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid CPU range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range start: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range end: %s", rangeParts[1])
			}

			if start > end {
				return nil, fmt.Errorf("invalid CPU range: start > end (%d > %d)", start, end)
			}

			for i := start; i <= end; i++ {
				if !seen[i] {
					cpus = append(cpus, i)
					seen[i] = true
				}
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU number: %s", part)
			}
			if cpu < 0 {
				return nil, fmt.Errorf("invalid CPU number: %s", part)
			}

			if !seen[cpu] {
				cpus = append(cpus, cpu)
				seen[cpu] = true
			}
		}
	}

	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs specified")
	}

	return cpus, nil
}

// validateConfig reports every problem at once and fills the parsed CPU lists.
func validateConfig(config *Config) error {
	var errors *multierror.Error
	s := &config.Scheduler

	if s.SliceMs < 0 {
		errors = multierror.Append(errors, fmt.Errorf("scheduler.slice_ms must be greater than 0"))
	}
	if s.MaxTasks < 0 {
		errors = multierror.Append(errors, fmt.Errorf("scheduler.max_tasks must be greater than 0"))
	}
	if s.TickMs < 0 || s.ReportIntervalS < 0 {
		errors = multierror.Append(errors, fmt.Errorf("scheduler intervals must be positive"))
	}
	if s.MaxMigrations < 0 {
		errors = multierror.Append(errors, fmt.Errorf("scheduler.max_migrations must not be negative"))
	}
	if s.LoadFactorPercent < 100 {
		errors = multierror.Append(errors, fmt.Errorf("scheduler.load_factor_percent must be at least 100, got %d", s.LoadFactorPercent))
	}
	if s.CPUs != "" {
		cpus, err := ParseCPUSpec(s.CPUs)
		if err != nil {
			errors = multierror.Append(errors, fmt.Errorf("scheduler.cpus '%s': %w", s.CPUs, err))
		}
		s.CPUList = cpus
	}
	cxl, err := ParseCPUSpec(s.CXLCPUs)
	if err != nil {
		errors = multierror.Append(errors, fmt.Errorf("scheduler.cxl_cpus '%s': %w", s.CXLCPUs, err))
	} else if len(cxl) > MaxCXLCPUs {
		errors = multierror.Append(errors, fmt.Errorf("scheduler.cxl_cpus lists %d CPUs, at most %d allowed", len(cxl), MaxCXLCPUs))
	}
	s.CXLCPUList = cxl
	for _, level := range []string{s.LogLevel, s.SchedulerLogLevel} {
		if _, err := parseLevel(level); err != nil {
			errors = multierror.Append(errors, err)
		}
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		errors = multierror.Append(errors, fmt.Errorf("scheduler.log_format must be text or json, got %q", s.LogFormat))
	}

	for i, r := range config.Classifier.Rules {
		if r.Prefix == "" {
			errors = multierror.Append(errors, fmt.Errorf("classifier.rules[%d]: prefix is required", i))
		}
		if _, ok := model.ParseTaskType(r.Type); !ok {
			errors = multierror.Append(errors, fmt.Errorf("classifier.rules[%d]: unknown task type %q", i, r.Type))
		}
	}
	if config.Classifier.PromotionSamples < 0 {
		errors = multierror.Append(errors, fmt.Errorf("classifier.promotion_samples must be positive"))
	}
	if t := config.Classifier.KworkerPromotionThreshold; t < 0 || t > 100 {
		errors = multierror.Append(errors, fmt.Errorf("classifier.kworker_promotion_threshold must be within 0-100, got %d", t))
	}

	a := config.Access
	if a.ThrashNsPerAccess < 0 || a.ExecReadDivisor <= 0 || a.ExecWriteDivisor <= 0 {
		errors = multierror.Append(errors, fmt.Errorf("access thresholds and divisors must be positive"))
	}

	p := config.Priority
	if p.MoeLocalityThreshold < 0 || p.MoeLocalityThreshold > 100 {
		errors = multierror.Append(errors, fmt.Errorf("priority.moe_locality_threshold must be within 0-100, got %d", p.MoeLocalityThreshold))
	}
	if p.BandwidthThreshold < 0 || p.WakeBoost < 0 || p.BoostDecay < 0 {
		errors = multierror.Append(errors, fmt.Errorf("priority thresholds must not be negative"))
	}
	if p.MaxBoost < p.WakeBoost {
		errors = multierror.Append(errors, fmt.Errorf("priority.max_boost (%d) must not be below wake_boost (%d)", p.MaxBoost, p.WakeBoost))
	}

	b := config.Bandwidth
	switch b.Source {
	case "synthetic", "hardware", "static":
	default:
		errors = multierror.Append(errors, fmt.Errorf("bandwidth.source must be synthetic, hardware or static, got %q", b.Source))
	}
	if b.ReadSplitPercent < 0 || b.ReadSplitPercent > 100 {
		errors = multierror.Append(errors, fmt.Errorf("bandwidth.read_split_percent must be within 0-100, got %d", b.ReadSplitPercent))
	}
	if b.OptimizedBoostMBps < 0 || b.CXLLatencyThresholdNs < 0 {
		errors = multierror.Append(errors, fmt.Errorf("bandwidth thresholds must not be negative"))
	}

	tb := config.TokenBucket
	if tb.Scope != "global" && tb.Scope != "per_cpu" {
		errors = multierror.Append(errors, fmt.Errorf("token_bucket.scope must be global or per_cpu, got %q", tb.Scope))
	}
	if tb.ReadMBps < 0 || tb.WriteMBps < 0 || tb.BurstMs < 0 {
		errors = multierror.Append(errors, fmt.Errorf("token_bucket rates must not be negative"))
	}

	if config.Collectors.IntervalMs < 0 {
		errors = multierror.Append(errors, fmt.Errorf("collectors.interval_ms must be positive"))
	}
	if b.Source == "hardware" && !config.Collectors.Perf && !config.Collectors.RDT {
		errors = multierror.Append(errors, fmt.Errorf("bandwidth.source hardware needs collectors.perf or collectors.rdt"))
	}

	if db := config.Data.DB; db.Enabled() {
		if db.Name == "" || db.Org == "" || db.Password == "" {
			errors = multierror.Append(errors, fmt.Errorf("incomplete database configuration"))
		}
	}

	return errors.ErrorOrNil()
}

func parseLevel(level string) (logrus.Level, error) {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}
