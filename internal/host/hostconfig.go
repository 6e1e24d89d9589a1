package host

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cxl-sched/internal/logging"

	"github.com/intel/goresctrl/pkg/rdt"
	"github.com/sirupsen/logrus"
)

// HostConfig describes the CPU and memory topology the scheduler runs on.
// It is initialized once at startup and used throughout the application.
type HostConfig struct {
	CPUVendor  string
	CPUModel   string
	NumCPUs    int
	NumSockets int

	// L3 cache id per logical CPU.
	L3CacheID []int

	L3Cache L3CacheConfig
	RDT     RDTConfig

	Hostname      string
	KernelVersion string

	logger *logrus.Logger
}

// L3CacheConfig summarizes the last-level cache domains.
type L3CacheConfig struct {
	SizeBytes int64
	// Domains maps a cache id to the CPUs sharing it.
	Domains map[int][]int
}

// RDTConfig contains resctrl monitoring support.
type RDTConfig struct {
	MonitoringSupported    bool
	MonitoringFeatures     map[string][]string
	MaxMemoryBandwidthMBps int64
}

var (
	globalHostConfig *HostConfig
	hostConfigOnce   sync.Once
)

const sysfsCPURoot = "/sys/devices/system/cpu"

// GetHostConfig returns the global host configuration, initializing it on first call.
func GetHostConfig() (*HostConfig, error) {
	var err error
	hostConfigOnce.Do(func() {
		globalHostConfig, err = initializeHostConfig()
	})
	return globalHostConfig, err
}

func initializeHostConfig() (*HostConfig, error) {
	logger := logging.GetLogger()
	logger.Info("Initializing host configuration")

	config := &HostConfig{logger: logger}
	config.initSystemInfo()
	config.initCPUInfo()

	if err := config.initTopology(sysfsCPURoot, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to read CPU topology: %w", err)
	}
	config.initRDTInfo()

	logger.WithFields(logrus.Fields{
		"cpu_model":      config.CPUModel,
		"cpus":           config.NumCPUs,
		"l3_domains":     len(config.L3Cache.Domains),
		"rdt_monitoring": config.RDT.MonitoringSupported,
	}).Info("Host configuration initialized")

	return config, nil
}

func (hc *HostConfig) initSystemInfo() {
	if hostname, err := os.Hostname(); err == nil {
		hc.Hostname = hostname
	}
	if data, err := os.ReadFile("/proc/version"); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}
	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}
}

func (hc *HostConfig) initCPUInfo() {
	hc.CPUVendor, hc.CPUModel, hc.NumSockets = "unknown", "unknown", 1

	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return
	}
	defer file.Close()

	sockets := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "vendor_id":
			hc.CPUVendor = value
		case "model name":
			hc.CPUModel = value
		case "physical id":
			sockets[value] = true
		}
	}
	if len(sockets) > 0 {
		hc.NumSockets = len(sockets)
	}
}

// initTopology reads the L3 placement of cpus [0, n). CPUs with no sysfs entry fall
// back to cache domain 0.
func (hc *HostConfig) initTopology(root string, n int) error {
	if n <= 0 {
		return fmt.Errorf("no CPUs reported")
	}
	hc.NumCPUs = n
	hc.L3CacheID = make([]int, n)
	hc.L3Cache.Domains = make(map[int][]int)

	for cpu := 0; cpu < n; cpu++ {
		dir := filepath.Join(root, fmt.Sprintf("cpu%d", cpu))
		if id, ok := readL3ID(dir); ok {
			hc.L3CacheID[cpu] = id
		}
		id := hc.L3CacheID[cpu]
		hc.L3Cache.Domains[id] = append(hc.L3Cache.Domains[id], cpu)
	}
	if size, err := readL3Size(filepath.Join(root, "cpu0")); err == nil {
		hc.L3Cache.SizeBytes = size
	} else if hc.logger != nil {
		hc.logger.WithError(err).Warn("Failed to read L3 cache size")
	}
	return nil
}

// l3Index returns the sysfs cache index directory describing the unified L3 cache.
func l3Index(cpuDir string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(cpuDir, "cache", "index*"))
	sort.Strings(matches)
	for _, m := range matches {
		level, err := os.ReadFile(filepath.Join(m, "level"))
		if err != nil || strings.TrimSpace(string(level)) != "3" {
			continue
		}
		return m, true
	}
	return "", false
}

func readL3ID(cpuDir string) (int, bool) {
	idx, ok := l3Index(cpuDir)
	if !ok {
		return 0, false
	}
	data, err := os.ReadFile(filepath.Join(idx, "id"))
	if err != nil {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(data)))
	return id, err == nil
}

func readL3Size(cpuDir string) (int64, error) {
	idx, ok := l3Index(cpuDir)
	if !ok {
		return 0, fmt.Errorf("no L3 cache under %s", cpuDir)
	}
	data, err := os.ReadFile(filepath.Join(idx, "size"))
	if err != nil {
		return 0, err
	}
	return parseSize(strings.TrimSpace(string(data)))
}

// parseSize parses sysfs sizes like "8192K", "32M" or "8388608".
func parseSize(s string) (int64, error) {
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1024, s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		mult, s = 1024*1024, s[:len(s)-1]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache size %q: %w", s, err)
	}
	return v * mult, nil
}

func (hc *HostConfig) initRDTInfo() {
	hc.RDT.MonitoringSupported = rdt.MonSupported()
	if strings.Contains(strings.ToLower(hc.CPUModel), "xeon") {
		hc.RDT.MaxMemoryBandwidthMBps = 100000
	} else {
		hc.RDT.MaxMemoryBandwidthMBps = 50000
	}
	if !hc.RDT.MonitoringSupported {
		return
	}
	hc.RDT.MonitoringFeatures = make(map[string][]string)
	for resource, features := range rdt.GetMonFeatures() {
		hc.RDT.MonitoringFeatures[string(resource)] = features
	}
}

// MemoryBandwidthUtilizationPercent converts a bandwidth reading into a share of the
// host's nominal memory bandwidth.
func (hc *HostConfig) MemoryBandwidthUtilizationPercent(bandwidthMBps uint64) uint64 {
	if hc.RDT.MaxMemoryBandwidthMBps <= 0 {
		return 0
	}
	return min(bandwidthMBps*100/uint64(hc.RDT.MaxMemoryBandwidthMBps), 100)
}
