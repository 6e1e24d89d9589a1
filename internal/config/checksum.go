package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

type checksumPayload struct {
	SliceMs     int               `json:"slice_ms"`
	CXLCPUs     []int             `json:"cxl_cpus"`
	MaxMig      int               `json:"max_migrations"`
	LoadFactor  int               `json:"load_factor_percent"`
	Classifier  ClassifierConfig  `json:"classifier"`
	Access      AccessConfig      `json:"access"`
	Priority    PriorityConfig    `json:"priority"`
	Bandwidth   BandwidthConfig   `json:"bandwidth"`
	TokenBucket TokenBucketConfig `json:"token_bucket"`
}

// Checksum returns a short, stable checksum identifying the policy a run used. Only
// fields that change scheduling decisions take part; log levels, sinks and collector
// settings do not.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`).
func Checksum(cfg *Config) (string, error) {
	if cfg == nil {
		return "", nil
	}

	payload := checksumPayload{
		SliceMs:     cfg.Scheduler.SliceMs,
		CXLCPUs:     cfg.Scheduler.CXLCPUList,
		MaxMig:      cfg.Scheduler.MaxMigrations,
		LoadFactor:  cfg.Scheduler.LoadFactorPercent,
		Classifier:  cfg.Classifier,
		Access:      cfg.Access,
		Priority:    cfg.Priority,
		Bandwidth:   cfg.Bandwidth,
		TokenBucket: cfg.TokenBucket,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
