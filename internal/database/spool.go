package database

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cxl-sched/internal/scheduler"
)

// MaxSpoolSnapshots bounds the snapshots kept in memory; older ones are dropped first.
const MaxSpoolSnapshots = 8192

type SpoolSnapshot struct {
	At    time.Time               `json:"at"`
	Stats scheduler.StatsSnapshot `json:"stats"`
}

type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID          int    `json:"run_id"`
	Scheduler      string `json:"scheduler"`
	ConfigChecksum string `json:"config_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Metadata  *RunMetadata    `json:"metadata,omitempty"`
	Snapshots []SpoolSnapshot `json:"snapshots"`
	Dropped   int             `json:"dropped_snapshots,omitempty"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("CXL_SCHED_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.ConfigChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"run_%d_%s_%s.json.gz",
		artifact.RunID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool %s: %w", path, err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("failed to decode spool %s: %w", path, err)
	}
	return &artifact, nil
}

// Spool collects snapshots in memory and writes them as one artifact on Flush. It is
// the fallback when no database is configured.
type Spool struct {
	dir string

	mu       sync.Mutex
	artifact SpoolArtifact
}

func NewSpool(dir string, runID int, name, checksum, configContent string, start time.Time) *Spool {
	return &Spool{
		dir: dir,
		artifact: SpoolArtifact{
			Version:        1,
			RunID:          runID,
			Scheduler:      name,
			ConfigChecksum: checksum,
			StartTime:      start,
			ConfigContent:  configContent,
		},
	}
}

func (s *Spool) Name() string {
	return "spool"
}

func (s *Spool) Write(_ context.Context, st scheduler.StatsSnapshot, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.artifact.Snapshots) >= MaxSpoolSnapshots {
		n := copy(s.artifact.Snapshots, s.artifact.Snapshots[1:])
		s.artifact.Snapshots = s.artifact.Snapshots[:n]
		s.artifact.Dropped++
	}
	s.artifact.Snapshots = append(s.artifact.Snapshots, SpoolSnapshot{At: at, Stats: st})
	return nil
}

// Flush writes everything collected so far and returns the artifact path.
func (s *Spool) Flush(meta *RunMetadata, end time.Time) (string, error) {
	s.mu.Lock()
	artifact := s.artifact
	artifact.Snapshots = append([]SpoolSnapshot(nil), s.artifact.Snapshots...)
	s.mu.Unlock()

	artifact.CreatedAt = time.Now()
	artifact.EndTime = end
	artifact.Metadata = meta
	return WriteSpoolArtifact(s.dir, &artifact)
}
