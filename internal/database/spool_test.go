package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cxl-sched/internal/scheduler"

	"github.com/google/go-cmp/cmp"
)

func TestSpool_FlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sp := NewSpool(dir, 7, "cxl-bandwidth", "abc123", "scheduler: {}\n", start)

	for i := 0; i < 3; i++ {
		st := scheduler.StatsSnapshot{Scheduler: "cxl-bandwidth", Dispatched: uint64(i)}
		if err := sp.Write(context.Background(), st, start.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	meta := &RunMetadata{RunID: 7, Scheduler: "cxl-bandwidth"}
	path, err := sp.Flush(meta, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "run_7_") || !strings.HasSuffix(path, "_abc123.json.gz") {
		t.Fatalf("unexpected artifact name %s", path)
	}

	got, err := ReadSpoolArtifact(path)
	if err != nil {
		t.Fatalf("ReadSpoolArtifact: %v", err)
	}
	if got.RunID != 7 || got.ConfigChecksum != "abc123" || got.ConfigContent != "scheduler: {}\n" {
		t.Fatalf("artifact header = %+v", got)
	}
	if !got.StartTime.Equal(start) || !got.EndTime.Equal(start.Add(time.Minute)) {
		t.Fatalf("times = %v %v", got.StartTime, got.EndTime)
	}
	var dispatched []uint64
	for _, s := range got.Snapshots {
		dispatched = append(dispatched, s.Stats.Dispatched)
	}
	if diff := cmp.Diff([]uint64{0, 1, 2}, dispatched); diff != "" {
		t.Fatalf("snapshots (-want +got):\n%s", diff)
	}
	if got.Metadata == nil || got.Metadata.Scheduler != "cxl-bandwidth" {
		t.Fatalf("metadata = %+v", got.Metadata)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestSpool_DropsOldestWhenFull(t *testing.T) {
	sp := NewSpool(t.TempDir(), 1, "s", "", "", time.Now())
	for i := 0; i < MaxSpoolSnapshots+2; i++ {
		_ = sp.Write(context.Background(), scheduler.StatsSnapshot{Dispatched: uint64(i)}, time.Now())
	}
	if n := len(sp.artifact.Snapshots); n != MaxSpoolSnapshots {
		t.Fatalf("kept %d snapshots", n)
	}
	if sp.artifact.Dropped != 2 || sp.artifact.Snapshots[0].Stats.Dispatched != 2 {
		t.Fatalf("dropped %d, first kept %d", sp.artifact.Dropped, sp.artifact.Snapshots[0].Stats.Dispatched)
	}
}

func TestWriteSpoolArtifact_Nil(t *testing.T) {
	if _, err := WriteSpoolArtifact(t.TempDir(), nil); err == nil {
		t.Fatal("expected error for nil artifact")
	}
}
