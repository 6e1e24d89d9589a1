package cpuselect

import (
	"testing"

	"cxl-sched/internal/bandwidth"
	"cxl-sched/internal/model"
)

// newCPUs returns n idle contexts; CPUs listed in cxl report CXL latency.
func newCPUs(n int, cxl ...int32) []*bandwidth.CpuContext {
	cpus := bandwidth.NewCpuContexts(n)
	m := bandwidth.NewModel(bandwidth.DefaultConfig())
	for _, c := range cpus {
		m.Apply(c, 1, model.HardwareSample{LatencyNs: 100})
	}
	for _, i := range cxl {
		m.Apply(cpus[i], 1, model.HardwareSample{LatencyNs: 200})
	}
	return cpus
}

func TestSelect_NonVectorDBStays(t *testing.T) {
	s := New(DefaultConfig())
	cpus := newCPUs(4, 0, 1)
	task := &model.Task{Type: model.TaskTypeRegular, ConsecutiveMigrations: 2}
	if got := s.Select(task, 3, cpus); got != 3 {
		t.Fatalf("regular task moved to %d", got)
	}
	if task.ConsecutiveMigrations != 1 {
		t.Fatalf("staying must decay the migration counter, got %d", task.ConsecutiveMigrations)
	}
	if !cpus[0].ClaimIdle() {
		t.Fatalf("idle flag of an unchosen CPU must not be consumed")
	}
}

func TestSelect_VectorDBPrefersIdleCXLCPU(t *testing.T) {
	s := New(Config{Candidates: []int32{0, 1, 2}, MaxMigrations: 3})
	cpus := newCPUs(4, 1, 2)
	task := &model.Task{Type: model.TaskTypeVectorDB}

	if got := s.Select(task, 3, cpus); got != 1 {
		t.Fatalf("expected first idle CXL candidate 1, got %d", got)
	}
	if task.ConsecutiveMigrations != 1 {
		t.Fatalf("migrations = %d, want 1", task.ConsecutiveMigrations)
	}
	// CPU 1's idle flag was consumed; the next wake lands on 2.
	if got := s.Select(task, 3, cpus); got != 2 {
		t.Fatalf("expected candidate 2, got %d", got)
	}
	// Nothing idle left.
	if got := s.Select(task, 3, cpus); got != 3 {
		t.Fatalf("expected fallback to prev CPU, got %d", got)
	}
	if task.ConsecutiveMigrations != 1 {
		t.Fatalf("fallback must decay migrations, got %d", task.ConsecutiveMigrations)
	}
}

func TestSelect_SkipsOverloadedCandidates(t *testing.T) {
	s := New(Config{Candidates: []int32{0, 1}, MaxMigrations: 3, LoadFactorPercent: 150})
	cpus := newCPUs(4, 0, 1)
	for i := 0; i < 4; i++ {
		cpus[0].TaskStarted(model.TaskTypeRegular)
	}
	cpus[0].SetIdle()
	// average = 4/4 = 1, CPU 0 has 4 > 1.5
	task := &model.Task{Type: model.TaskTypeVectorDB}
	if got := s.Select(task, 3, cpus); got != 1 {
		t.Fatalf("expected overloaded CPU 0 to be skipped, got %d", got)
	}
}

func TestSelect_MigrationLimit(t *testing.T) {
	s := New(Config{Candidates: []int32{0}, MaxMigrations: 3})
	cpus := newCPUs(2, 0)
	task := &model.Task{Type: model.TaskTypeVectorDB, ConsecutiveMigrations: 4}
	if got := s.Select(task, 1, cpus); got != 1 {
		t.Fatalf("task over the migration limit must stay, got %d", got)
	}
	if task.ConsecutiveMigrations != 3 {
		t.Fatalf("migrations = %d, want 3", task.ConsecutiveMigrations)
	}
	if got := s.Select(task, 1, cpus); got != 0 {
		t.Fatalf("back at the limit the task may migrate again, got %d", got)
	}
	cpus[0].SetIdle()
	if got := s.Select(task, 1, cpus); got != 1 {
		t.Fatalf("a migration at the limit must be followed by a stay, got %d", got)
	}
}

func TestSelect_ThrashingIsDamped(t *testing.T) {
	s := New(Config{Candidates: []int32{0}, MaxMigrations: 3})
	cpus := newCPUs(2, 0)
	task := &model.Task{Type: model.TaskTypeVectorDB}
	migrations := 0
	for i := 0; i < 20; i++ {
		cpus[0].SetIdle()
		if s.Select(task, 1, cpus) != 1 {
			migrations++
		}
	}
	// four free migrations, then every other wake
	if migrations != 12 {
		t.Fatalf("migrations = %d over 20 wakes, want 12", migrations)
	}
}

func TestSelect_InvalidInputsNeverFail(t *testing.T) {
	s := New(Config{Candidates: []int32{-1, 7, 0}, MaxMigrations: 3})
	task := &model.Task{Type: model.TaskTypeVectorDB}
	if got := s.Select(task, -5, nil); got != -5 {
		t.Fatalf("invalid prev CPU must be returned as given, got %d", got)
	}
	if got := s.Select(nil, 2, newCPUs(1, 0)); got != 2 {
		t.Fatalf("nil task must keep prev CPU, got %d", got)
	}
	cpus := newCPUs(2, 0)
	if got := s.Select(task, 99, cpus); got != 0 {
		t.Fatalf("out of range candidates must be skipped, got %d", got)
	}
}

func TestNew_BoundsCandidates(t *testing.T) {
	s := New(Config{Candidates: []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}})
	if n := len(s.Candidates()); n != MaxCandidates {
		t.Fatalf("candidates = %d, want %d", n, MaxCandidates)
	}
}
