package server

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/steward-sh/steward/internal/ledger"
	"github.com/steward-sh/steward/internal/scheduler"
)

func writeFixture(t *testing.T) (configPath string, dir string) {
	t.Helper()
	dir = t.TempDir()
	jobsPath := filepath.Join(dir, "jobs.yaml")
	jobs := `jobs:
  - job_id: digest
    command: "/notion list inbox"
    schedule: "every 5m"
    mode: approval_gated
`
	if err := os.WriteFile(jobsPath, []byte(jobs), 0o600); err != nil {
		t.Fatal(err)
	}
	configPath = filepath.Join(dir, "config.yaml")
	cfg := `store_path: ` + filepath.Join(dir, "steward.db") + `
ledger_path: ` + filepath.Join(dir, "receipts.jsonl") + `
jobs_path: ` + jobsPath + `
`
	if err := os.WriteFile(configPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, dir
}

func TestServerRunsDueJobWindow(t *testing.T) {
	configPath, dir := writeFixture(t)
	s, err := New(Options{ConfigPath: configPath, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if len(s.Jobs()) != 1 {
		t.Fatalf("jobs = %d, want 1", len(s.Jobs()))
	}

	ctx := context.Background()
	now := time.Now().UTC()
	s.runDue(ctx, now)

	hist, err := s.sched.History(ctx, "digest")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hist))
	}
	// The job window goes through the gate as approval_gated; filing
	// the approval counts as a successful run of the window.
	if hist[0].Outcome != scheduler.OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s", hist[0].Outcome, scheduler.OutcomeSuccess)
	}

	// A second pass in the same window does nothing new.
	s.runDue(ctx, now.Add(time.Minute))
	hist, err = s.sched.History(ctx, "digest")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history entries after rerun = %d, want 1", len(hist))
	}

	lines, err := ledger.Tail(filepath.Join(dir, "receipts.jsonl"), 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) == 0 {
		t.Fatal("expected receipts after a job window ran")
	}
}

func TestReloadKeepsOldConfigOnError(t *testing.T) {
	configPath, _ := writeFixture(t)
	s, err := New(Options{ConfigPath: configPath, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	before := s.Gate()
	if err := os.WriteFile(configPath, []byte("governor:\n  capacity: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("expected reload error for broken config")
	}
	if s.Gate() != before {
		t.Fatal("failed reload must not swap the gate")
	}
}

func TestReloadPicksUpJobChanges(t *testing.T) {
	configPath, _ := writeFixture(t)
	s, err := New(Options{ConfigPath: configPath, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	jobsPath := s.cfg.JobsPath
	jobs := `jobs:
  - job_id: digest
    command: "/notion list inbox"
    schedule: "every 5m"
    mode: approval_gated
  - job_id: triage
    command: "/email triage"
    schedule: "daily@07:00"
    mode: approval_gated
`
	if err := os.WriteFile(jobsPath, []byte(jobs), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(s.Jobs()) != 2 {
		t.Fatalf("jobs after reload = %d, want 2", len(s.Jobs()))
	}
}

func TestReloaderDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("store_path: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int64
	r, err := NewReloader([]string{path}, zap.NewNop(), func() error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("store_path: y\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	deadline := time.After(3 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("reload never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}
	// Let any stragglers land before counting.
	time.Sleep(2 * reloadDebounce)
	if got := calls.Load(); got != 1 {
		t.Fatalf("reload calls = %d, want 1 (debounced)", got)
	}

	cancel()
	<-done
}
