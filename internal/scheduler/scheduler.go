// Package scheduler decides whether a recurring job's current time window
// has already run. The window id derived from (job id, window start) is the
// only idempotency mechanism recurring jobs have: a job invoked twice
// inside one window must skip the second time, and two different windows
// must never collide.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steward-sh/steward/internal/fingerprint"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Job is one recurring job. Jobs are config-supplied and read-only here.
type Job struct {
	JobID    string             `yaml:"job_id" json:"job_id"`
	Command  string             `yaml:"command" json:"command"`
	Schedule string             `yaml:"schedule" json:"schedule"`
	Mode     model.AutonomyMode `yaml:"mode" json:"mode"`

	rule Rule
}

// Rule returns the job's parsed recurrence rule.
func (j Job) Rule() Rule { return j.rule }

// HistoryEntry records one executed window. At most one entry exists per
// (job id, window id) pair; an existing entry is what makes a window
// "already run".
type HistoryEntry struct {
	JobID       string    `json:"job_id"`
	WindowID    string    `json:"window_id"`
	WindowStart time.Time `json:"window_start"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Outcome     string    `json:"outcome"`
}

// Explanation is the operator-facing would-this-run-now view.
type Explanation struct {
	JobID       string    `json:"job_id"`
	Schedule    string    `json:"schedule"`
	WindowStart time.Time `json:"window_start"`
	WindowID    string    `json:"window_id"`
	NextWindow  time.Time `json:"next_window"`
	AlreadyRan  bool      `json:"already_ran"`
	LastOutcome string    `json:"last_outcome,omitempty"`
}

// ReceiptWriter is the slice of the receipt ledger the evaluator needs.
type ReceiptWriter interface {
	Append(r model.Receipt) error
}

// Evaluator evaluates job windows against recorded history.
type Evaluator struct {
	store    store.Store
	receipts ReceiptWriter
	// clock stamps completion times; replaced in tests.
	clock func() time.Time
}

// New creates an Evaluator. receipts may be nil for read-only use.
func New(s store.Store, receipts ReceiptWriter) *Evaluator {
	return &Evaluator{store: s, receipts: receipts, clock: time.Now}
}

// LoadJobs reads a YAML job list and parses every schedule, rejecting the
// whole file on the first invalid rule or duplicate job id.
func LoadJobs(path string) ([]Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scheduler: read jobs file: %w", err)
	}
	return ParseJobs(raw)
}

// ParseJobs parses a YAML job list.
func ParseJobs(raw []byte) ([]Job, error) {
	var doc struct {
		Jobs []Job `yaml:"jobs"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("scheduler: parse jobs: %w", err)
	}

	seen := make(map[string]bool, len(doc.Jobs))
	for i := range doc.Jobs {
		j := &doc.Jobs[i]
		if j.JobID == "" {
			return nil, fmt.Errorf("scheduler: job %d: missing job_id", i)
		}
		if seen[j.JobID] {
			return nil, fmt.Errorf("scheduler: duplicate job_id %q", j.JobID)
		}
		seen[j.JobID] = true

		rule, err := ParseRule(j.Schedule)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %s: %w", j.JobID, err)
		}
		j.rule = rule
	}
	return doc.Jobs, nil
}

// Window returns the current window id and start for a job at the given
// instant.
func (e *Evaluator) Window(job Job, at time.Time) (windowID string, windowStart time.Time) {
	windowStart = job.rule.WindowStart(at)
	return fingerprint.Window(job.JobID, windowStart), windowStart
}

// ShouldRun reports whether no history entry exists yet for the exact
// (job id, window id) pair.
func (e *Evaluator) ShouldRun(ctx context.Context, jobID, windowID string) (bool, error) {
	_, err := e.store.GetDoc(ctx, store.FamilySchedulerRun, runKey(jobID, windowID))
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("scheduler: read history %s: %w", windowID, err)
	}
	return false, nil
}

// RunOnce executes fn at most once for the current window. The window is
// claimed with a create-only write before fn runs, so of any number of
// concurrent invocations exactly one executes and the rest return a
// skipped entry. The claimant's entry is finalized with the run outcome.
func (e *Evaluator) RunOnce(ctx context.Context, job Job, at time.Time, fn func(context.Context) error) (HistoryEntry, error) {
	windowID, windowStart := e.Window(job, at)

	entry := HistoryEntry{
		JobID:       job.JobID,
		WindowID:    windowID,
		WindowStart: windowStart,
		StartedAt:   at.UTC(),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("scheduler: marshal history: %w", err)
	}
	seq, err := e.store.PutDoc(ctx, store.FamilySchedulerRun, runKey(job.JobID, windowID), raw, 0)
	if errors.Is(err, store.ErrConflict) {
		entry.Outcome = OutcomeSkipped
		e.writeReceipt(job, entry, "window already run")
		return entry, nil
	}
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("scheduler: claim window %s: %w", windowID, err)
	}

	runErr := fn(ctx)
	entry.FinishedAt = e.clock().UTC()
	entry.Outcome = OutcomeSuccess
	reason := ""
	if runErr != nil {
		entry.Outcome = OutcomeFailed
		reason = runErr.Error()
	}

	raw, err = json.Marshal(entry)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("scheduler: marshal history: %w", err)
	}
	if _, err := e.store.PutDoc(ctx, store.FamilySchedulerRun, runKey(job.JobID, windowID), raw, seq); err != nil {
		return HistoryEntry{}, fmt.Errorf("scheduler: finalize window %s: %w", windowID, err)
	}

	e.writeReceipt(job, entry, reason)
	return entry, runErr
}

// Explain reports the current window for a job and whether it already ran.
func (e *Evaluator) Explain(ctx context.Context, job Job, at time.Time) (Explanation, error) {
	windowID, windowStart := e.Window(job, at)
	ex := Explanation{
		JobID:       job.JobID,
		Schedule:    job.Schedule,
		WindowStart: windowStart,
		WindowID:    windowID,
		NextWindow:  job.rule.Next(at),
	}

	doc, err := e.store.GetDoc(ctx, store.FamilySchedulerRun, runKey(job.JobID, windowID))
	if errors.Is(err, store.ErrNotFound) {
		return ex, nil
	}
	if err != nil {
		return Explanation{}, fmt.Errorf("scheduler: read history %s: %w", windowID, err)
	}

	ex.AlreadyRan = true
	var entry HistoryEntry
	if err := json.Unmarshal(doc.Value, &entry); err == nil {
		ex.LastOutcome = entry.Outcome
	}
	return ex, nil
}

// History returns every recorded window for a job, newest window first.
func (e *Evaluator) History(ctx context.Context, jobID string) ([]HistoryEntry, error) {
	docs, err := e.store.ListDocs(ctx, store.FamilySchedulerRun)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list history: %w", err)
	}

	var entries []HistoryEntry
	for _, doc := range docs {
		if !strings.HasPrefix(doc.Key, jobID+"/") {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(doc.Value, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].WindowStart.After(entries[j].WindowStart)
	})
	return entries, nil
}

func (e *Evaluator) writeReceipt(job Job, entry HistoryEntry, reason string) {
	if e.receipts == nil {
		return
	}
	r := model.Receipt{
		ExecutionID: fmt.Sprintf("%s-%s", job.JobID, entry.WindowID),
		Fingerprint: fingerprint.Command("", model.Normalize(job.Command)),
		Kind:        model.ReceiptKindScheduler,
		Status:      entry.Outcome,
		CreatedAt:   entry.StartedAt.Format(time.RFC3339Nano),
		StartedAt:   entry.StartedAt.Format(time.RFC3339Nano),
		Reason:      reason,
	}
	if !entry.FinishedAt.IsZero() {
		r.FinishedAt = entry.FinishedAt.Format(time.RFC3339Nano)
	}
	_ = e.receipts.Append(r)
}

func runKey(jobID, windowID string) string {
	return jobID + "/" + windowID
}
