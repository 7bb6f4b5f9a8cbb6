// Package approval turns a proposed execution plan into an audited,
// human-gated run. The one invariant everything else hangs off: the plan
// hash frozen at submission must match byte-for-byte on every later
// approve, because the human approved exactly that plan and no other.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steward-sh/steward/internal/fingerprint"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

// Status is the lifecycle state of an approval record.
type Status string

const (
	StatusAwaiting Status = "awaiting_approval"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ErrPlanHashMismatch is returned when an approve is attempted with a
// hash that differs from the one frozen at submission.
var ErrPlanHashMismatch = errors.New("approval: plan hash does not match frozen hash")

// ErrTerminal is returned when a transition is attempted on a record that
// already reached approved or rejected.
var ErrTerminal = errors.New("approval: record is terminal")

// ErrNotFound is returned when no record exists for an execution id.
var ErrNotFound = errors.New("approval: record not found")

// Prestate is the pre-execution snapshot of one step, captured so a later
// rollback can compare against what the world looked like before the run.
type Prestate struct {
	Snapshot    string `json:"snapshot"`
	Fingerprint string `json:"fingerprint"`
}

// Record is the persisted approval state for one execution.
type Record struct {
	ExecutionID    string              `json:"execution_id"`
	Fingerprint    string              `json:"fingerprint"`
	PlanHash       string              `json:"plan_hash"`
	Status         Status              `json:"status"`
	Plan           model.ExecutionPlan `json:"plan"`
	PendingStepIDs []string            `json:"pending_step_ids"`
	Prestates      map[string]Prestate `json:"prestates"`
	Reason         string              `json:"reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	ResolvedAt     *time.Time          `json:"resolved_at,omitempty"`
}

// ReceiptWriter is the slice of the receipt ledger the machine needs.
type ReceiptWriter interface {
	Append(r model.Receipt) error
}

// Machine drives approval records through their lifecycle. Pending
// records have no TTL: once awaiting, a plan waits indefinitely for an
// explicit approve or reject.
type Machine struct {
	store    store.Store
	receipts ReceiptWriter
}

// New creates a Machine. receipts may be nil in dry-run evaluations.
func New(s store.Store, receipts ReceiptWriter) *Machine {
	return &Machine{store: s, receipts: receipts}
}

// Submit freezes the plan hash and creates an awaiting_approval record
// with per-step prestate snapshots. Re-submitting an execution id returns
// the existing record unchanged.
func (m *Machine) Submit(ctx context.Context, plan *model.ExecutionPlan, fp, threadID string, now time.Time) (Record, error) {
	if existing, err := m.Get(ctx, plan.ExecutionID); err == nil {
		return existing, nil
	}

	hash, err := fingerprint.Plan(plan)
	if err != nil {
		return Record{}, err
	}

	prestates := make(map[string]Prestate, len(plan.Steps))
	for _, step := range plan.Steps {
		raw, err := json.Marshal(step.Payload)
		if err != nil {
			return Record{}, fmt.Errorf("approval: snapshot step %s: %w", step.StepID, err)
		}
		prestates[step.StepID] = Prestate{
			Snapshot:    string(raw),
			Fingerprint: fingerprint.Snapshot(raw),
		}
	}

	rec := Record{
		ExecutionID:    plan.ExecutionID,
		Fingerprint:    fp,
		PlanHash:       hash,
		Status:         StatusAwaiting,
		Plan:           *plan,
		PendingStepIDs: plan.StepIDs(),
		Prestates:      prestates,
		CreatedAt:      now.UTC(),
	}

	if err := m.put(ctx, rec, 0); err != nil {
		return Record{}, err
	}

	m.receipt(model.Receipt{
		ExecutionID: plan.ExecutionID,
		ThreadID:    threadID,
		Fingerprint: fp,
		Kind:        model.ReceiptKindApproval,
		Status:      string(StatusAwaiting),
		CreatedAt:   now.UTC().Format(time.RFC3339Nano),
		PlanHash:    hash,
		ApprovalRequired: &model.ReceiptApproval{
			Code: model.WriteOperation,
		},
	})

	return rec, nil
}

// Approve transitions an awaiting record to approved. planHash must equal
// the frozen hash exactly; execution never proceeds against a re-hashed
// or edited plan.
func (m *Machine) Approve(ctx context.Context, executionID, planHash string, now time.Time) (Record, error) {
	return m.resolve(ctx, executionID, planHash, StatusApproved, "", now)
}

// Reject transitions an awaiting record to rejected. Terminal: the same
// execution id can never be retried.
func (m *Machine) Reject(ctx context.Context, executionID, reason string, now time.Time) (Record, error) {
	return m.resolve(ctx, executionID, "", StatusRejected, reason, now)
}

func (m *Machine) resolve(ctx context.Context, executionID, planHash string, to Status, reason string, now time.Time) (Record, error) {
	doc, err := m.store.GetDoc(ctx, store.FamilyApproval, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("approval: load %s: %w", executionID, err)
	}

	var rec Record
	if err := json.Unmarshal(doc.Value, &rec); err != nil {
		return Record{}, fmt.Errorf("approval: corrupt record %s: %w", executionID, err)
	}

	if rec.Status != StatusAwaiting {
		return rec, fmt.Errorf("%w: %s is %s", ErrTerminal, executionID, rec.Status)
	}
	if to == StatusApproved && planHash != rec.PlanHash {
		return rec, fmt.Errorf("%w: got %s, frozen %s", ErrPlanHashMismatch, planHash, rec.PlanHash)
	}

	resolved := now.UTC()
	rec.Status = to
	rec.Reason = reason
	rec.ResolvedAt = &resolved

	if err := m.put(ctx, rec, doc.Seq); err != nil {
		return Record{}, err
	}

	m.receipt(model.Receipt{
		ExecutionID: executionID,
		Fingerprint: rec.Fingerprint,
		Kind:        model.ReceiptKindApproval,
		Status:      string(to),
		CreatedAt:   resolved.Format(time.RFC3339Nano),
		PlanHash:    rec.PlanHash,
		Reason:      reason,
	})

	return rec, nil
}

// Get loads the approval record for an execution id.
func (m *Machine) Get(ctx context.Context, executionID string) (Record, error) {
	doc, err := m.store.GetDoc(ctx, store.FamilyApproval, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("approval: load %s: %w", executionID, err)
	}
	var rec Record
	if err := json.Unmarshal(doc.Value, &rec); err != nil {
		return Record{}, fmt.Errorf("approval: corrupt record %s: %w", executionID, err)
	}
	return rec, nil
}

// Pending lists all awaiting records.
func (m *Machine) Pending(ctx context.Context) ([]Record, error) {
	docs, err := m.store.ListDocs(ctx, store.FamilyApproval)
	if err != nil {
		return nil, fmt.Errorf("approval: list records: %w", err)
	}
	var pending []Record
	for _, d := range docs {
		var rec Record
		if err := json.Unmarshal(d.Value, &rec); err != nil {
			continue
		}
		if rec.Status == StatusAwaiting {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func (m *Machine) put(ctx context.Context, rec Record, seq uint64) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("approval: marshal record: %w", err)
	}
	if _, err := m.store.PutDoc(ctx, store.FamilyApproval, rec.ExecutionID, raw, seq); err != nil {
		return fmt.Errorf("approval: persist %s: %w", rec.ExecutionID, err)
	}
	return nil
}

func (m *Machine) receipt(r model.Receipt) {
	if m.receipts != nil {
		// Receipt write failures do not abort the transition; the record
		// itself is the authoritative state.
		_ = m.receipts.Append(r)
	}
}
