package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/steward-sh/steward/internal/fingerprint"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

type recordingLedger struct {
	receipts []model.Receipt
}

func (r *recordingLedger) Append(rec model.Receipt) error {
	r.receipts = append(r.receipts, rec)
	return nil
}

func testPlan(execID string) *model.ExecutionPlan {
	return &model.ExecutionPlan{
		ExecutionID:          execID,
		Goal:                 "archive stale pages",
		RequiredCapabilities: []string{"notion.write"},
		Steps: []model.PlanStep{
			{StepID: "s1", Action: "archive", Adapter: "notion", Payload: map[string]any{"page": "pg_7"}, IdempotencyKey: "k1"},
			{StepID: "s2", Action: "notify", Adapter: "email", ReadOnly: false, IdempotencyKey: "k2"},
		},
	}
}

func newTestMachine(t *testing.T) (*Machine, *recordingLedger) {
	t.Helper()
	led := &recordingLedger{}
	return New(store.NewMemory(), led), led
}

func TestSubmitFreezesHashAndPrestates(t *testing.T) {
	m, led := newTestMachine(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	plan := testPlan("exec-1")

	rec, err := m.Submit(ctx, plan, "fp-1", "thread-1", now)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Status != StatusAwaiting {
		t.Fatalf("expected awaiting, got %s", rec.Status)
	}

	want, _ := fingerprint.Plan(plan)
	if rec.PlanHash != want {
		t.Fatalf("frozen hash %s != computed %s", rec.PlanHash, want)
	}
	if len(rec.PendingStepIDs) != 2 || rec.PendingStepIDs[0] != "s1" {
		t.Fatalf("unexpected pending steps: %v", rec.PendingStepIDs)
	}
	if len(rec.Prestates) != 2 {
		t.Fatalf("expected prestate per step, got %d", len(rec.Prestates))
	}
	if rec.Prestates["s1"].Fingerprint == "" {
		t.Fatal("prestate fingerprint missing")
	}

	if len(led.receipts) != 1 {
		t.Fatalf("expected one receipt, got %d", len(led.receipts))
	}
	r := led.receipts[0]
	if r.ApprovalRequired == nil || r.ApprovalRequired.Code != model.WriteOperation {
		t.Fatalf("receipt missing WRITE_OPERATION code: %+v", r)
	}
	if r.PlanHash != want {
		t.Fatal("receipt carries wrong plan hash")
	}
}

func TestSubmitIdempotentPerExecutionID(t *testing.T) {
	m, led := newTestMachine(t)
	ctx := context.Background()
	now := time.Now()

	first, _ := m.Submit(ctx, testPlan("exec-1"), "fp", "", now)
	second, err := m.Submit(ctx, testPlan("exec-1"), "fp", "", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Fatal("resubmission replaced the original record")
	}
	if len(led.receipts) != 1 {
		t.Fatalf("resubmission should not append another receipt, got %d", len(led.receipts))
	}
}

func TestApproveRequiresExactHash(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	now := time.Now()
	plan := testPlan("exec-1")

	rec, _ := m.Submit(ctx, plan, "fp", "", now)

	// an edited plan re-hashes differently and must never reuse the approval
	edited := testPlan("exec-1")
	edited.Steps[0].Payload = map[string]any{"page": "pg_8"}
	editedHash, _ := fingerprint.Plan(edited)

	if _, err := m.Approve(ctx, "exec-1", editedHash, now); !errors.Is(err, ErrPlanHashMismatch) {
		t.Fatalf("expected ErrPlanHashMismatch, got %v", err)
	}

	// the frozen hash approves
	got, err := m.Approve(ctx, "exec-1", rec.PlanHash, now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", got.Status)
	}
	if got.PlanHash != rec.PlanHash {
		t.Fatal("plan hash changed across approve")
	}
}

func TestRejectIsTerminal(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	now := time.Now()

	rec, _ := m.Submit(ctx, testPlan("exec-1"), "fp", "", now)

	got, err := m.Reject(ctx, "exec-1", "too risky", now)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != StatusRejected || got.Reason != "too risky" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := m.Approve(ctx, "exec-1", rec.PlanHash, now); !errors.Is(err, ErrTerminal) {
		t.Fatalf("approve after reject should be terminal, got %v", err)
	}
	if _, err := m.Reject(ctx, "exec-1", "again", now); !errors.Is(err, ErrTerminal) {
		t.Fatalf("double reject should be terminal, got %v", err)
	}
}

func TestApproveUnknownExecution(t *testing.T) {
	m, _ := newTestMachine(t)
	if _, err := m.Approve(context.Background(), "ghost", "sha256:x", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPendingListsOnlyAwaiting(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	now := time.Now()

	m.Submit(ctx, testPlan("exec-1"), "fp", "", now)
	rec2, _ := m.Submit(ctx, testPlan("exec-2"), "fp", "", now)
	m.Approve(ctx, "exec-2", rec2.PlanHash, now)

	pending, err := m.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ExecutionID != "exec-1" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}
