// Package gate runs the per-command governance pipeline: fingerprint,
// governor, confidence, delegation, approval, receipt. Decisions come back
// as typed outcomes, never as errors, so callers branch deterministically
// and every submission lands in the ledger exactly once.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steward-sh/steward/internal/approval"
	"github.com/steward-sh/steward/internal/confidence"
	"github.com/steward-sh/steward/internal/delegation"
	"github.com/steward-sh/steward/internal/fingerprint"
	"github.com/steward-sh/steward/internal/governor"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

// ReceiptWriter is the slice of the receipt ledger the gate needs.
type ReceiptWriter interface {
	Append(r model.Receipt) error
}

// Outcome is the typed result of one submission.
type Outcome struct {
	Kind        model.OutcomeKind
	ExecutionID string
	Fingerprint string
	Reason      string

	// Throttle is set when Kind is THROTTLED.
	Throttle *model.Throttled
	// Approval is set when Kind is APPROVAL_REQUIRED.
	Approval *approval.Record
	// Delegation is the class resolution consulted on the way, if any.
	Delegation *delegation.Resolution
	// Confidence is the decayed confidence observed during the check.
	Confidence confidence.Effective
}

// Gate wires the pipeline together over one store and ledger.
type Gate struct {
	store     store.Store
	gov       *governor.Governor
	conf      *confidence.Engine
	sup       *delegation.Supervisor
	approvals *approval.Machine
	receipts  ReceiptWriter
	breach    *breachTracker
}

// New creates a Gate.
func New(s store.Store, gov *governor.Governor, conf *confidence.Engine, sup *delegation.Supervisor, approvals *approval.Machine, receipts ReceiptWriter, th Thresholds) *Gate {
	return &Gate{
		store:     s,
		gov:       gov,
		conf:      conf,
		sup:       sup,
		approvals: approvals,
		receipts:  receipts,
		breach:    newBreachTracker(s, gov, th),
	}
}

// Approvals exposes the approval machine for operator transitions.
func (g *Gate) Approvals() *approval.Machine { return g.approvals }

// Supervisor exposes the delegation supervisor for class management.
func (g *Gate) Supervisor() *delegation.Supervisor { return g.sup }

// Confidence exposes the confidence engine for reads and acknowledgement.
func (g *Gate) Confidence() *confidence.Engine { return g.conf }

// Governor exposes the governor for breaker inspection.
func (g *Gate) Governor() *governor.Governor { return g.gov }

// Submit evaluates one command and plan through the full pipeline at the
// given instant. Exactly one gate receipt is appended per call; the
// approval machine appends its own transition receipts on top.
func (g *Gate) Submit(ctx context.Context, cmd model.Command, plan *model.ExecutionPlan, mode model.AutonomyMode, now time.Time) (Outcome, error) {
	if plan == nil {
		return Outcome{}, fmt.Errorf("gate: nil plan")
	}
	if plan.ExecutionID == "" {
		plan.ExecutionID = uuid.NewString()
	}

	normalized := cmd.Normalized()
	fp := fingerprint.Command(cmd.DomainScope, normalized)
	out := Outcome{ExecutionID: plan.ExecutionID, Fingerprint: fp}

	gov, err := g.gov.Check(ctx, fp, now)
	if err != nil {
		return Outcome{}, err
	}
	if gov.Throttle != nil {
		out.Kind = model.OutcomeThrottled
		out.Throttle = gov.Throttle
		out.Reason = gov.Throttle.Reason
		g.receipt(cmd, out, now)
		return out, nil
	}

	eff, err := g.conf.Effective(ctx, fp, now)
	if err != nil {
		return Outcome{}, err
	}
	out.Confidence = eff

	if mode == model.ModeReadOnly && plan.WriteCapable() {
		out.Kind = model.OutcomeDenied
		out.Reason = "write-capable plan in read_only mode"
		if _, err := g.breach.observe(ctx, fp, breachDenial, now); err != nil {
			return Outcome{}, err
		}
		g.receipt(cmd, out, now)
		return out, nil
	}

	res, err := g.sup.Resolve(ctx, normalized, fp, now)
	if err != nil {
		return Outcome{}, err
	}
	out.Delegation = &res
	if res.Eligible && mode != model.ModeProposeOnly {
		out.Kind = model.OutcomeAutoRun
		out.Reason = fmt.Sprintf("delegated class %s", res.Class.Definition.ClassID)
		g.receipt(cmd, out, now)
		return out, nil
	}

	if !plan.WriteCapable() {
		out.Kind = model.OutcomeAllowed
		out.Reason = "read-only plan"
		g.receipt(cmd, out, now)
		return out, nil
	}

	rec, err := g.approvals.Submit(ctx, plan, fp, cmd.ThreadID, now)
	if err != nil {
		return Outcome{}, err
	}
	out.Kind = model.OutcomeApprovalRequired
	out.Approval = &rec
	out.Reason = "write-capable plan requires approval"
	g.receipt(cmd, out, now)
	return out, nil
}

// RecordRun captures post-execution confidence for a fingerprint, runs the
// regression check, and feeds any regression into the breach tracker.
func (g *Gate) RecordRun(ctx context.Context, fp, command string, mode model.AutonomyMode, caps []string, f confidence.Features, now time.Time) (confidence.RegressionCheck, error) {
	art, err := g.conf.Capture(ctx, fp, command, mode, caps, f, now)
	if err != nil {
		return confidence.RegressionCheck{}, err
	}
	if g.receipts != nil {
		_ = g.receipts.Append(model.Receipt{
			ExecutionID: uuid.NewString(),
			Fingerprint: fp,
			Kind:        model.ReceiptKindConfidence,
			Status:      string(art.Band),
			CreatedAt:   now.UTC().Format(time.RFC3339Nano),
			Reason:      fmt.Sprintf("score %.1f, action %s", art.Score, art.Action),
		})
	}

	check, err := g.conf.CheckRegression(ctx, fp, now)
	if err != nil {
		return confidence.RegressionCheck{}, err
	}
	if check.Severity != confidence.SeverityNone {
		if _, err := g.breach.observe(ctx, fp, breachRegression, now); err != nil {
			return confidence.RegressionCheck{}, err
		}
	}
	return check, nil
}

// RecordRollback feeds one observed rollback into the breach tracker.
func (g *Gate) RecordRollback(ctx context.Context, fp string, now time.Time) error {
	_, err := g.breach.observe(ctx, fp, breachRollback, now)
	return err
}

// RecordDenial feeds one external policy denial into the breach tracker.
func (g *Gate) RecordDenial(ctx context.Context, fp string, now time.Time) error {
	_, err := g.breach.observe(ctx, fp, breachDenial, now)
	return err
}

func (g *Gate) receipt(cmd model.Command, out Outcome, now time.Time) {
	if g.receipts == nil {
		return
	}
	r := model.Receipt{
		ExecutionID: out.ExecutionID,
		ThreadID:    cmd.ThreadID,
		Fingerprint: out.Fingerprint,
		Kind:        model.ReceiptKindGate,
		Status:      string(out.Kind),
		CreatedAt:   now.UTC().Format(time.RFC3339Nano),
		Reason:      out.Reason,
	}
	if out.Approval != nil {
		r.PlanHash = out.Approval.PlanHash
		r.ApprovalRequired = &model.ReceiptApproval{Code: model.WriteOperation}
	}
	// Receipt write failures do not veto the decision; the decision state
	// is already persisted by the component that made it.
	_ = g.receipts.Append(r)
}
