package steward

import (
	"context"
	"fmt"
	"time"

	"github.com/steward-sh/steward/internal/approval"
	"github.com/steward-sh/steward/internal/config"
	"github.com/steward-sh/steward/internal/confidence"
	"github.com/steward-sh/steward/internal/delegation"
	"github.com/steward-sh/steward/internal/gate"
	"github.com/steward-sh/steward/internal/governor"
	"github.com/steward-sh/steward/internal/ledger"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

// Client holds the gate pipeline for in-process enforcement.
// Thread-safe for concurrent tool calls.
type Client struct {
	cfg  clientConfig
	st   store.Store
	led  *ledger.Ledger
	gate *gate.Gate
}

// New creates a Client with the given options. It opens the store and
// ledger named by the config; Close releases them.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{mode: ModeApprovalGated}
	for _, o := range opts {
		o(&cfg)
	}

	c, _, err := config.LoadWithHash(cfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("steward: load config: %w", err)
	}
	st, err := store.OpenSQLite(c.StorePath)
	if err != nil {
		return nil, fmt.Errorf("steward: open store: %w", err)
	}
	led, err := ledger.Open(c.LedgerPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("steward: open ledger: %w", err)
	}

	gov := governor.New(st, c.GovernorParams())
	conf := confidence.New(st, c.HalfLife(), c.Confidence.PolicyVersion)
	sup := delegation.New(st, conf, led)
	appr := approval.New(st, led)

	return &Client{
		cfg:  cfg,
		st:   st,
		led:  led,
		gate: gate.New(st, gov, conf, sup, appr, led, c.Thresholds()),
	}, nil
}

// Close releases the store and ledger.
func (c *Client) Close() error {
	if err := c.led.Close(); err != nil {
		c.st.Close()
		return err
	}
	return c.st.Close()
}

// Check submits an action to the gate and returns the decision. Every
// check writes a receipt; a cleared decision does not execute anything.
func (c *Client) Check(ctx context.Context, action Action) (Result, error) {
	return c.submit(ctx, action, c.cfg.mode)
}

// Approve approves a pending execution. The plan hash must match the
// hash frozen at submission.
func (c *Client) Approve(ctx context.Context, executionID, planHash string) error {
	_, err := c.gate.Approvals().Approve(ctx, executionID, planHash, time.Now().UTC())
	return err
}

// Reject rejects a pending execution. Rejection is terminal.
func (c *Client) Reject(ctx context.Context, executionID, reason string) error {
	_, err := c.gate.Approvals().Reject(ctx, executionID, reason, time.Now().UTC())
	return err
}

// Pending lists executions waiting for approval.
func (c *Client) Pending(ctx context.Context) ([]Result, error) {
	recs, err := c.gate.Approvals().Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Result{
			Decision:    ApprovalRequired,
			ExecutionID: rec.ExecutionID,
			Fingerprint: rec.Fingerprint,
			PlanHash:    rec.PlanHash,
			Reason:      rec.Plan.Goal,
		})
	}
	return out, nil
}

// ReportRun feeds the outcome of an executed action back into the
// gate. It refreshes confidence for the fingerprint and returns the
// result of the regression check; a regression that requires
// acknowledgement blocks auto-run for the fingerprint until cleared.
func (c *Client) ReportRun(ctx context.Context, fingerprint string, report RunReport) (Regression, error) {
	if fingerprint == "" || report.Command == "" {
		return Regression{}, fmt.Errorf("steward: fingerprint and command are required")
	}
	mode := report.Mode
	if mode == "" {
		mode = c.cfg.mode
	}
	check, err := c.gate.RecordRun(ctx, fingerprint, report.Command, model.AutonomyMode(mode), report.Capabilities, confidence.Features{
		CapabilityResolution:  report.CapabilityResolution,
		PolicySimulation:      report.PolicySimulation,
		HistoricalSuccessRate: report.SuccessRate,
		RunsObserved:          report.RunsObserved,
	}, time.Now().UTC())
	if err != nil {
		return Regression{}, err
	}
	return Regression{
		Severity:    string(check.Severity),
		Delta:       check.Delta,
		RequiresAck: check.RequiresAck,
	}, nil
}

// ReportDenial records an external policy denial for a fingerprint.
// Enough denials inside the breach window open the circuit breaker.
func (c *Client) ReportDenial(ctx context.Context, fingerprint string) error {
	return c.gate.RecordDenial(ctx, fingerprint, time.Now().UTC())
}

// ReportRollback records that an executed action had to be rolled
// back. Enough rollbacks inside the breach window open the circuit
// breaker for the fingerprint.
func (c *Client) ReportRollback(ctx context.Context, fingerprint string) error {
	return c.gate.RecordRollback(ctx, fingerprint, time.Now().UTC())
}

func (c *Client) submit(ctx context.Context, action Action, mode Mode) (Result, error) {
	if action.Command == "" {
		return Result{}, fmt.Errorf("steward: action command is empty")
	}

	plan := &model.ExecutionPlan{Goal: action.Command}
	if len(action.Steps) == 0 {
		plan.Steps = []model.PlanStep{{StepID: "s1", Action: "evaluate", ReadOnly: true}}
	} else {
		for i, st := range action.Steps {
			plan.Steps = append(plan.Steps, model.PlanStep{
				StepID:         fmt.Sprintf("s%d", i+1),
				Action:         st.Action,
				Adapter:        st.Adapter,
				ReadOnly:       st.ReadOnly,
				IdempotencyKey: st.IdempotencyKey,
			})
		}
	}

	cmd := model.Command{
		Text:        action.Command,
		DomainScope: action.DomainScope,
		AgentID:     c.cfg.agentID,
		ThreadID:    action.ThreadID,
	}
	out, err := c.gate.Submit(ctx, cmd, plan, model.AutonomyMode(mode), time.Now().UTC())
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Decision:    Decision(out.Kind),
		ExecutionID: out.ExecutionID,
		Fingerprint: out.Fingerprint,
		Reason:      out.Reason,
		Confidence:  out.Confidence.Decayed,
		Band:        string(out.Confidence.Band),
	}
	if out.Approval != nil {
		res.PlanHash = out.Approval.PlanHash
	}
	if out.Throttle != nil {
		res.RetryAt = out.Throttle.RetryAt
	}
	return res, nil
}
