package mcp

import (
	"context"
	"fmt"
	"os"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steward-sh/steward/internal/confidence"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/scheduler"
)

// --- Input/Output types ---

// PlanStepInput is one step of a submitted execution plan.
type PlanStepInput struct {
	StepID         string `json:"step_id,omitempty" jsonschema:"step identifier, generated when omitted"`
	Action         string `json:"action" jsonschema:"what the step does"`
	Adapter        string `json:"adapter,omitempty" jsonschema:"adapter the step targets (e.g. notion, email)"`
	ReadOnly       bool   `json:"read_only,omitempty" jsonschema:"true when the step cannot mutate external state"`
	IdempotencyKey string `json:"idempotency_key,omitempty" jsonschema:"dedupe key for retried writes"`
}

// SubmitInput defines parameters for the steward_submit tool.
type SubmitInput struct {
	Command     string          `json:"command" jsonschema:"normalized command text"`
	DomainScope string          `json:"domain_scope,omitempty" jsonschema:"fingerprint scope (e.g. notion)"`
	ThreadID    string          `json:"thread_id,omitempty" jsonschema:"thread for receipt correlation"`
	Mode        string          `json:"mode,omitempty" jsonschema:"autonomy mode: read_only, propose_only, approval_gated, auto_run (default approval_gated)"`
	Steps       []PlanStepInput `json:"steps,omitempty" jsonschema:"execution plan steps; a single read-only evaluation step when omitted"`
}

// SubmitOutput contains the gate decision.
type SubmitOutput struct {
	Decision    string  `json:"decision"`
	ExecutionID string  `json:"execution_id"`
	Fingerprint string  `json:"fingerprint"`
	Reason      string  `json:"reason,omitempty"`
	PlanHash    string  `json:"plan_hash,omitempty"`
	Confidence  float64 `json:"confidence"`
	Band        string  `json:"band,omitempty"`
	RetryAt     string  `json:"retry_at,omitempty"`
}

// ApproveInput defines parameters for the steward_approve tool.
type ApproveInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"execution to approve"`
	PlanHash    string `json:"plan_hash" jsonschema:"plan hash frozen at submission; must match exactly"`
}

// RejectInput defines parameters for the steward_reject tool.
type RejectInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"execution to reject"`
	Reason      string `json:"reason,omitempty" jsonschema:"why the plan was rejected"`
}

// ResolveOutput reports the approval state after approve/reject.
type ResolveOutput struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	PlanHash    string `json:"plan_hash"`
	Reason      string `json:"reason,omitempty"`
}

// PendingInput is empty.
type PendingInput struct{}

// PendingItem is one execution waiting for approval.
type PendingItem struct {
	ExecutionID string    `json:"execution_id"`
	Fingerprint string    `json:"fingerprint"`
	PlanHash    string    `json:"plan_hash"`
	Goal        string    `json:"goal"`
	Steps       int       `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
}

// PendingOutput lists pending approvals.
type PendingOutput struct {
	Pending []PendingItem `json:"pending"`
}

// QueueInput is empty.
type QueueInput struct{}

// QueueItem is one ranked entry of the work queue.
type QueueItem struct {
	Kind         string    `json:"kind"`
	Summary      string    `json:"summary"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	Confidence   float64   `json:"confidence"`
	WaitingSince time.Time `json:"waiting_since"`
}

// QueueOutput lists the ranked queue.
type QueueOutput struct {
	Items []QueueItem `json:"items"`
}

// ConfidenceInput defines parameters for the steward_confidence tool.
type ConfidenceInput struct {
	Fingerprint string `json:"fingerprint" jsonschema:"command fingerprint to inspect"`
}

// ConfidenceOutput reports decayed confidence and regression state.
type ConfidenceOutput struct {
	Fingerprint    string  `json:"fingerprint"`
	Found          bool    `json:"found"`
	Raw            float64 `json:"raw"`
	Decayed        float64 `json:"decayed"`
	Band           string  `json:"band,omitempty"`
	Age            string  `json:"age,omitempty"`
	Regression     string  `json:"regression,omitempty"`
	RegressionAck  bool    `json:"regression_acknowledged,omitempty"`
	RegressionDate string  `json:"regression_evaluated_at,omitempty"`
}

// AckInput defines parameters for the steward_ack tool.
type AckInput struct {
	Fingerprint string `json:"fingerprint" jsonschema:"fingerprint with the regression to acknowledge"`
}

// AckOutput confirms the acknowledgement.
type AckOutput struct {
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
}

// ClassesInput is empty.
type ClassesInput struct{}

// ClassItem is one delegation class with its current state.
type ClassItem struct {
	ClassID       string   `json:"class_id"`
	Pattern       string   `json:"pattern"`
	AdapterType   string   `json:"adapter_type"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Active        bool     `json:"active"`
	AutonomyMode  string   `json:"autonomy_mode,omitempty"`
	ConfidenceMin float64  `json:"confidence_min,omitempty"`
	LastEvent     string   `json:"last_event,omitempty"`
}

// ClassesOutput lists delegation classes.
type ClassesOutput struct {
	Classes []ClassItem `json:"classes"`
}

// RecordRunInput defines parameters for the steward_record_run tool.
type RecordRunInput struct {
	Fingerprint          string   `json:"fingerprint" jsonschema:"fingerprint the run executed under"`
	Command              string   `json:"command" jsonschema:"normalized command text"`
	Mode                 string   `json:"mode,omitempty" jsonschema:"autonomy mode the run executed under (default approval_gated)"`
	Capabilities         []string `json:"capabilities,omitempty" jsonschema:"capabilities the run exercised"`
	CapabilityResolution float64  `json:"capability_resolution,omitempty" jsonschema:"fraction of required capabilities that resolved (0-1)"`
	PolicySimulation     string   `json:"policy_simulation,omitempty" jsonschema:"policy verdict observed: allow, require_approval, or deny"`
	SuccessRate          float64  `json:"success_rate,omitempty" jsonschema:"historical success rate for the command (0-1)"`
	RunsObserved         int      `json:"runs_observed,omitempty" jsonschema:"number of runs the success rate covers"`
}

// RecordRunOutput reports the regression check after the run.
type RecordRunOutput struct {
	Fingerprint string  `json:"fingerprint"`
	Regression  string  `json:"regression"`
	Delta       float64 `json:"delta"`
	RequiresAck bool    `json:"requires_ack"`
}

// RecordBreachInput names a fingerprint for rollback/denial recording.
type RecordBreachInput struct {
	Fingerprint string `json:"fingerprint" jsonschema:"fingerprint the event applies to"`
}

// RecordBreachOutput confirms the event was counted.
type RecordBreachOutput struct {
	Fingerprint string `json:"fingerprint"`
	Recorded    string `json:"recorded"`
}

// --- Handlers ---

func (s *Server) handleSubmit(ctx context.Context, req *mcpsdk.CallToolRequest, input SubmitInput) (*mcpsdk.CallToolResult, SubmitOutput, error) {
	if input.Command == "" {
		return nil, SubmitOutput{}, fmt.Errorf("command is required")
	}
	mode := model.AutonomyMode(input.Mode)
	switch mode {
	case "":
		mode = model.ModeApprovalGated
	case model.ModeReadOnly, model.ModeProposeOnly, model.ModeApprovalGated, model.ModeAutoRun:
	default:
		return nil, SubmitOutput{}, fmt.Errorf("unknown autonomy mode %q", input.Mode)
	}

	plan := &model.ExecutionPlan{Goal: input.Command}
	if len(input.Steps) == 0 {
		plan.Steps = []model.PlanStep{{StepID: "s1", Action: "evaluate", ReadOnly: true}}
	} else {
		for i, st := range input.Steps {
			stepID := st.StepID
			if stepID == "" {
				stepID = fmt.Sprintf("s%d", i+1)
			}
			plan.Steps = append(plan.Steps, model.PlanStep{
				StepID:         stepID,
				Action:         st.Action,
				Adapter:        st.Adapter,
				ReadOnly:       st.ReadOnly,
				IdempotencyKey: st.IdempotencyKey,
			})
		}
	}

	cmd := model.Command{
		Text:        input.Command,
		DomainScope: input.DomainScope,
		AgentID:     s.agentID,
		ThreadID:    input.ThreadID,
	}
	out, err := s.gate.Submit(ctx, cmd, plan, mode, time.Now().UTC())
	if err != nil {
		return nil, SubmitOutput{}, err
	}

	result := SubmitOutput{
		Decision:    string(out.Kind),
		ExecutionID: out.ExecutionID,
		Fingerprint: out.Fingerprint,
		Reason:      out.Reason,
		Confidence:  out.Confidence.Decayed,
		Band:        string(out.Confidence.Band),
	}
	if out.Approval != nil {
		result.PlanHash = out.Approval.PlanHash
	}
	if out.Throttle != nil {
		result.RetryAt = out.Throttle.RetryAt.Format(time.RFC3339)
	}
	return nil, result, nil
}

func (s *Server) handleApprove(ctx context.Context, req *mcpsdk.CallToolRequest, input ApproveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	rec, err := s.gate.Approvals().Approve(ctx, input.ExecutionID, input.PlanHash, time.Now().UTC())
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	return nil, ResolveOutput{
		ExecutionID: rec.ExecutionID,
		Status:      string(rec.Status),
		PlanHash:    rec.PlanHash,
	}, nil
}

func (s *Server) handleReject(ctx context.Context, req *mcpsdk.CallToolRequest, input RejectInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	rec, err := s.gate.Approvals().Reject(ctx, input.ExecutionID, input.Reason, time.Now().UTC())
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	return nil, ResolveOutput{
		ExecutionID: rec.ExecutionID,
		Status:      string(rec.Status),
		PlanHash:    rec.PlanHash,
		Reason:      rec.Reason,
	}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	recs, err := s.gate.Approvals().Pending(ctx)
	if err != nil {
		return nil, PendingOutput{}, err
	}
	out := PendingOutput{Pending: []PendingItem{}}
	for _, rec := range recs {
		out.Pending = append(out.Pending, PendingItem{
			ExecutionID: rec.ExecutionID,
			Fingerprint: rec.Fingerprint,
			PlanHash:    rec.PlanHash,
			Goal:        rec.Plan.Goal,
			Steps:       len(rec.Plan.Steps),
			CreatedAt:   rec.CreatedAt,
		})
	}
	return nil, out, nil
}

func (s *Server) handleQueue(ctx context.Context, req *mcpsdk.CallToolRequest, input QueueInput) (*mcpsdk.CallToolResult, QueueOutput, error) {
	jobs, err := s.loadJobs()
	if err != nil {
		return nil, QueueOutput{}, err
	}
	items, err := s.gate.Queue(ctx, s.sched, jobs, time.Now().UTC())
	if err != nil {
		return nil, QueueOutput{}, err
	}
	out := QueueOutput{Items: []QueueItem{}}
	for _, it := range items {
		out.Items = append(out.Items, QueueItem{
			Kind:         string(it.Kind),
			Summary:      it.Summary,
			Fingerprint:  it.Fingerprint,
			ExecutionID:  it.ExecutionID,
			JobID:        it.JobID,
			Confidence:   it.Confidence,
			WaitingSince: it.WaitingSince,
		})
	}
	return nil, out, nil
}

func (s *Server) handleConfidence(ctx context.Context, req *mcpsdk.CallToolRequest, input ConfidenceInput) (*mcpsdk.CallToolResult, ConfidenceOutput, error) {
	eff, err := s.gate.Confidence().Effective(ctx, input.Fingerprint, time.Now().UTC())
	if err != nil {
		return nil, ConfidenceOutput{}, err
	}
	out := ConfidenceOutput{
		Fingerprint: input.Fingerprint,
		Found:       eff.Found,
		Raw:         eff.Raw,
		Decayed:     eff.Decayed,
		Band:        string(eff.Band),
	}
	if eff.Found {
		out.Age = eff.Age.Round(time.Second).String()
	}
	check, ok, err := s.gate.Confidence().Regression(ctx, input.Fingerprint)
	if err != nil {
		return nil, ConfidenceOutput{}, err
	}
	if ok {
		out.Regression = string(check.Severity)
		out.RegressionAck = check.Acknowledged
		out.RegressionDate = check.EvaluatedAt.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleAck(ctx context.Context, req *mcpsdk.CallToolRequest, input AckInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := s.gate.Confidence().Acknowledge(ctx, input.Fingerprint); err != nil {
		return nil, AckOutput{}, err
	}
	return nil, AckOutput{Fingerprint: input.Fingerprint, Status: "acknowledged"}, nil
}

func (s *Server) handleClasses(ctx context.Context, req *mcpsdk.CallToolRequest, input ClassesInput) (*mcpsdk.CallToolResult, ClassesOutput, error) {
	statuses, err := s.gate.Supervisor().Classes(ctx)
	if err != nil {
		return nil, ClassesOutput{}, err
	}
	out := ClassesOutput{Classes: []ClassItem{}}
	for _, st := range statuses {
		item := ClassItem{
			ClassID:      st.Definition.ClassID,
			Pattern:      st.Definition.Pattern,
			AdapterType:  st.Definition.Adapter,
			Capabilities: st.Definition.Capabilities,
			Active:       st.Active,
		}
		if st.Approval != nil && st.Approval.Scope != nil {
			item.AutonomyMode = string(st.Approval.Scope.AutonomyMode)
			item.ConfidenceMin = st.Approval.Scope.ConfidenceMin
		}
		if st.LastEvent != nil {
			item.LastEvent = st.LastEvent.Type
		}
		out.Classes = append(out.Classes, item)
	}
	return nil, out, nil
}

func (s *Server) handleRecordRun(ctx context.Context, req *mcpsdk.CallToolRequest, input RecordRunInput) (*mcpsdk.CallToolResult, RecordRunOutput, error) {
	if input.Fingerprint == "" || input.Command == "" {
		return nil, RecordRunOutput{}, fmt.Errorf("fingerprint and command are required")
	}
	mode := model.AutonomyMode(input.Mode)
	switch mode {
	case "":
		mode = model.ModeApprovalGated
	case model.ModeReadOnly, model.ModeProposeOnly, model.ModeApprovalGated, model.ModeAutoRun:
	default:
		return nil, RecordRunOutput{}, fmt.Errorf("unknown autonomy mode %q", input.Mode)
	}

	check, err := s.gate.RecordRun(ctx, input.Fingerprint, input.Command, mode, input.Capabilities, confidence.Features{
		CapabilityResolution:  input.CapabilityResolution,
		PolicySimulation:      input.PolicySimulation,
		HistoricalSuccessRate: input.SuccessRate,
		RunsObserved:          input.RunsObserved,
	}, time.Now().UTC())
	if err != nil {
		return nil, RecordRunOutput{}, err
	}
	return nil, RecordRunOutput{
		Fingerprint: input.Fingerprint,
		Regression:  string(check.Severity),
		Delta:       check.Delta,
		RequiresAck: check.RequiresAck,
	}, nil
}

func (s *Server) handleRecordRollback(ctx context.Context, req *mcpsdk.CallToolRequest, input RecordBreachInput) (*mcpsdk.CallToolResult, RecordBreachOutput, error) {
	if err := s.gate.RecordRollback(ctx, input.Fingerprint, time.Now().UTC()); err != nil {
		return nil, RecordBreachOutput{}, err
	}
	return nil, RecordBreachOutput{Fingerprint: input.Fingerprint, Recorded: "rollback"}, nil
}

func (s *Server) handleRecordDenial(ctx context.Context, req *mcpsdk.CallToolRequest, input RecordBreachInput) (*mcpsdk.CallToolResult, RecordBreachOutput, error) {
	if err := s.gate.RecordDenial(ctx, input.Fingerprint, time.Now().UTC()); err != nil {
		return nil, RecordBreachOutput{}, err
	}
	return nil, RecordBreachOutput{Fingerprint: input.Fingerprint, Recorded: "denial"}, nil
}

func (s *Server) loadJobs() ([]scheduler.Job, error) {
	if s.cfg.JobsPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(s.cfg.JobsPath); os.IsNotExist(err) {
		return nil, nil
	}
	return scheduler.LoadJobs(s.cfg.JobsPath)
}
