package steward

import (
	"fmt"
	"time"

	"github.com/steward-sh/steward/internal/model"
)

// Decision is the gate outcome for a submitted action.
type Decision string

const (
	AutoRun          Decision = Decision(model.OutcomeAutoRun)
	Allowed          Decision = Decision(model.OutcomeAllowed)
	ApprovalRequired Decision = Decision(model.OutcomeApprovalRequired)
	Throttled        Decision = Decision(model.OutcomeThrottled)
	Denied           Decision = Decision(model.OutcomeDenied)
)

// Mode is the autonomy level actions are submitted at.
type Mode string

const (
	ModeReadOnly      Mode = Mode(model.ModeReadOnly)
	ModeProposeOnly   Mode = Mode(model.ModeProposeOnly)
	ModeApprovalGated Mode = Mode(model.ModeApprovalGated)
	ModeAutoRun       Mode = Mode(model.ModeAutoRun)
)

// Step is one step of an action's execution plan.
type Step struct {
	Action         string // what the step does
	Adapter        string // adapter the step targets, e.g. "notion"
	ReadOnly       bool
	IdempotencyKey string
}

// Action describes what a tool intends to do.
type Action struct {
	Command     string // normalized command text
	DomainScope string // fingerprint scope, e.g. "notion"
	ThreadID    string // receipt correlation
	Steps       []Step // plan steps; empty means one read-only evaluation step
}

// ReadAction builds an action with a single read-only step.
func ReadAction(command string) Action {
	return Action{
		Command: command,
		Steps:   []Step{{Action: "evaluate", ReadOnly: true}},
	}
}

// WriteAction builds an action with a single write step against the
// given adapter.
func WriteAction(command, adapter string) Action {
	return Action{
		Command:     command,
		DomainScope: adapter,
		Steps:       []Step{{Action: "apply", Adapter: adapter}},
	}
}

// Result is a gate evaluation outcome.
type Result struct {
	Decision    Decision
	ExecutionID string
	Fingerprint string
	Reason      string
	PlanHash    string  // set when Decision is ApprovalRequired
	Confidence  float64 // decayed confidence at evaluation time
	Band        string
	RetryAt     time.Time // set when Decision is Throttled
}

// Cleared returns true if the decision permits the action to run now.
func (r Result) Cleared() bool {
	return r.Decision == AutoRun || r.Decision == Allowed
}

// RunReport carries the observed signals from one completed run.
type RunReport struct {
	Command              string   // normalized command text
	Mode                 Mode     // autonomy mode the run executed under
	Capabilities         []string // capabilities the run exercised
	CapabilityResolution float64  // fraction of required capabilities that resolved (0-1)
	PolicySimulation     string   // policy verdict observed: "allow", "require_approval", "deny"
	SuccessRate          float64  // historical success rate for the command (0-1)
	RunsObserved         int      // number of runs the success rate covers
}

// Regression summarizes the regression check run after a report.
type Regression struct {
	Severity    string  // "none", "major", or "hard"
	Delta       float64 // score drop against the baseline
	RequiresAck bool    // auto-run is blocked until acknowledged
}

// BlockedError is returned when the gate does not clear an action.
type BlockedError struct {
	Action      Action
	Decision    Decision
	Reason      string
	ExecutionID string
	PlanHash    string
	RetryAt     time.Time
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("steward blocked (%s): %s", e.Decision, e.Reason)
}
