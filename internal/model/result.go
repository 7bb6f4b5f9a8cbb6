package model

import "time"

// ThrottleCode identifies why the governor refused a command.
type ThrottleCode string

const (
	TokenBucketEmpty   ThrottleCode = "TOKEN_BUCKET_EMPTY"
	CircuitBreakerOpen ThrottleCode = "CIRCUIT_BREAKER_OPEN"
)

// ApprovalCode identifies why human approval is required.
type ApprovalCode string

// WriteOperation marks plans that can mutate external state.
const WriteOperation ApprovalCode = "WRITE_OPERATION"

// OutcomeKind classifies the terminal state of one gate submission.
type OutcomeKind string

const (
	OutcomeAutoRun          OutcomeKind = "AUTO_RUN"
	OutcomeApprovalRequired OutcomeKind = "APPROVAL_REQUIRED"
	OutcomeThrottled        OutcomeKind = "THROTTLED"
	OutcomeDenied           OutcomeKind = "DENIED"
	OutcomeAllowed          OutcomeKind = "ALLOWED"
)

// Throttled is the governor's advisory backpressure result. It is a typed
// value, not an error: callers branch on it and record the outcome.
type Throttled struct {
	Code    ThrottleCode `json:"code"`
	Reason  string       `json:"reason"`
	RetryAt time.Time    `json:"retry_at"`
}

// AutonomyMode is the trust level a command class runs at.
type AutonomyMode string

const (
	ModeReadOnly      AutonomyMode = "read_only"
	ModeProposeOnly   AutonomyMode = "propose_only"
	ModeApprovalGated AutonomyMode = "approval_gated"
	ModeAutoRun       AutonomyMode = "auto_run"
)
