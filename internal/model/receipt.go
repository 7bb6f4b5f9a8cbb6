package model

// ReceiptApproval is the approval_required detail carried by a receipt.
type ReceiptApproval struct {
	Code ApprovalCode `json:"code"`
}

// Receipt is one immutable audit record of an outcome. All fields are
// structs or scalars (no map[string]any) so json.Marshal field order is
// deterministic and the ledger's hash chain is reproducible.
type Receipt struct {
	ExecutionID      string           `json:"execution_id"`
	ThreadID         string           `json:"thread_id,omitempty"`
	Fingerprint      string           `json:"fingerprint"`
	Kind             string           `json:"kind"`
	Status           string           `json:"status"`
	CreatedAt        string           `json:"created_at"`
	StartedAt        string           `json:"started_at,omitempty"`
	FinishedAt       string           `json:"finished_at,omitempty"`
	PlanHash         string           `json:"plan_hash,omitempty"`
	ApprovalRequired *ReceiptApproval `json:"approval_required,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	PrevHash         string           `json:"prev_hash"`
}

// Receipt kinds written by the core.
const (
	ReceiptKindGate       = "gate_decision"
	ReceiptKindApproval   = "approval_transition"
	ReceiptKindDelegation = "delegation_event"
	ReceiptKindScheduler  = "scheduler_run"
	ReceiptKindConfidence = "confidence_capture"
)
