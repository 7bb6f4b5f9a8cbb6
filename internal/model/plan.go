package model

// PlanStep is one unit of work inside an execution plan. The idempotency
// key travels with the step so adapter retries never double-apply.
type PlanStep struct {
	StepID         string         `json:"step_id"`
	Action         string         `json:"action"`
	Adapter        string         `json:"adapter"`
	ReadOnly       bool           `json:"read_only"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// ExecutionPlan is a proposed run of one or more steps. Once an approval
// record references a plan by hash, the plan is immutable: any edit
// produces a different hash and invalidates the approval.
type ExecutionPlan struct {
	ExecutionID          string     `json:"execution_id"`
	Goal                 string     `json:"goal"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	Steps                []PlanStep `json:"steps"`
}

// WriteCapable reports whether any step can mutate external state.
func (p *ExecutionPlan) WriteCapable() bool {
	for _, s := range p.Steps {
		if !s.ReadOnly {
			return true
		}
	}
	return false
}

// StepIDs returns the ids of all steps in plan order.
func (p *ExecutionPlan) StepIDs() []string {
	ids := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.StepID)
	}
	return ids
}
