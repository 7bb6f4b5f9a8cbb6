// Package model defines the closed command and plan types the governance
// core operates on. Raw operator text is parsed into these by an external
// normalizer; nothing inside the core pattern-matches free text except the
// delegation supervisor's glob over normalized command text.
package model

import "strings"

// Command is one normalized automation command submitted for governance.
type Command struct {
	// Text is the normalized command text, e.g. "/notion set pg_999 Status=Done".
	Text string `json:"text"`
	// DomainScope narrows the fingerprint, e.g. "notion" or "email".
	DomainScope string `json:"domain_scope,omitempty"`
	// AgentID identifies the submitting agent, if any.
	AgentID string `json:"agent_id,omitempty"`
	// ThreadID groups related submissions for receipt correlation.
	ThreadID string `json:"thread_id,omitempty"`
}

// Normalize trims surrounding whitespace and collapses internal runs of
// whitespace to single spaces. Fingerprints are computed over the
// normalized form so that cosmetic spacing never forks identity.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Normalized returns the command text in canonical form.
func (c Command) Normalized() string {
	return Normalize(c.Text)
}
