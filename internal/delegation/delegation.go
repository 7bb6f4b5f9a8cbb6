// Package delegation maps command patterns to pre-approved capability
// classes so qualifying commands run without per-instance approval.
// Delegation alone never grants execution: a promotion record and live
// confidence are required too, and any unacknowledged regression
// auto-suspends the class immediately.
package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steward-sh/steward/internal/confidence"
	"github.com/steward-sh/steward/internal/fingerprint"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

// ReasonAutoSuspended is the revocation reason written when a regression
// suspends a class without operator involvement.
const ReasonAutoSuspended = "auto_suspended_on_regression"

// ClassDefinition describes one delegated command class. Definitions are
// versioned by append; the current definition for a class id is the one
// with the highest sequence.
type ClassDefinition struct {
	ClassID      string    `json:"class_id"`
	Pattern      string    `json:"pattern"`
	Capabilities []string  `json:"capabilities"`
	Adapter      string    `json:"adapter"`
	Write        bool      `json:"write"`
	CreatedAt    time.Time `json:"created_at"`
	Seq          uint64    `json:"seq"`
}

// Scope bounds what an approval event grants. A promotion record is
// always required on top of the scope; delegation never waives it.
type Scope struct {
	AutonomyMode  model.AutonomyMode `json:"autonomy_mode"`
	ConfidenceMin float64            `json:"confidence_min"`
}

// Event is one append-only approval or revocation for a class.
type Event struct {
	Type    string    `json:"type"` // "approved" or "revoked"
	ClassID string    `json:"class_id"`
	By      string    `json:"by"`
	At      time.Time `json:"at"`
	Scope   *Scope    `json:"scope,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Seq     uint64    `json:"seq"`
}

const (
	eventApproved = "approved"
	eventRevoked  = "revoked"
)

// PromotionCriteria is the evidence a promotion was granted on.
type PromotionCriteria struct {
	ConfidenceAvg float64 `json:"confidence_avg"`
	RunsObserved  int     `json:"runs_observed"`
	Regressions   int     `json:"regressions"`
}

// PromotionRecord marks that a specific command fingerprint has earned
// autonomous execution. Keyed independently of class definitions so
// delegation can never substitute for demonstrated reliability.
type PromotionRecord struct {
	Fingerprint  string             `json:"fingerprint"`
	Command      string             `json:"command"`
	Criteria     PromotionCriteria  `json:"criteria"`
	PreviousMode model.AutonomyMode `json:"previous_mode"`
	NewMode      model.AutonomyMode `json:"new_mode"`
	PromotedAt   time.Time          `json:"promoted_at"`
}

// ClassStatus is the operator-facing view of one class.
type ClassStatus struct {
	Definition ClassDefinition `json:"definition"`
	Active     bool            `json:"active"`
	Approval   *Event          `json:"approval,omitempty"`
	LastEvent  *Event          `json:"last_event,omitempty"`
}

// Resolution is the outcome of matching a command against the classes.
type Resolution struct {
	// Class is the matched active class, nil when no class matches.
	Class *ClassStatus
	// Eligible is true only when every auto-run condition held.
	Eligible bool
	// Reason explains ineligibility.
	Reason string
	// AutoSuspended is true when this resolution suspended the class.
	AutoSuspended bool
	// Fingerprint is the caller-supplied command fingerprint the
	// regression and confidence gates were evaluated under.
	Fingerprint string
}

// ReceiptWriter is the slice of the receipt ledger the supervisor needs.
type ReceiptWriter interface {
	Append(r model.Receipt) error
}

// Supervisor resolves commands against delegated classes.
type Supervisor struct {
	store    store.Store
	conf     *confidence.Engine
	receipts ReceiptWriter
}

// New creates a Supervisor.
func New(s store.Store, conf *confidence.Engine, receipts ReceiptWriter) *Supervisor {
	return &Supervisor{store: s, conf: conf, receipts: receipts}
}

// DefineClass appends a new version of a class definition.
func (sv *Supervisor) DefineClass(ctx context.Context, def ClassDefinition, now time.Time) (ClassDefinition, error) {
	if def.ClassID == "" || def.Pattern == "" {
		return ClassDefinition{}, errors.New("delegation: class_id and pattern are required")
	}
	def.CreatedAt = now.UTC()

	raw, err := json.Marshal(def)
	if err != nil {
		return ClassDefinition{}, fmt.Errorf("delegation: marshal definition: %w", err)
	}
	entry, err := sv.store.Append(ctx, store.FamilyClassDef, def.ClassID, raw)
	if err != nil {
		return ClassDefinition{}, fmt.Errorf("delegation: append definition %s: %w", def.ClassID, err)
	}
	def.Seq = entry.Seq
	return def, nil
}

// ApproveClass appends an approval event. Required to reactivate a class
// after any revocation, including auto-suspension.
func (sv *Supervisor) ApproveClass(ctx context.Context, classID, by string, scope Scope, now time.Time) (Event, error) {
	if _, err := sv.currentDefinition(ctx, classID); err != nil {
		return Event{}, err
	}
	ev := Event{Type: eventApproved, ClassID: classID, By: by, At: now.UTC(), Scope: &scope}
	return sv.appendEvent(ctx, ev)
}

// RevokeClass appends a revocation event.
func (sv *Supervisor) RevokeClass(ctx context.Context, classID, by, reason string, now time.Time) (Event, error) {
	if _, err := sv.currentDefinition(ctx, classID); err != nil {
		return Event{}, err
	}
	ev := Event{Type: eventRevoked, ClassID: classID, By: by, At: now.UTC(), Reason: reason}
	return sv.appendEvent(ctx, ev)
}

// Promote records that a command fingerprint earned autonomous
// execution. The promotion fingerprint is derived here so callers cannot
// desynchronize key and content.
func (sv *Supervisor) Promote(ctx context.Context, command string, capabilities []string, adapterType string, criteria PromotionCriteria, previous, next model.AutonomyMode, now time.Time) (PromotionRecord, error) {
	normalized := model.Normalize(command)
	rec := PromotionRecord{
		Fingerprint:  fingerprint.Promotion(normalized, capabilities, adapterType),
		Command:      normalized,
		Criteria:     criteria,
		PreviousMode: previous,
		NewMode:      next,
		PromotedAt:   now.UTC(),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return PromotionRecord{}, fmt.Errorf("delegation: marshal promotion: %w", err)
	}

	var seq uint64
	if doc, err := sv.store.GetDoc(ctx, store.FamilyPromotion, rec.Fingerprint); err == nil {
		seq = doc.Seq
	}
	if _, err := sv.store.PutDoc(ctx, store.FamilyPromotion, rec.Fingerprint, raw, seq); err != nil {
		return PromotionRecord{}, fmt.Errorf("delegation: persist promotion: %w", err)
	}
	return rec, nil
}

// Promotion looks up the promotion record for a promotion fingerprint.
func (sv *Supervisor) Promotion(ctx context.Context, promotionFP string) (PromotionRecord, bool, error) {
	doc, err := sv.store.GetDoc(ctx, store.FamilyPromotion, promotionFP)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PromotionRecord{}, false, nil
		}
		return PromotionRecord{}, false, fmt.Errorf("delegation: read promotion: %w", err)
	}
	var rec PromotionRecord
	if err := json.Unmarshal(doc.Value, &rec); err != nil {
		return PromotionRecord{}, false, fmt.Errorf("delegation: corrupt promotion: %w", err)
	}
	return rec, true, nil
}

// Classes returns the status of every defined class.
func (sv *Supervisor) Classes(ctx context.Context) ([]ClassStatus, error) {
	ids, err := sv.store.Keys(ctx, store.FamilyClassDef)
	if err != nil {
		return nil, fmt.Errorf("delegation: list classes: %w", err)
	}
	statuses := make([]ClassStatus, 0, len(ids))
	for _, id := range ids {
		st, err := sv.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Status returns the current definition and activation state of a class.
// A class is active iff its latest event is an approval.
func (sv *Supervisor) Status(ctx context.Context, classID string) (ClassStatus, error) {
	def, err := sv.currentDefinition(ctx, classID)
	if err != nil {
		return ClassStatus{}, err
	}

	st := ClassStatus{Definition: def}
	last, approval, err := sv.latestEvents(ctx, classID)
	if err != nil {
		return ClassStatus{}, err
	}
	st.LastEvent = last
	if last != nil && last.Type == eventApproved {
		st.Active = true
		st.Approval = approval
	}
	return st, nil
}

// Resolve matches a normalized command against all active classes and
// evaluates auto-run eligibility. fp is the command fingerprint the
// caller computed; regression and confidence state are read under that
// same key, so what the gate records is what delegation gates on. When
// multiple patterns match, the most recently approved class wins.
// Observing an unacknowledged regression for fp suspends the matched
// class on the spot.
func (sv *Supervisor) Resolve(ctx context.Context, command, fp string, now time.Time) (Resolution, error) {
	normalized := model.Normalize(command)

	statuses, err := sv.Classes(ctx)
	if err != nil {
		return Resolution{}, err
	}

	var matched *ClassStatus
	for i := range statuses {
		st := &statuses[i]
		if !st.Active || !Match(st.Definition.Pattern, normalized) {
			continue
		}
		if matched == nil || st.Approval.At.After(matched.Approval.At) {
			matched = st
		}
	}

	if matched == nil {
		return Resolution{Reason: "no active class matches"}, nil
	}

	res := Resolution{Class: matched, Fingerprint: fp}

	// Regression gate first: it not only blocks this run, it revokes
	// the class until a human looks.
	blocked, err := sv.conf.Unacknowledged(ctx, fp)
	if err != nil {
		return Resolution{}, err
	}
	if blocked {
		if _, err := sv.suspend(ctx, matched.Definition.ClassID, fp, now); err != nil {
			return Resolution{}, err
		}
		res.AutoSuspended = true
		res.Reason = "unacknowledged confidence regression"
		return res, nil
	}

	promoFP := fingerprint.Promotion(normalized, matched.Definition.Capabilities, matched.Definition.Adapter)
	if _, found, err := sv.Promotion(ctx, promoFP); err != nil {
		return Resolution{}, err
	} else if !found {
		res.Reason = "no promotion record for command"
		return res, nil
	}

	eff, err := sv.conf.Effective(ctx, fp, now)
	if err != nil {
		return Resolution{}, err
	}
	if floor := matched.Approval.Scope.ConfidenceMin; eff.Decayed < floor {
		res.Reason = fmt.Sprintf("effective confidence %.1f below class minimum %.1f", eff.Decayed, floor)
		return res, nil
	}

	res.Eligible = true
	return res, nil
}

// suspend writes the auto-suspension revocation and its receipt.
func (sv *Supervisor) suspend(ctx context.Context, classID, fp string, now time.Time) (Event, error) {
	ev := Event{
		Type:    eventRevoked,
		ClassID: classID,
		By:      "supervisor",
		At:      now.UTC(),
		Reason:  ReasonAutoSuspended,
	}
	ev, err := sv.appendEvent(ctx, ev)
	if err != nil {
		return Event{}, err
	}
	if sv.receipts != nil {
		_ = sv.receipts.Append(model.Receipt{
			ExecutionID: fmt.Sprintf("suspend-%s-%d", classID, ev.Seq),
			Fingerprint: fp,
			Kind:        model.ReceiptKindDelegation,
			Status:      ReasonAutoSuspended,
			CreatedAt:   now.UTC().Format(time.RFC3339Nano),
			Reason:      fmt.Sprintf("class %s suspended on unacknowledged regression", classID),
		})
	}
	return ev, nil
}

func (sv *Supervisor) appendEvent(ctx context.Context, ev Event) (Event, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("delegation: marshal event: %w", err)
	}
	entry, err := sv.store.Append(ctx, store.FamilyClassEvent, ev.ClassID, raw)
	if err != nil {
		return Event{}, fmt.Errorf("delegation: append event for %s: %w", ev.ClassID, err)
	}
	ev.Seq = entry.Seq
	return ev, nil
}

func (sv *Supervisor) currentDefinition(ctx context.Context, classID string) (ClassDefinition, error) {
	entries, err := sv.store.Last(ctx, store.FamilyClassDef, classID, 1)
	if err != nil {
		return ClassDefinition{}, fmt.Errorf("delegation: read definition %s: %w", classID, err)
	}
	if len(entries) == 0 {
		return ClassDefinition{}, fmt.Errorf("delegation: unknown class %s", classID)
	}
	var def ClassDefinition
	if err := json.Unmarshal(entries[0].Value, &def); err != nil {
		return ClassDefinition{}, fmt.Errorf("delegation: corrupt definition %s: %w", classID, err)
	}
	def.Seq = entries[0].Seq
	return def, nil
}

// latestEvents returns the newest event and, if the newest is an
// approval, that approval.
func (sv *Supervisor) latestEvents(ctx context.Context, classID string) (last, approval *Event, err error) {
	entries, err := sv.store.Last(ctx, store.FamilyClassEvent, classID, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("delegation: read events %s: %w", classID, err)
	}
	if len(entries) == 0 {
		return nil, nil, nil
	}
	var ev Event
	if err := json.Unmarshal(entries[0].Value, &ev); err != nil {
		return nil, nil, fmt.Errorf("delegation: corrupt event %s: %w", classID, err)
	}
	ev.Seq = entries[0].Seq
	if ev.Type == eventApproved {
		return &ev, &ev, nil
	}
	return &ev, nil, nil
}
