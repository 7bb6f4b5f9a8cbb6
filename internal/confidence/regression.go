package confidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steward-sh/steward/internal/store"
)

// Severity classifies a confidence regression.
type Severity string

const (
	SeverityNone  Severity = "NONE"
	SeverityMajor Severity = "MAJOR"
	SeverityHard  Severity = "HARD"
)

// minorDelta is the negative score delta below which a drop is noise.
const minorDelta = 5.0

// RegressionCheck compares the latest artifact against its immediate
// predecessor. requires_ack blocks auto-run paths until an operator
// acknowledges; nothing ever flips acknowledged automatically.
type RegressionCheck struct {
	Command      string    `json:"command"`
	Fingerprint  string    `json:"fingerprint"`
	Baseline     *Artifact `json:"baseline,omitempty"`
	Current      Artifact  `json:"current"`
	Delta        float64   `json:"delta"`
	Severity     Severity  `json:"severity"`
	RequiresAck  bool      `json:"requires_ack"`
	Acknowledged bool      `json:"acknowledged"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// bandRank orders bands for drop detection.
var bandRank = map[Band]int{BandLow: 0, BandMedium: 1, BandHigh: 2}

// classify derives severity from score delta and band movement. A band
// drop across a boundary, or any drop into LOW, is HARD; a moderate
// negative delta without a band drop is MAJOR.
func classify(baseline, current Artifact) (float64, Severity) {
	delta := current.Score - baseline.Score

	if bandRank[current.Band] < bandRank[baseline.Band] {
		return delta, SeverityHard
	}
	if delta < 0 && current.Band == BandLow && baseline.Band != BandLow {
		return delta, SeverityHard
	}
	if delta <= -minorDelta {
		return delta, SeverityMajor
	}
	return delta, SeverityNone
}

// CheckRegression evaluates the latest capture against its predecessor
// and persists the result as the fingerprint's current regression state.
// With fewer than two artifacts there is nothing to regress from and the
// check reports NONE without requiring acknowledgement.
func (e *Engine) CheckRegression(ctx context.Context, fp string, now time.Time) (RegressionCheck, error) {
	arts, err := e.lastN(ctx, fp, 2)
	if err != nil {
		return RegressionCheck{}, err
	}
	if len(arts) == 0 {
		return RegressionCheck{}, fmt.Errorf("confidence: no artifacts for %s", fp)
	}

	check := RegressionCheck{
		Command:     arts[0].Command,
		Fingerprint: fp,
		Current:     arts[0],
		Severity:    SeverityNone,
		EvaluatedAt: now.UTC(),
	}

	if len(arts) == 2 {
		baseline := arts[1]
		check.Baseline = &baseline
		check.Delta, check.Severity = classify(baseline, arts[0])
		check.RequiresAck = check.Severity != SeverityNone
	}

	if err := e.putRegression(ctx, fp, check); err != nil {
		return RegressionCheck{}, err
	}
	return check, nil
}

// Regression returns the current regression state for a fingerprint.
func (e *Engine) Regression(ctx context.Context, fp string) (RegressionCheck, bool, error) {
	doc, err := e.store.GetDoc(ctx, store.FamilyRegression, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RegressionCheck{}, false, nil
		}
		return RegressionCheck{}, false, fmt.Errorf("confidence: read regression for %s: %w", fp, err)
	}
	var check RegressionCheck
	if err := json.Unmarshal(doc.Value, &check); err != nil {
		return RegressionCheck{}, false, fmt.Errorf("confidence: corrupt regression for %s: %w", fp, err)
	}
	return check, true, nil
}

// Acknowledge flips the acknowledged flag. This is the only path that
// clears requires_ack gating; it is always an explicit operator action.
func (e *Engine) Acknowledge(ctx context.Context, fp string) error {
	doc, err := e.store.GetDoc(ctx, store.FamilyRegression, fp)
	if err != nil {
		return fmt.Errorf("confidence: no regression to acknowledge for %s: %w", fp, err)
	}
	var check RegressionCheck
	if err := json.Unmarshal(doc.Value, &check); err != nil {
		return fmt.Errorf("confidence: corrupt regression for %s: %w", fp, err)
	}
	if check.Acknowledged {
		return nil
	}
	check.Acknowledged = true

	raw, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("confidence: marshal regression: %w", err)
	}
	if _, err := e.store.PutDoc(ctx, store.FamilyRegression, fp, raw, doc.Seq); err != nil {
		return fmt.Errorf("confidence: persist acknowledgement for %s: %w", fp, err)
	}
	return nil
}

// Unacknowledged reports whether fp has a regression that still blocks
// auto-run.
func (e *Engine) Unacknowledged(ctx context.Context, fp string) (bool, error) {
	check, found, err := e.Regression(ctx, fp)
	if err != nil {
		return false, err
	}
	return found && check.RequiresAck && !check.Acknowledged, nil
}

// PendingRegressions lists all unacknowledged regression checks.
func (e *Engine) PendingRegressions(ctx context.Context) ([]RegressionCheck, error) {
	docs, err := e.store.ListDocs(ctx, store.FamilyRegression)
	if err != nil {
		return nil, fmt.Errorf("confidence: list regressions: %w", err)
	}
	var pending []RegressionCheck
	for _, d := range docs {
		var check RegressionCheck
		if err := json.Unmarshal(d.Value, &check); err != nil {
			continue
		}
		if check.RequiresAck && !check.Acknowledged {
			pending = append(pending, check)
		}
	}
	return pending, nil
}

func (e *Engine) putRegression(ctx context.Context, fp string, check RegressionCheck) error {
	raw, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("confidence: marshal regression: %w", err)
	}

	var seq uint64
	if doc, err := e.store.GetDoc(ctx, store.FamilyRegression, fp); err == nil {
		// Never clobber an unacknowledged regression with a cleaner one:
		// the operator must see and ack the worst outstanding state.
		var prev RegressionCheck
		if json.Unmarshal(doc.Value, &prev) == nil &&
			prev.RequiresAck && !prev.Acknowledged && check.Severity == SeverityNone {
			return nil
		}
		seq = doc.Seq
	}
	if _, err := e.store.PutDoc(ctx, store.FamilyRegression, fp, raw, seq); err != nil {
		return fmt.Errorf("confidence: persist regression for %s: %w", fp, err)
	}
	return nil
}
