package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steward-sh/steward/internal/governor"
	"github.com/steward-sh/steward/internal/store"
)

// Breach kinds tracked per fingerprint.
const (
	breachDenial     = "policy_denial"
	breachRollback   = "rollback"
	breachRegression = "confidence_regression"
)

// Thresholds configures when accumulated breaches trip the breaker. Counts
// apply over a rolling window per fingerprint; crossing any one of them
// opens the breaker for OpenFor.
type Thresholds struct {
	PolicyDenials         int           `yaml:"policy_denials"`
	Rollbacks             int           `yaml:"rollbacks"`
	ConfidenceRegressions int           `yaml:"confidence_regressions"`
	Window                time.Duration `yaml:"window"`
	OpenFor               time.Duration `yaml:"open_for"`
}

// DefaultThresholds returns the default auto-open policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PolicyDenials:         5,
		Rollbacks:             3,
		ConfidenceRegressions: 2,
		Window:                time.Hour,
		OpenFor:               time.Hour,
	}
}

type breachEvent struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

type breachWindow struct {
	Fingerprint string        `json:"fingerprint"`
	Events      []breachEvent `json:"events"`
}

const breachCASRetries = 5

// breachTracker accumulates breach observations per fingerprint and trips
// the governor's breaker when a rolling-window threshold is crossed.
type breachTracker struct {
	store store.Store
	gov   *governor.Governor
	th    Thresholds
}

func newBreachTracker(s store.Store, gov *governor.Governor, th Thresholds) *breachTracker {
	if th.Window <= 0 {
		th = DefaultThresholds()
	}
	return &breachTracker{store: s, gov: gov, th: th}
}

// observe records one breach and reports whether it opened the breaker.
func (b *breachTracker) observe(ctx context.Context, fp, kind string, now time.Time) (bool, error) {
	var win breachWindow
	for attempt := 0; attempt < breachCASRetries; attempt++ {
		var seq uint64
		win = breachWindow{Fingerprint: fp}
		if doc, err := b.store.GetDoc(ctx, store.FamilyBreachWindow, fp); err == nil {
			seq = doc.Seq
			// Corrupt state resets to an empty window.
			_ = json.Unmarshal(doc.Value, &win)
			win.Fingerprint = fp
		}

		cutoff := now.Add(-b.th.Window)
		kept := win.Events[:0]
		for _, ev := range win.Events {
			if ev.At.After(cutoff) {
				kept = append(kept, ev)
			}
		}
		win.Events = append(kept, breachEvent{Kind: kind, At: now.UTC()})

		raw, err := json.Marshal(win)
		if err != nil {
			return false, fmt.Errorf("gate: marshal breach window: %w", err)
		}
		_, err = b.store.PutDoc(ctx, store.FamilyBreachWindow, fp, raw, seq)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("gate: persist breach window for %s: %w", fp, err)
		}
		return b.maybeOpen(ctx, fp, win, now)
	}
	return false, fmt.Errorf("gate: breach window for %s contended beyond %d attempts", fp, breachCASRetries)
}

func (b *breachTracker) maybeOpen(ctx context.Context, fp string, win breachWindow, now time.Time) (bool, error) {
	counts := governor.BreachCounts{}
	for _, ev := range win.Events {
		switch ev.Kind {
		case breachDenial:
			counts.PolicyDenials++
		case breachRollback:
			counts.Rollbacks++
		case breachRegression:
			counts.ConfidenceRegressions++
		}
	}

	var reason string
	switch {
	case counts.PolicyDenials >= b.th.PolicyDenials:
		reason = fmt.Sprintf("%d policy denials within %s", counts.PolicyDenials, b.th.Window)
	case counts.Rollbacks >= b.th.Rollbacks:
		reason = fmt.Sprintf("%d rollbacks within %s", counts.Rollbacks, b.th.Window)
	case counts.ConfidenceRegressions >= b.th.ConfidenceRegressions:
		reason = fmt.Sprintf("%d confidence regressions within %s", counts.ConfidenceRegressions, b.th.Window)
	default:
		return false, nil
	}

	if _, err := b.gov.OpenBreaker(ctx, fp, now, b.th.OpenFor, reason, counts); err != nil {
		return false, fmt.Errorf("gate: open breaker for %s: %w", fp, err)
	}
	return true, nil
}
