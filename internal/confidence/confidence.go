// Package confidence scores how much autonomy a command fingerprint has
// earned. Artifacts are captured append-only with per-fingerprint logical
// sequence numbers; reads derive a decayed view from age, and every new
// capture is compared against its predecessor for regressions.
package confidence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

// Band classifies a score.
type Band string

const (
	BandLow    Band = "LOW"
	BandMedium Band = "MEDIUM"
	BandHigh   Band = "HIGH"
)

// Action is the autonomy action a score maps to.
type Action string

const (
	ActionAutoRun     Action = "AUTO_RUN"
	ActionPropose     Action = "PROPOSE_FOR_APPROVAL"
	ActionHumanReview Action = "HUMAN_REVIEW_REQUIRED"
)

// Band boundaries. Scores are 0–100.
const (
	mediumFloor = 50.0
	highFloor   = 80.0
)

// Features are the policy-evaluation inputs a capture scores from.
type Features struct {
	// CapabilityResolution is the fraction of required capabilities that
	// resolved to known adapters, 0..1.
	CapabilityResolution float64 `json:"capability_resolution"`
	// PolicySimulation is the simulated policy decision for the command.
	PolicySimulation string `json:"policy_simulation"` // "allow", "require_approval", "deny"
	// HistoricalSuccessRate is the observed success fraction, 0..1.
	HistoricalSuccessRate float64 `json:"historical_success_rate"`
	// RunsObserved is how many runs the historical signal covers.
	RunsObserved int `json:"runs_observed"`
}

// Artifact is one immutable confidence capture. Superseded by later
// captures, never edited in place.
type Artifact struct {
	Fingerprint   string             `json:"fingerprint"`
	Command       string             `json:"command"`
	PolicyVersion string             `json:"policy_version"`
	AutonomyMode  model.AutonomyMode `json:"autonomy_mode"`
	CapabilitySet []string           `json:"capability_set,omitempty"`
	Score         float64            `json:"score"`
	Band          Band               `json:"band"`
	Action        Action             `json:"action"`
	CapturedAt    time.Time          `json:"captured_at"`
	Seq           uint64             `json:"seq"`
}

// Effective is the decayed view of the latest artifact at read time.
type Effective struct {
	Raw     float64
	Decayed float64
	Band    Band
	Age     time.Duration
	Found   bool
}

// Engine captures and reads confidence per fingerprint.
type Engine struct {
	store         store.Store
	halfLife      time.Duration
	policyVersion string
}

// New creates an Engine. halfLife controls exponential decay of scores
// between captures; zero falls back to the 7-day default.
func New(s store.Store, halfLife time.Duration, policyVersion string) *Engine {
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	return &Engine{store: s, halfLife: halfLife, policyVersion: policyVersion}
}

// Score computes the 0–100 score for a feature set. Weights: capability
// resolution 40, simulated policy decision 30, historical signal 30. The
// historical term is damped until enough runs have been observed so a
// single lucky run cannot claim high confidence.
func Score(f Features) float64 {
	capTerm := clamp01(f.CapabilityResolution) * 40

	var policyTerm float64
	switch f.PolicySimulation {
	case "allow":
		policyTerm = 30
	case "require_approval":
		policyTerm = 15
	default: // deny or unknown
		policyTerm = 0
	}

	damp := math.Min(1, float64(f.RunsObserved)/10.0)
	histTerm := clamp01(f.HistoricalSuccessRate) * damp * 30

	return capTerm + policyTerm + histTerm
}

// BandFor maps a score to its band.
func BandFor(score float64) Band {
	switch {
	case score >= highFloor:
		return BandHigh
	case score >= mediumFloor:
		return BandMedium
	default:
		return BandLow
	}
}

// ActionFor maps a band to its autonomy action.
func ActionFor(b Band) Action {
	switch b {
	case BandHigh:
		return ActionAutoRun
	case BandMedium:
		return ActionPropose
	default:
		return ActionHumanReview
	}
}

// Capture scores the features and appends a new artifact for the
// fingerprint at the given instant. Prior artifacts are untouched.
func (e *Engine) Capture(ctx context.Context, fp, command string, mode model.AutonomyMode, caps []string, f Features, now time.Time) (Artifact, error) {
	score := Score(f)
	band := BandFor(score)

	art := Artifact{
		Fingerprint:   fp,
		Command:       command,
		PolicyVersion: e.policyVersion,
		AutonomyMode:  mode,
		CapabilitySet: caps,
		Score:         score,
		Band:          band,
		Action:        ActionFor(band),
		CapturedAt:    now.UTC(),
	}

	raw, err := json.Marshal(art)
	if err != nil {
		return Artifact{}, fmt.Errorf("confidence: marshal artifact: %w", err)
	}
	entry, err := e.store.Append(ctx, store.FamilyConfidence, fp, raw)
	if err != nil {
		return Artifact{}, fmt.Errorf("confidence: append artifact for %s: %w", fp, err)
	}
	art.Seq = entry.Seq
	return art, nil
}

// Effective returns the decayed confidence for a fingerprint at now.
// Decay is exponential half-life over age and never increases the score.
// A missing artifact yields zero confidence in the LOW band.
func (e *Engine) Effective(ctx context.Context, fp string, now time.Time) (Effective, error) {
	art, ok, err := e.Latest(ctx, fp)
	if err != nil {
		return Effective{}, err
	}
	if !ok {
		return Effective{Band: BandLow}, nil
	}

	age := now.Sub(art.CapturedAt)
	if age < 0 {
		age = 0
	}
	decayed := art.Score * math.Pow(0.5, age.Seconds()/e.halfLife.Seconds())

	return Effective{
		Raw:     art.Score,
		Decayed: decayed,
		Band:    BandFor(decayed),
		Age:     age,
		Found:   true,
	}, nil
}

// Latest returns the most recent artifact for a fingerprint.
func (e *Engine) Latest(ctx context.Context, fp string) (Artifact, bool, error) {
	arts, err := e.lastN(ctx, fp, 1)
	if err != nil || len(arts) == 0 {
		return Artifact{}, false, err
	}
	return arts[0], true, nil
}

// lastN returns up to n artifacts, newest first. Corrupt entries are
// skipped rather than failing the read: confidence is advisory state.
func (e *Engine) lastN(ctx context.Context, fp string, n int) ([]Artifact, error) {
	entries, err := e.store.Last(ctx, store.FamilyConfidence, fp, n)
	if err != nil {
		return nil, fmt.Errorf("confidence: read artifacts for %s: %w", fp, err)
	}
	arts := make([]Artifact, 0, len(entries))
	for _, en := range entries {
		var a Artifact
		if err := json.Unmarshal(en.Value, &a); err != nil {
			continue
		}
		a.Seq = en.Seq
		arts = append(arts, a)
	}
	return arts, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
