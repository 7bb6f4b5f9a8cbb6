package confidence

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(store.NewMemory(), 7*24*time.Hour, "policy-v1")
}

func capture(t *testing.T, e *Engine, fp string, f Features) Artifact {
	t.Helper()
	art, err := e.Capture(context.Background(), fp, "/notion set pg_1 Status=Done", model.ModeApprovalGated, []string{"notion.write"}, f, time.Now())
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	return art
}

func TestScoreBands(t *testing.T) {
	cases := []struct {
		name string
		f    Features
		band Band
	}{
		{"all strong", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 1, RunsObserved: 20}, BandHigh},
		{"no history", Features{CapabilityResolution: 1, PolicySimulation: "allow"}, BandMedium},
		{"denied policy", Features{CapabilityResolution: 0.5, PolicySimulation: "deny"}, BandLow},
		{"empty", Features{}, BandLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score := Score(tc.f)
			if score < 0 || score > 100 {
				t.Fatalf("score out of range: %f", score)
			}
			if got := BandFor(score); got != tc.band {
				t.Fatalf("expected band %s for score %f, got %s", tc.band, score, got)
			}
		})
	}
}

func TestHistoricalSignalDamped(t *testing.T) {
	one := Score(Features{HistoricalSuccessRate: 1, RunsObserved: 1})
	many := Score(Features{HistoricalSuccessRate: 1, RunsObserved: 10})
	if one >= many {
		t.Fatalf("one lucky run (%f) should score below a long record (%f)", one, many)
	}
}

func TestCaptureAppendsSequences(t *testing.T) {
	e := newTestEngine(t)
	a1 := capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow"})
	a2 := capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow"})
	if a1.Seq != 1 || a2.Seq != 2 {
		t.Fatalf("expected seq 1,2 got %d,%d", a1.Seq, a2.Seq)
	}

	latest, ok, err := e.Latest(context.Background(), "fp")
	if err != nil || !ok {
		t.Fatalf("latest failed: %v %v", ok, err)
	}
	if latest.Seq != 2 {
		t.Fatalf("expected latest seq=2, got %d", latest.Seq)
	}
}

func TestCaptureAndCheckStampProvidedTime(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	art, err := e.Capture(ctx, "fp", "/notion list inbox", model.ModeApprovalGated, nil, Features{CapabilityResolution: 1, PolicySimulation: "allow"}, at)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !art.CapturedAt.Equal(at) {
		t.Fatalf("captured_at = %v, want %v", art.CapturedAt, at)
	}

	check, err := e.CheckRegression(ctx, "fp", at)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !check.EvaluatedAt.Equal(at) {
		t.Fatalf("evaluated_at = %v, want %v", check.EvaluatedAt, at)
	}
}

func TestEffectiveDecayNeverIncreases(t *testing.T) {
	e := newTestEngine(t)
	art := capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 1, RunsObserved: 20})

	ctx := context.Background()
	now := art.CapturedAt

	fresh, err := e.Effective(ctx, "fp", now)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if math.Abs(fresh.Decayed-fresh.Raw) > 0.01 {
		t.Fatalf("fresh artifact should not decay: raw=%f decayed=%f", fresh.Raw, fresh.Decayed)
	}

	week, _ := e.Effective(ctx, "fp", now.Add(7*24*time.Hour))
	if math.Abs(week.Decayed-fresh.Raw/2) > 0.5 {
		t.Fatalf("one half-life should halve the score: %f vs %f", week.Decayed, fresh.Raw/2)
	}
	if week.Decayed > fresh.Decayed {
		t.Fatal("decay increased confidence")
	}

	// clock skew before capture time clamps to no decay
	before, _ := e.Effective(ctx, "fp", now.Add(-time.Hour))
	if math.Abs(before.Decayed-fresh.Raw) > 0.01 {
		t.Fatal("negative age must clamp, not inflate decay")
	}
}

func TestEffectiveMissingArtifact(t *testing.T) {
	e := newTestEngine(t)
	eff, err := e.Effective(context.Background(), "nope", time.Now())
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if eff.Found || eff.Decayed != 0 || eff.Band != BandLow {
		t.Fatalf("missing artifact should be zero/LOW: %+v", eff)
	}
}

func TestRegressionNoneOnFirstCapture(t *testing.T) {
	e := newTestEngine(t)
	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow"})

	check, err := e.CheckRegression(context.Background(), "fp", time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Severity != SeverityNone || check.RequiresAck {
		t.Fatalf("first capture has no baseline: %+v", check)
	}
	if check.Baseline != nil {
		t.Fatal("expected nil baseline")
	}
}

func TestRegressionHardOnBandDrop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 1, RunsObserved: 20}) // HIGH
	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow"})                                            // MEDIUM

	check, err := e.CheckRegression(ctx, "fp", time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Severity != SeverityHard {
		t.Fatalf("band drop should be HARD, got %s (delta %f)", check.Severity, check.Delta)
	}
	if !check.RequiresAck || check.Acknowledged {
		t.Fatalf("hard regression must require ack: %+v", check)
	}

	blocked, err := e.Unacknowledged(ctx, "fp")
	if err != nil || !blocked {
		t.Fatalf("expected unacknowledged regression, got %v %v", blocked, err)
	}
}

func TestRegressionMajorWithinBand(t *testing.T) {
	e := newTestEngine(t)

	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 1, RunsObserved: 20})   // 100, HIGH
	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 0.7, RunsObserved: 20}) // 91, HIGH

	check, err := e.CheckRegression(context.Background(), "fp", time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Severity != SeverityMajor {
		t.Fatalf("moderate drop within band should be MAJOR, got %s (delta %f)", check.Severity, check.Delta)
	}
}

func TestRegressionNoneOnImprovement(t *testing.T) {
	e := newTestEngine(t)

	capture(t, e, "fp", Features{CapabilityResolution: 0.5, PolicySimulation: "require_approval"})
	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow"})

	check, err := e.CheckRegression(context.Background(), "fp", time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Severity != SeverityNone || check.RequiresAck {
		t.Fatalf("improvement is not a regression: %+v", check)
	}
}

func TestAcknowledgeClearsGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 1, RunsObserved: 20})
	capture(t, e, "fp", Features{})
	e.CheckRegression(ctx, "fp", time.Now())

	if err := e.Acknowledge(ctx, "fp"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	blocked, err := e.Unacknowledged(ctx, "fp")
	if err != nil {
		t.Fatalf("unacknowledged: %v", err)
	}
	if blocked {
		t.Fatal("acknowledged regression should not block")
	}

	// idempotent
	if err := e.Acknowledge(ctx, "fp"); err != nil {
		t.Fatalf("second acknowledge: %v", err)
	}
}

func TestUnackedRegressionNotClobberedByCleanCheck(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 1, RunsObserved: 20})
	capture(t, e, "fp", Features{})
	e.CheckRegression(ctx, "fp", time.Now()) // HARD, unacked

	// recovery capture produces a NONE check, but the unacked HARD state
	// must survive until an operator acks it
	capture(t, e, "fp", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 1, RunsObserved: 20})
	e.CheckRegression(ctx, "fp", time.Now())

	blocked, err := e.Unacknowledged(ctx, "fp")
	if err != nil {
		t.Fatalf("unacknowledged: %v", err)
	}
	if !blocked {
		t.Fatal("unacked regression was silently cleared by a clean check")
	}
}

func TestPendingRegressions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	capture(t, e, "a", Features{CapabilityResolution: 1, PolicySimulation: "allow", HistoricalSuccessRate: 1, RunsObserved: 20})
	capture(t, e, "a", Features{})
	e.CheckRegression(ctx, "a", time.Now())

	capture(t, e, "b", Features{CapabilityResolution: 1, PolicySimulation: "allow"})
	e.CheckRegression(ctx, "b", time.Now())

	pending, err := e.PendingRegressions(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Fingerprint != "a" {
		t.Fatalf("expected only fingerprint a pending, got %+v", pending)
	}
}
