// Package governor rate-limits command execution per fingerprint with a
// continuously refilling token bucket, overridden by a time-boxed circuit
// breaker while one is open. Decisions are typed results, not errors, so
// callers can branch and write the outcome to the receipt ledger.
package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

// casRetries bounds the optimistic-write retry loop on counter updates.
const casRetries = 5

// Params are the deployment-wide bucket settings. They apply to every
// fingerprint; there is no per-fingerprint tuning.
type Params struct {
	Capacity        float64 `yaml:"capacity"`
	RefillPerMinute float64 `yaml:"refill_per_minute"`
	CostPerRun      float64 `yaml:"cost_per_run"`
}

// DefaultParams returns the documented defaults: capacity 10, refill
// 1 token/minute, cost 1 per run.
func DefaultParams() Params {
	return Params{Capacity: 10, RefillPerMinute: 1, CostPerRun: 1}
}

// Counter is the persisted token bucket state for one fingerprint.
type Counter struct {
	Fingerprint     string    `json:"fingerprint"`
	HourBucketStart time.Time `json:"hour_bucket_start"`
	TokensRemaining float64   `json:"tokens_remaining"`
	ConcurrentCount int       `json:"concurrent_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BreachCounts records why a breaker was opened.
type BreachCounts struct {
	PolicyDenials         int `json:"policy_denials"`
	Rollbacks             int `json:"rollbacks"`
	ConfidenceRegressions int `json:"confidence_regressions"`
}

// BreakerState is the persisted circuit breaker for one fingerprint.
// A fresh open replaces any prior state; expiry is purely by open_until
// passing, with no half-open probe.
type BreakerState struct {
	Fingerprint  string       `json:"fingerprint"`
	OpenUntil    time.Time    `json:"open_until"`
	OpenedAt     time.Time    `json:"opened_at"`
	Reason       string       `json:"reason"`
	BreachCounts BreachCounts `json:"breach_counts"`
}

// Result is the outcome of one governor check.
type Result struct {
	Allowed         bool
	Throttle        *model.Throttled
	TokensRemaining float64
}

// Governor gates every command by fingerprint.
type Governor struct {
	store  store.Store
	params Params
}

// New creates a Governor over the given store. Each non-positive
// parameter is replaced with its default independently, so a partial
// Params can never produce a bucket that divides by a zero refill rate.
func New(s store.Store, params Params) *Governor {
	def := DefaultParams()
	if params.Capacity <= 0 {
		params.Capacity = def.Capacity
	}
	if params.RefillPerMinute <= 0 {
		params.RefillPerMinute = def.RefillPerMinute
	}
	if params.CostPerRun <= 0 {
		params.CostPerRun = def.CostPerRun
	}
	return &Governor{store: s, params: params}
}

// Check evaluates the breaker and then the token bucket for a fingerprint.
// The breaker, while open, short-circuits without touching the bucket.
// Counter state that is missing or unreadable is replaced with a full
// bucket: the governor is a best-effort meter and fails open.
func (g *Governor) Check(ctx context.Context, fp string, now time.Time) (Result, error) {
	if br, ok := g.breaker(ctx, fp); ok && now.Before(br.OpenUntil) {
		return Result{
			Throttle: &model.Throttled{
				Code:    model.CircuitBreakerOpen,
				Reason:  br.Reason,
				RetryAt: br.OpenUntil,
			},
		}, nil
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		res, err := g.checkBucket(ctx, fp, now)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return res, err
	}
	return Result{}, fmt.Errorf("governor: counter update for %s contended beyond %d attempts", fp, casRetries)
}

func (g *Governor) checkBucket(ctx context.Context, fp string, now time.Time) (Result, error) {
	ctr, seq := g.counter(ctx, fp, now)

	// Refill from elapsed time. A clock that moved backward contributes
	// nothing: clamping avoids token inflation from skew.
	elapsed := now.Sub(ctr.UpdatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	refillPerMS := g.params.RefillPerMinute / 60000.0
	ctr.TokensRemaining = math.Min(g.params.Capacity,
		ctr.TokensRemaining+float64(elapsed.Milliseconds())*refillPerMS)
	ctr.UpdatedAt = now
	ctr.HourBucketStart = now.Truncate(time.Hour)

	if ctr.TokensRemaining >= g.params.CostPerRun {
		ctr.TokensRemaining -= g.params.CostPerRun
		if err := g.putCounter(ctx, fp, ctr, seq); err != nil {
			return Result{}, err
		}
		return Result{Allowed: true, TokensRemaining: ctr.TokensRemaining}, nil
	}

	// Persist the refilled-but-undebited counter so the next check does
	// not double-count the elapsed interval.
	if err := g.putCounter(ctx, fp, ctr, seq); err != nil {
		return Result{}, err
	}

	deficit := g.params.CostPerRun - ctr.TokensRemaining
	waitMS := math.Ceil(deficit / refillPerMS)
	retryAt := now.Add(time.Duration(waitMS) * time.Millisecond)

	return Result{
		Throttle: &model.Throttled{
			Code:    model.TokenBucketEmpty,
			Reason:  fmt.Sprintf("token bucket empty: %.2f of %.2f tokens, cost %.2f", ctr.TokensRemaining, g.params.Capacity, g.params.CostPerRun),
			RetryAt: retryAt,
		},
		TokensRemaining: ctr.TokensRemaining,
	}, nil
}

// OpenBreaker trips the circuit breaker for a fingerprint. Callers invoke
// it explicitly (the gate does, after repeated denials, rollbacks, or
// regressions); Check never opens a breaker on its own. An existing
// breaker is replaced, not accumulated.
func (g *Governor) OpenBreaker(ctx context.Context, fp string, now time.Time, duration time.Duration, reason string, counts BreachCounts) (BreakerState, error) {
	br := BreakerState{
		Fingerprint:  fp,
		OpenUntil:    now.Add(duration),
		OpenedAt:     now,
		Reason:       reason,
		BreachCounts: counts,
	}
	raw, err := json.Marshal(br)
	if err != nil {
		return BreakerState{}, fmt.Errorf("governor: marshal breaker: %w", err)
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		var seq uint64
		if doc, err := g.store.GetDoc(ctx, store.FamilyCircuitBreaker, fp); err == nil {
			seq = doc.Seq
		}
		if _, err := g.store.PutDoc(ctx, store.FamilyCircuitBreaker, fp, raw, seq); err == nil {
			return br, nil
		} else if !errors.Is(err, store.ErrConflict) {
			return BreakerState{}, fmt.Errorf("governor: persist breaker for %s: %w", fp, err)
		}
	}
	return BreakerState{}, fmt.Errorf("governor: breaker write for %s contended beyond %d attempts", fp, casRetries)
}

// Breaker returns the current breaker state for a fingerprint, if any.
func (g *Governor) Breaker(ctx context.Context, fp string) (BreakerState, bool) {
	return g.breaker(ctx, fp)
}

func (g *Governor) breaker(ctx context.Context, fp string) (BreakerState, bool) {
	doc, err := g.store.GetDoc(ctx, store.FamilyCircuitBreaker, fp)
	if err != nil {
		return BreakerState{}, false
	}
	var br BreakerState
	if err := json.Unmarshal(doc.Value, &br); err != nil {
		// Corrupt breaker state: treat as absent.
		return BreakerState{}, false
	}
	return br, true
}

// counter loads the bucket for fp, lazily creating a full one. Returns
// the CAS sequence to write back against (0 = create).
func (g *Governor) counter(ctx context.Context, fp string, now time.Time) (Counter, uint64) {
	doc, err := g.store.GetDoc(ctx, store.FamilyGovernorCounter, fp)
	if err != nil {
		return g.freshCounter(fp, now), 0
	}
	var ctr Counter
	if err := json.Unmarshal(doc.Value, &ctr); err != nil {
		// Corrupt counter: assume safe default (full bucket).
		return g.freshCounter(fp, now), doc.Seq
	}
	return ctr, doc.Seq
}

func (g *Governor) freshCounter(fp string, now time.Time) Counter {
	return Counter{
		Fingerprint:     fp,
		HourBucketStart: now.Truncate(time.Hour),
		TokensRemaining: g.params.Capacity,
		UpdatedAt:       now,
	}
}

func (g *Governor) putCounter(ctx context.Context, fp string, ctr Counter, seq uint64) error {
	raw, err := json.Marshal(ctr)
	if err != nil {
		return fmt.Errorf("governor: marshal counter: %w", err)
	}
	if _, err := g.store.PutDoc(ctx, store.FamilyGovernorCounter, fp, raw, seq); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return err
		}
		return fmt.Errorf("governor: persist counter for %s: %w", fp, err)
	}
	return nil
}
