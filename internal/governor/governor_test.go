package governor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/store"
)

func newTestGovernor(t *testing.T, p Params) *Governor {
	t.Helper()
	return New(store.NewMemory(), p)
}

func TestDrainWithoutElapsedTime(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 10, RefillPerMinute: 1, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		res, err := g.Check(ctx, "fp1", now)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("check %d: expected allowed", i)
		}
		want := 10 - float64(i+1)
		if math.Abs(res.TokensRemaining-want) > 1e-9 {
			t.Fatalf("check %d: expected %.0f tokens, got %f", i, want, res.TokensRemaining)
		}
	}

	res, err := g.Check(ctx, "fp1", now)
	if err != nil {
		t.Fatalf("11th check: %v", err)
	}
	if res.Allowed {
		t.Fatal("11th check should be throttled")
	}
	if res.Throttle.Code != model.TokenBucketEmpty {
		t.Fatalf("expected TOKEN_BUCKET_EMPTY, got %s", res.Throttle.Code)
	}
	// retry_at ≈ now + 60s at 1 token/minute
	wait := res.Throttle.RetryAt.Sub(now)
	if wait < 59*time.Second || wait > 61*time.Second {
		t.Fatalf("expected retry in ~60s, got %s", wait)
	}
}

func TestPartialParamsDefaulted(t *testing.T) {
	// a config that sets only the capacity must still get a usable
	// refill rate, or retry_at would divide by zero
	g := newTestGovernor(t, Params{Capacity: 2})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if g.params.RefillPerMinute != 1 || g.params.CostPerRun != 1 {
		t.Fatalf("unset params not defaulted: %+v", g.params)
	}
	if g.params.Capacity != 2 {
		t.Fatalf("explicit capacity overwritten: %+v", g.params)
	}

	for i := 0; i < 2; i++ {
		if res, err := g.Check(ctx, "fp1", now); err != nil || !res.Allowed {
			t.Fatalf("check %d: allowed=%v err=%v", i, res.Allowed, err)
		}
	}
	res, err := g.Check(ctx, "fp1", now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("third check should be throttled")
	}
	wait := res.Throttle.RetryAt.Sub(now)
	if wait <= 0 || wait > 2*time.Minute {
		t.Fatalf("retry_at must be a finite wait, got %s", wait)
	}
}

func TestRefillOverTime(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 2, RefillPerMinute: 1, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if res, _ := g.Check(ctx, "fp", now); !res.Allowed {
			t.Fatalf("drain check %d throttled", i)
		}
	}
	if res, _ := g.Check(ctx, "fp", now); res.Allowed {
		t.Fatal("bucket should be empty")
	}

	// one minute later one token has refilled
	res, err := g.Check(ctx, "fp", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("check after refill: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected allowed after refill")
	}
}

func TestRefillCappedAtCapacity(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 3, RefillPerMinute: 60, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	g.Check(ctx, "fp", now)

	// hours later the bucket holds capacity, not capacity + hours*refill
	res, _ := g.Check(ctx, "fp", now.Add(5*time.Hour))
	if math.Abs(res.TokensRemaining-2) > 1e-9 {
		t.Fatalf("expected 2 tokens after capped refill and debit, got %f", res.TokensRemaining)
	}
}

func TestClockBackwardClamped(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 2, RefillPerMinute: 60, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	g.Check(ctx, "fp", now)
	g.Check(ctx, "fp", now)

	// clock moved backward: no refill may happen
	res, _ := g.Check(ctx, "fp", now.Add(-10*time.Minute))
	if res.Allowed {
		t.Fatal("backward clock must not inflate tokens")
	}
}

func TestUndebitedRefillPersisted(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 1, RefillPerMinute: 1, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	g.Check(ctx, "fp", now) // drain

	// 30s refills half a token; throttled, but the half token persists
	res, _ := g.Check(ctx, "fp", now.Add(30*time.Second))
	if res.Allowed {
		t.Fatal("expected throttled at half a token")
	}

	// 30 more seconds completes the token from the persisted half
	res, _ = g.Check(ctx, "fp", now.Add(60*time.Second))
	if !res.Allowed {
		t.Fatal("expected allowed after full refill interval")
	}
}

func TestBreakerOverridesBucket(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 10, RefillPerMinute: 1, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	openUntil := now.Add(time.Hour)

	if _, err := g.OpenBreaker(ctx, "fp", now, time.Hour, "repeated rollbacks", BreachCounts{Rollbacks: 3}); err != nil {
		t.Fatalf("open breaker: %v", err)
	}

	res, err := g.Check(ctx, "fp", now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected breaker to throttle")
	}
	if res.Throttle.Code != model.CircuitBreakerOpen {
		t.Fatalf("expected CIRCUIT_BREAKER_OPEN, got %s", res.Throttle.Code)
	}
	if !res.Throttle.RetryAt.Equal(openUntil) {
		t.Fatalf("retry_at should equal open_until: %s vs %s", res.Throttle.RetryAt, openUntil)
	}
}

func TestBreakerExpiryRevertsToBucket(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 10, RefillPerMinute: 1, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	g.OpenBreaker(ctx, "fp", now, time.Hour, "denials", BreachCounts{PolicyDenials: 5})

	// first check at open_until is evaluated purely against the bucket
	res, err := g.Check(ctx, "fp", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected allowed once breaker expired, got %+v", res.Throttle)
	}
}

func TestBreakerReplacedNotAccumulated(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 10, RefillPerMinute: 1, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	g.OpenBreaker(ctx, "fp", now, 2*time.Hour, "first", BreachCounts{PolicyDenials: 5})
	g.OpenBreaker(ctx, "fp", now, 10*time.Minute, "second", BreachCounts{Rollbacks: 1})

	br, ok := g.Breaker(ctx, "fp")
	if !ok {
		t.Fatal("expected breaker state")
	}
	if br.Reason != "second" {
		t.Fatalf("expected replacement, got reason %q", br.Reason)
	}
	if !br.OpenUntil.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("expected shortened open_until, got %s", br.OpenUntil)
	}
}

func TestFingerprintsIndependent(t *testing.T) {
	g := newTestGovernor(t, Params{Capacity: 1, RefillPerMinute: 1, CostPerRun: 1})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if res, _ := g.Check(ctx, "a", now); !res.Allowed {
		t.Fatal("fp a first check should pass")
	}
	if res, _ := g.Check(ctx, "a", now); res.Allowed {
		t.Fatal("fp a second check should throttle")
	}
	if res, _ := g.Check(ctx, "b", now); !res.Allowed {
		t.Fatal("fp b must not share fp a's bucket")
	}
}
