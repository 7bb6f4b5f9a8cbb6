package scheduler

import (
	"testing"
	"time"
)

func TestParseRuleRejectsInvalid(t *testing.T) {
	bad := []string{
		"",
		"daily",
		"daily@25:00",
		"daily@09:61",
		"hourly@99",
		"weekly@someday 09:00",
		"weekly@mon",
		"every 5s",
		"every banana",
		"cron 0 9 * * *",
	}
	for _, s := range bad {
		if _, err := ParseRule(s); err == nil {
			t.Errorf("ParseRule(%q): expected error", s)
		}
	}
}

func TestWindowStart(t *testing.T) {
	// Wednesday
	at := time.Date(2024, 6, 5, 14, 37, 22, 0, time.UTC)

	cases := []struct {
		rule string
		want time.Time
	}{
		{"daily@09:00", time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)},
		{"daily@15:00", time.Date(2024, 6, 4, 15, 0, 0, 0, time.UTC)},
		{"hourly@30", time.Date(2024, 6, 5, 14, 30, 0, 0, time.UTC)},
		{"hourly@45", time.Date(2024, 6, 5, 13, 45, 0, 0, time.UTC)},
		{"weekly@mon 09:00", time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)},
		{"weekly@wed 09:00", time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)},
		{"weekly@wed 18:00", time.Date(2024, 5, 29, 18, 0, 0, 0, time.UTC)},
		{"weekly@thu 09:00", time.Date(2024, 5, 30, 9, 0, 0, 0, time.UTC)},
		{"every 15m", time.Date(2024, 6, 5, 14, 30, 0, 0, time.UTC)},
		{"every 1h", time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		rule, err := ParseRule(tc.rule)
		if err != nil {
			t.Fatalf("ParseRule(%q): %v", tc.rule, err)
		}
		if got := rule.WindowStart(at); !got.Equal(tc.want) {
			t.Errorf("%q.WindowStart(%v) = %v, want %v", tc.rule, at, got, tc.want)
		}
	}
}

func TestWindowStartExactBoundary(t *testing.T) {
	rule, err := ParseRule("daily@09:00")
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)
	if got := rule.WindowStart(at); !got.Equal(at) {
		t.Errorf("occurrence at exactly `at` starts a window: got %v", got)
	}
}

func TestWindowStartStableWithinWindow(t *testing.T) {
	rule, err := ParseRule("daily@09:00")
	if err != nil {
		t.Fatal(err)
	}
	early := time.Date(2024, 6, 5, 9, 0, 1, 0, time.UTC)
	late := time.Date(2024, 6, 6, 8, 59, 59, 0, time.UTC)
	if !rule.WindowStart(early).Equal(rule.WindowStart(late)) {
		t.Error("invocations inside one window must agree on the window start")
	}
}

func TestNext(t *testing.T) {
	rule, err := ParseRule("hourly@30")
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2024, 6, 5, 14, 37, 0, 0, time.UTC)
	want := time.Date(2024, 6, 5, 15, 30, 0, 0, time.UTC)
	if got := rule.Next(at); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}
