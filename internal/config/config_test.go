package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Governor.Capacity != 10 || cfg.Governor.RefillPerMinute != 1 {
		t.Fatalf("defaults: %+v", cfg.Governor)
	}
	if cfg.HalfLife() != 7*24*time.Hour {
		t.Fatalf("half life = %v", cfg.HalfLife())
	}
}

func TestLoadOverlaysOnlySpecifiedFields(t *testing.T) {
	path := writeConfig(t, "governor:\n  capacity: 25\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Governor.Capacity != 25 {
		t.Errorf("capacity = %v, want overridden 25", cfg.Governor.Capacity)
	}
	if cfg.Governor.RefillPerMinute != 1 {
		t.Errorf("refill = %v, want default 1", cfg.Governor.RefillPerMinute)
	}
	if cfg.Breaker.PolicyDenials != 5 {
		t.Errorf("denial threshold = %d, want default 5", cfg.Breaker.PolicyDenials)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "confidence:\n  half_life: eventually\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid half_life")
	}
}

func TestLoadRejectsNonPositiveGovernor(t *testing.T) {
	path := writeConfig(t, "governor:\n  capacity: 0\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestLoadWithHashTracksContent(t *testing.T) {
	a := writeConfig(t, "governor:\n  capacity: 25\n")
	_, hashA, err := LoadWithHash(a)
	if err != nil {
		t.Fatal(err)
	}
	b := writeConfig(t, "governor:\n  capacity: 26\n")
	_, hashB, err := LoadWithHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if hashA == hashB {
		t.Fatal("different content must hash differently")
	}
	_, hashA2, _ := LoadWithHash(a)
	if hashA != hashA2 {
		t.Fatal("same content must hash identically")
	}
}

func TestThresholdsConversion(t *testing.T) {
	path := writeConfig(t, "breaker:\n  window: 30m\n  confidence_regressions: 4\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	th := cfg.Thresholds()
	if th.Window != 30*time.Minute {
		t.Errorf("window = %v", th.Window)
	}
	if th.ConfidenceRegressions != 4 {
		t.Errorf("regressions = %d", th.ConfidenceRegressions)
	}
	if th.OpenFor != time.Hour {
		t.Errorf("open_for = %v, want default 1h", th.OpenFor)
	}
}

func TestServeEnvOverrides(t *testing.T) {
	t.Setenv("STEWARD_STORE", "/tmp/alt.db")
	t.Setenv("STEWARD_TICK_INTERVAL", "30s")

	se, err := LoadServeEnv()
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if se.TickInterval != 30*time.Second {
		t.Errorf("tick = %v", se.TickInterval)
	}

	cfg := Default()
	se.Apply(cfg)
	if cfg.StorePath != "/tmp/alt.db" {
		t.Errorf("store path = %s", cfg.StorePath)
	}
	if cfg.LedgerPath == "" || cfg.LedgerPath == "/tmp/alt.db" {
		t.Errorf("ledger path clobbered: %s", cfg.LedgerPath)
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	path := writeConfig(t, DefaultConfigYAML())
	if _, err := Load(path); err != nil {
		t.Fatalf("generated default config must load: %v", err)
	}
}
