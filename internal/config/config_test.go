package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %s", cfg.HTTPAddr)
	}
	if cfg.MaxRetries != 5 || cfg.SweepWorkers != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CallTimeout != 10*time.Second {
		t.Fatalf("CallTimeout = %s", cfg.CallTimeout)
	}
	if cfg.SweepCron == "" || cfg.RetryCron == "" || cfg.ReconcileCron == "" {
		t.Fatal("schedules must have defaults")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RADGATE_HTTP_ADDR", ":9090")
	t.Setenv("RADGATE_MAX_RETRIES", "3")
	t.Setenv("RADGATE_CALL_TIMEOUT", "30s")
	t.Setenv("RADGATE_SWEEP_DRY_RUN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.MaxRetries != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.CallTimeout != 30*time.Second || !cfg.SweepDryRun {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	t.Setenv("RADGATE_MAX_RETRIES", "lots")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed integer")
	}
}
