package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Interval != 300*time.Second {
		t.Fatalf("default interval = %v, want 300s", cfg.Interval)
	}
	if cfg.MetricsAddr != ":9092" {
		t.Fatalf("default metrics addr = %q, want :9092", cfg.MetricsAddr)
	}
}

func TestLoadConfigIntervalOverride(t *testing.T) {
	t.Setenv("RECONCILIATION_INTERVAL_SECS", "60")
	cfg := loadConfig()
	if cfg.Interval != 60*time.Second {
		t.Fatalf("interval = %v, want 60s", cfg.Interval)
	}
}
