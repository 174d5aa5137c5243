package main

import (
	"testing"
)

func TestLoadConfigDefaultKind(t *testing.T) {
	cfg := loadConfig()
	if cfg.Kind != "dataset" {
		t.Fatalf("default kind = %q, want %q", cfg.Kind, "dataset")
	}
}

func TestLoadConfigKindOverride(t *testing.T) {
	t.Setenv("LISTENER_KIND", "visualization")
	cfg := loadConfig()
	if cfg.Kind != "visualization" {
		t.Fatalf("kind = %q, want %q", cfg.Kind, "visualization")
	}
}
