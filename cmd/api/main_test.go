package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("default port = %q, want 8080", cfg.Port)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("default CORS origin = %q, want *", cfg.CORSOrigin)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INFERENCE_QUEUE_TIMEOUT_MS", "1500")
	cfg := loadConfig()
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.QueueTimeout != 1500*time.Millisecond {
		t.Fatalf("queue timeout = %v, want 1500ms", cfg.QueueTimeout)
	}
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestActorIDFallsBackToUnknown(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/transforms/trigger", nil)
	if got := actorID(req); got != "unknown" {
		t.Fatalf("actorID = %q, want unknown", got)
	}
	req.Header.Set("X-Actor-ID", "user-42")
	if got := actorID(req); got != "user-42" {
		t.Fatalf("actorID = %q, want user-42", got)
	}
}
