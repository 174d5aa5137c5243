package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

func TestHTTPEmbedClientSendsModelAndAuth(t *testing.T) {
	var gotAuth string
	var gotBody embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{1, 2}}}})
	}))
	defer srv.Close()

	c := NewHTTPEmbedClient(domain.EmbedderConfig{Endpoint: srv.URL, Model: "m1"}, "secret")
	out, err := c.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotBody.Model != "m1" || len(gotBody.Input) != 1 || gotBody.Input[0] != "hello" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if len(out) != 1 || len(out[0]) != 2 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestHTTPEmbedClientServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPEmbedClient(domain.EmbedderConfig{Endpoint: srv.URL, Model: "m1"}, "")
	_, err := c.Embed(context.Background(), []string{"hello"})
	var de *domain.Error
	if !okAs(err, &de) {
		t.Fatalf("expected a domain.Error, got %v", err)
	}
	if de.Kind != domain.KindTransient {
		t.Fatalf("expected transient kind, got %v", de.Kind)
	}
}

func TestHTTPEmbedClientClientErrorIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPEmbedClient(domain.EmbedderConfig{Endpoint: srv.URL, Model: "m1"}, "")
	_, err := c.Embed(context.Background(), []string{"hello"})
	var de *domain.Error
	if !okAs(err, &de) {
		t.Fatalf("expected a domain.Error, got %v", err)
	}
	if de.Kind != domain.KindValidation {
		t.Fatalf("expected validation kind, got %v", de.Kind)
	}
}

func okAs(err error, target **domain.Error) bool {
	de, ok := err.(*domain.Error)
	if !ok {
		return false
	}
	*target = de
	return true
}
