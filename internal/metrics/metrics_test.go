package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterExposedOnHandler(t *testing.T) {
	reg := New()
	c := reg.Counter("widgets_total", "widgets produced")
	c.Add(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	if !strings.Contains(body, "widgets_total 3") {
		t.Fatalf("expected widgets_total 3 in output, got:\n%s", body)
	}
}

func TestGaugeAndHistogramRegister(t *testing.T) {
	reg := New()
	g := reg.Gauge("queue_depth", "current queue depth")
	g.Set(42)
	h := reg.Histogram("request_seconds", "request duration", nil)
	h.Observe(0.2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	if !strings.Contains(body, "queue_depth 42") {
		t.Fatalf("expected gauge in output, got:\n%s", body)
	}
	if !strings.Contains(body, "request_seconds_sum") {
		t.Fatalf("expected histogram sum in output, got:\n%s", body)
	}
}

func TestCounterVecByLabel(t *testing.T) {
	reg := New()
	cv := reg.CounterVec("jobs_total", "jobs processed", "kind")
	cv.WithLabelValues("dataset").Inc()
	cv.WithLabelValues("collection").Inc()
	cv.WithLabelValues("collection").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	if !strings.Contains(body, `jobs_total{kind="collection"} 2`) {
		t.Fatalf("expected labeled counter in output, got:\n%s", body)
	}
}
