package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerIncludesAttachedWorkerMetrics(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	worker := NewWorkerMetrics("api")
	httpMetrics.Attach(worker.Registry())

	worker.StartTask()
	worker.FinishTask("done", 2*time.Second)
	httpMetrics.RecordAsk("api", "answered", 3, time.Second)

	rec := httptest.NewRecorder()
	httpMetrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`manual_worker_image_task_total{outcome="done",service="api"} 1`,
		`manual_rag_ask_total{outcome="answered",service="api"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestMiddlewareNormalizesUnknownPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/123", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `path="other",service="api",status="418"`) {
		t.Fatalf("expected normalized path label, got:\n%s", rec.Body.String())
	}
}
