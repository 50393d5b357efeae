package httpadapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddlewarePropagatesValidID(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	req.Header.Set(requestIDHeader, "trace-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if seen != "trace-42" || res.Header().Get(requestIDHeader) != "trace-42" {
		t.Fatalf("expected propagated id, got ctx=%q header=%q", seen, res.Header().Get(requestIDHeader))
	}

	for _, bad := range []string{"has space", strings.Repeat("x", maxRequestIDLen+1), "line\nbreak"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		req.Header.Set(requestIDHeader, bad)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if seen == bad || seen == "" {
			t.Fatalf("expected generated id for %q, got %q", bad, seen)
		}
	}
}

func TestRecoverMiddlewareReturns500BeforeResponse(t *testing.T) {
	handler := accessLogMiddleware(recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "internal error") {
		t.Fatalf("expected json error body, got %q", res.Body.String())
	}
}

func TestRecoverMiddlewareLeavesStartedStreamAlone(t *testing.T) {
	handler := accessLogMiddleware(recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: step\n\n"))
		panic("generator crashed")
	})))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected original status, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "internal error") {
		t.Fatalf("must not append json to a started stream, got %q", res.Body.String())
	}
}

func TestStatusRecorderForwardsFlush(t *testing.T) {
	res := httptest.NewRecorder()
	recorder := &statusRecorder{ResponseWriter: res, statusCode: http.StatusOK}
	_, _ = recorder.Write([]byte("data: x\n\n"))
	recorder.Flush()
	if !res.Flushed || recorder.flushes != 1 {
		t.Fatalf("expected flush to reach the underlying writer")
	}
	if http.NewResponseController(recorder).Flush() != nil {
		t.Fatalf("expected response controller to find the flusher")
	}
}
