package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

func runCLI(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(nil)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api", serverURL}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReadEventsJoinsMultilineData(t *testing.T) {
	stream := "event: sources\ndata: []\n\ndata: ## 1) Open\ndata: \n\ndata: step\n\ndata: [DONE]\n\n"
	var got []string
	err := readEvents(strings.NewReader(stream), func(event, data string) error {
		got = append(got, event+"|"+data)
		return nil
	})
	if err != nil {
		t.Fatalf("readEvents() error = %v", err)
	}
	want := []string{"sources|[]", "|## 1) Open\n", "|step", "|[DONE]"}
	if strings.Join(got, ";") != strings.Join(want, ";") {
		t.Fatalf("unexpected events %q", got)
	}
}

func TestAskStreamsAnswerAndSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ask" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["question"] != "how do I post an announcement" {
			t.Errorf("unexpected question %q", req["question"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `event: sources`+"\n"+`data: [{"filename":"lms.docx","position":2,"kind":"text-chunk","score":0.91}]`+"\n\n")
		_, _ = io.WriteString(w, "data: ## 1) Click the megaphone\ndata: \n\n")
		_, _ = io.WriteString(w, "data: Done.\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	out, err := runCLI(t, server.URL, "ask", "--sources", "how", "do", "I", "post", "an", "announcement")
	if err != nil {
		t.Fatalf("ask error = %v", err)
	}
	if !strings.Contains(out, "## 1) Click the megaphone\nDone.") {
		t.Fatalf("unexpected answer output %q", out)
	}
	if !strings.Contains(out, "[1] lms.docx #2 text-chunk (0.91)") {
		t.Fatalf("expected sources listing, got %q", out)
	}
}

func TestAskReportsStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: partial\n\nevent: error\ndata: {\"error\":\"model crashed\"}\n\n")
	}))
	defer server.Close()

	_, err := runCLI(t, server.URL, "ask", "q")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "model crashed" {
		t.Fatalf("expected stream APIError, got %v", err)
	}
}

func TestAskRenderUsesMarkdownRenderer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: ## Steps\ndata: \ndata: 1. Click **megaphone**\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	out, err := runCLI(t, server.URL, "ask", "--render", "--style", "notty", "q")
	if err != nil {
		t.Fatalf("ask error = %v", err)
	}
	if !strings.Contains(out, "megaphone") || !strings.Contains(out, "Steps") {
		t.Fatalf("expected rendered markdown, got %q", out)
	}
	if strings.Contains(out, "## Steps\n\n1. Click") {
		t.Fatalf("expected renderer layout, got raw markdown %q", out)
	}
}

func TestAskSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"embedding backend unavailable"}`)
	}))
	defer server.Close()

	_, err := runCLI(t, server.URL, "ask", "q")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 APIError, got %v", err)
	}
}

func TestIngestUploadsGlobMatchesAndWaits(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "lms"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.md", "lms/b.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("# manual"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var uploads []string
	var statusCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/documents":
			_, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("FormFile() error = %v", err)
				return
			}
			uploads = append(uploads, header.Filename)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(domain.IngestionResult{DocumentID: "doc-" + header.Filename, ChunkCount: 1, ImageTaskIDs: []string{"t1"}})
		case "/v1/queue/status":
			status := domain.QueueStatus{Pending: 1, Total: 2, Done: 1}
			if atomic.AddInt32(&statusCalls, 1) > 1 {
				status = domain.QueueStatus{Total: 2, Done: 2}
			}
			_ = json.NewEncoder(w).Encode(status)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	out, err := runCLI(t, server.URL, "ingest", "--wait", "--poll-interval", "10ms", filepath.Join(dir, "**", "*.md"))
	if err != nil {
		t.Fatalf("ingest error = %v", err)
	}
	if len(uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %v", uploads)
	}
	if !strings.Contains(out, "images: 2/2 described") {
		t.Fatalf("expected drained queue report, got %q", out)
	}
}

func TestIngestReportsPartialAndFailedManuals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.docx")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":"extraction failed: image 3","result":{"document_id":"d1","chunk_count":4}}`)
	}))
	defer server.Close()

	out, err := runCLI(t, server.URL, "ingest", path, filepath.Join(dir, "missing.pdf"))
	if err == nil || !strings.Contains(err.Error(), "2 of 2 manuals failed") {
		t.Fatalf("expected failure summary, got %v", err)
	}
	if !strings.Contains(out, "partial, 4 chunks") {
		t.Fatalf("expected partial report, got %q", out)
	}
}

func TestIngestRejectsGlobWithoutMatches(t *testing.T) {
	_, err := runCLI(t, "http://127.0.0.1:0", "ingest", filepath.Join(t.TempDir(), "*.pdf"))
	if err == nil || !strings.Contains(err.Error(), "no files match") {
		t.Fatalf("expected no-match error, got %v", err)
	}
}

func TestStatusAndDocumentsCommands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/queue/status":
			_ = json.NewEncoder(w).Encode(domain.QueueStatus{
				Pending: 3, Processing: 1, Done: 5, Total: 9, IsProcessing: true,
				Current: &domain.CurrentTask{TaskID: "t", Filename: "lms.docx", Position: 7},
			})
		case "/v1/documents":
			_ = json.NewEncoder(w).Encode(map[string]any{"documents": []domain.DocumentSummary{
				{DocumentID: "d1", Filename: "lms.docx", ChunkCount: 12, ImageCount: 4},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	out, err := runCLI(t, server.URL, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, "pending:    3") || !strings.Contains(out, "lms.docx image #7") {
		t.Fatalf("unexpected status output %q", out)
	}

	out, err = runCLI(t, server.URL, "docs")
	if err != nil {
		t.Fatalf("documents error = %v", err)
	}
	if !strings.Contains(out, "lms.docx  12 chunks, 4 images  (d1)") {
		t.Fatalf("unexpected documents output %q", out)
	}

	out, err = runCLI(t, server.URL, "documents", "--json")
	if err != nil {
		t.Fatalf("documents --json error = %v", err)
	}
	if !strings.Contains(out, `"chunk_count": 12`) {
		t.Fatalf("unexpected json output %q", out)
	}
}
