package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

func TestUpsertEnsuresCollectionOnce(t *testing.T) {
	var ensureCalls int32
	var lastPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/manuals":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/manuals/points":
			if r.URL.Query().Get("wait") != "true" {
				t.Errorf("expected wait=true on upsert")
			}
			var body struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode upsert: %v", err)
			}
			if len(body.Points) == 1 {
				lastPayload = body.Points[0].Payload
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "manuals", 2)
	rec := domain.VectorRecord{DocumentID: "doc-1", Filename: "a.docx", Kind: domain.KindImageDescription, Position: 3, Content: "gear icon", Embedding: []float32{0.1, 0.2}}
	for i := 0; i < 2; i++ {
		id, err := client.Upsert(context.Background(), rec)
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if id == "" {
			t.Fatalf("expected generated id")
		}
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if lastPayload["kind"] != "image-description" || lastPayload["doc_id"] != "doc-1" {
		t.Fatalf("unexpected payload %v", lastPayload)
	}
}

func TestUpsertIssuesIncreasingInsertSeqForSameTimestamp(t *testing.T) {
	var seqs []float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/manuals/points" {
			var body struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			for _, p := range body.Points {
				seqs = append(seqs, getNumberPayload(p.Payload, "insert_seq"))
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL, "manuals", 2)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for pos := 0; pos < 3; pos++ {
		rec := domain.VectorRecord{DocumentID: "doc-1", Kind: domain.KindTextChunk, Position: pos, Embedding: []float32{1, 0}, CreatedAt: created}
		if _, err := client.Upsert(context.Background(), rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	if len(seqs) != 3 || !(seqs[0] < seqs[1] && seqs[1] < seqs[2]) {
		t.Fatalf("expected strictly increasing insert_seq, got %v", seqs)
	}
	if int64(seqs[0]) != created.UnixMicro() {
		t.Fatalf("expected first seq to be the creation time, got %v", seqs[0])
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	client := New("http://127.0.0.1:0", "manuals", 3)
	_, err := client.Upsert(context.Background(), domain.VectorRecord{Embedding: []float32{1}})
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/manuals" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "manuals", 1)
	_, err := client.Upsert(context.Background(), domain.VectorRecord{Embedding: []float32{1}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrExternalService) {
		t.Fatalf("expected ErrExternalService for 5xx, got %v", err)
	}
}

func TestQueryAppliesFilterAndBreaksTiesByInsertSeq(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/manuals/points/search" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":[
			{"id":"later","score":0.8,"payload":{"doc_id":"d","kind":"text-chunk","position":2,"text":"b","insert_seq":20}},
			{"id":"earlier","score":0.8,"payload":{"doc_id":"d","kind":"text-chunk","position":1,"text":"a","insert_seq":10}},
			{"id":"best","score":0.9,"payload":{"doc_id":"d","kind":"text-chunk","position":0,"text":"c","insert_seq":30}}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "manuals", 2)
	got, err := client.Query(context.Background(), []float32{1, 0}, 3, domain.RecordFilter{Kind: domain.KindTextChunk})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	ids := []string{got[0].Record.ID, got[1].Record.ID, got[2].Record.ID}
	if strings.Join(ids, ",") != "best,earlier,later" {
		t.Fatalf("unexpected order %v", ids)
	}
	if got[1].Record.Position != 1 || got[1].Record.Kind != domain.KindTextChunk {
		t.Fatalf("payload not mapped: %+v", got[1].Record)
	}
	if _, ok := captured["filter"]; !ok {
		t.Fatalf("expected kind filter in request, got %v", captured)
	}
}

func TestQueryOnMissingCollectionIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, "manuals", 2)
	got, err := client.Query(context.Background(), []float32{1, 0}, 3, domain.RecordFilter{})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v, %v", got, err)
	}
	docs, err := client.ListDocuments(context.Background())
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected no documents, got %v, %v", docs, err)
	}
}

func TestListDocumentsFollowsScrollPages(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/manuals/points/scroll" {
			http.NotFound(w, r)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = w.Write([]byte(`{"result":{"points":[{"payload":{"doc_id":"a"}},{"payload":{"doc_id":"b"}}],"next_page_offset":"p2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"points":[{"payload":{"doc_id":"a"}},{"payload":{"doc_id":"c"}}],"next_page_offset":null}}`))
	}))
	defer server.Close()

	client := New(server.URL, "manuals", 2)
	docs, err := client.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if strings.Join(docs, ",") != "a,b,c" {
		t.Fatalf("unexpected documents %v", docs)
	}
}
