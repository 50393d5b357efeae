package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

const scrollPageSize = 256

var errCollectionMissing = errors.New("qdrant collection does not exist")

type Client struct {
	baseURL    string
	collection string
	dimension  int
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool

	lastSeq atomic.Int64
}

func New(baseURL, collection string, dimension int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Upsert(ctx context.Context, record domain.VectorRecord) (string, error) {
	if len(record.Embedding) != c.dimension {
		return "", domain.WrapError(domain.ErrDimensionMismatch, "qdrant upsert",
			fmt.Errorf("got %d, collection dimension %d", len(record.Embedding), c.dimension))
	}
	if err := c.ensureCollection(ctx); err != nil {
		return "", err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	reqBody := map[string]any{
		"points": []point{{
			ID:     record.ID,
			Vector: record.Embedding,
			Payload: map[string]any{
				"doc_id":     record.DocumentID,
				"filename":   record.Filename,
				"kind":       string(record.Kind),
				"position":   record.Position,
				"text":       record.Content,
				"created_at": record.CreatedAt.Format(time.RFC3339Nano),
				"insert_seq": record.CreatedAt.UnixMicro(),
			},
		}},
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	if err := c.doJSON(ctx, http.MethodPut, path, reqBody, nil, "upsert"); err != nil {
		return "", err
	}
	return record.ID, nil
}

// nextSeq returns the creation time in microseconds, bumped past the last
// value this client issued so records created together still order strictly.
// Microseconds keep the value exact when it round-trips through JSON floats.
func (c *Client) nextSeq(createdAt time.Time) int64 {
	want := createdAt.UnixMicro()
	for {
		last := c.lastSeq.Load()
		next := max(want, last+1)
		if c.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (c *Client) Query(ctx context.Context, embedding []float32, k int, filter domain.RecordFilter) ([]domain.ScoredRecord, error) {
	if len(embedding) != c.dimension {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "qdrant query",
			fmt.Errorf("got %d, collection dimension %d", len(embedding), c.dimension))
	}
	if k <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant query", errors.New("k must be positive"))
	}

	reqBody := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	if must := filterConditions(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.doJSON(ctx, http.MethodPost, path, reqBody, &searchResp, "search"); err != nil {
		if errors.Is(err, errCollectionMissing) {
			return []domain.ScoredRecord{}, nil
		}
		return nil, err
	}

	type ranked struct {
		scored domain.ScoredRecord
		seq    int64
	}
	rows := make([]ranked, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		rows = append(rows, ranked{
			scored: domain.ScoredRecord{
				Record: recordFromPayload(fmt.Sprintf("%v", r.ID), r.Payload),
				Score:  r.Score,
			},
			seq: int64(getNumberPayload(r.Payload, "insert_seq")),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].scored.Score != rows[j].scored.Score {
			return rows[i].scored.Score > rows[j].scored.Score
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]domain.ScoredRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.scored)
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, recordID string) error {
	reqBody := map[string]any{"points": []string{recordID}}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection)
	err := c.doJSON(ctx, http.MethodPost, path, reqBody, nil, "delete")
	if errors.Is(err, errCollectionMissing) {
		return nil
	}
	return err
}

func (c *Client) ListDocuments(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	var offset any

	for {
		reqBody := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": []string{"doc_id"},
			"with_vector":  false,
		}
		if offset != nil {
			reqBody["offset"] = offset
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		path := fmt.Sprintf("/collections/%s/points/scroll", c.collection)
		if err := c.doJSON(ctx, http.MethodPost, path, reqBody, &scrollResp, "scroll"); err != nil {
			if errors.Is(err, errCollectionMissing) {
				return out, nil
			}
			return nil, err
		}

		for _, p := range scrollResp.Result.Points {
			docID := getStringPayload(p.Payload, "doc_id")
			if docID == "" {
				continue
			}
			if _, ok := seen[docID]; ok {
				continue
			}
			seen[docID] = struct{}{}
			out = append(out, docID)
		}
		if scrollResp.Result.NextPageOffset == nil {
			return out, nil
		}
		offset = scrollResp.Result.NextPageOffset
	}
}

func (c *Client) ensureCollection(ctx context.Context) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensuredCollection {
		return nil
	}

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     c.dimension,
			"distance": "Cosine",
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrExternalService, "qdrant ensure collection", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if already exists (depends on version/config).
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return statusError("ensure collection", resp)
	}
	c.ensuredCollection = true
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrExternalService, "qdrant "+operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errCollectionMissing
	}
	if resp.StatusCode >= 300 {
		return statusError(operation, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var err error
	if msg := strings.TrimSpace(string(body)); msg != "" {
		err = fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
	} else {
		err = fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}
	if resp.StatusCode >= 500 {
		return domain.WrapError(domain.ErrExternalService, "qdrant "+operation, err)
	}
	return err
}

func filterConditions(filter domain.RecordFilter) []map[string]any {
	must := make([]map[string]any, 0, 2)
	if filter.Kind != "" {
		must = append(must, map[string]any{"key": "kind", "match": map[string]any{"value": string(filter.Kind)}})
	}
	if filter.DocumentID != "" {
		must = append(must, map[string]any{"key": "doc_id", "match": map[string]any{"value": filter.DocumentID}})
	}
	return must
}

func recordFromPayload(id string, payload map[string]any) domain.VectorRecord {
	record := domain.VectorRecord{
		ID:         id,
		DocumentID: getStringPayload(payload, "doc_id"),
		Filename:   getStringPayload(payload, "filename"),
		Kind:       domain.RecordKind(getStringPayload(payload, "kind")),
		Position:   int(getNumberPayload(payload, "position")),
		Content:    getStringPayload(payload, "text"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, getStringPayload(payload, "created_at")); err == nil {
		record.CreatedAt = ts
	}
	return record
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getNumberPayload(payload map[string]any, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
