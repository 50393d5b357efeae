package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// APIError is a non-success response from the assistant API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

// Client calls the assistant HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Upload sends one manual. A partially indexed manual returns both the
// result and an error.
func (c *Client) Upload(ctx context.Context, path string) (*domain.IngestionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents", &body)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var result domain.IngestionResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("decode upload response: %w", err)
		}
		return &result, nil
	case http.StatusUnprocessableEntity:
		var failure struct {
			Error  string                  `json:"error"`
			Result *domain.IngestionResult `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil {
			return nil, fmt.Errorf("decode upload response: %w", err)
		}
		return failure.Result, &APIError{StatusCode: resp.StatusCode, Message: failure.Error}
	default:
		return nil, decodeAPIError(resp)
	}
}

func (c *Client) ListDocuments(ctx context.Context) ([]domain.DocumentSummary, error) {
	var payload struct {
		Documents []domain.DocumentSummary `json:"documents"`
	}
	if err := c.getJSON(ctx, "/v1/documents", &payload); err != nil {
		return nil, err
	}
	return payload.Documents, nil
}

func (c *Client) QueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	var status domain.QueueStatus
	err := c.getJSON(ctx, "/v1/queue/status", &status)
	return status, err
}

// AskResult carries the metadata of a streamed answer.
type AskResult struct {
	Sources         []domain.Evidence
	NoDocumentation bool
}

// Ask streams an answer, calling onFragment for each piece as it arrives.
func (c *Client) Ask(ctx context.Context, question string, onFragment func(string) error) (*AskResult, error) {
	payload, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, fmt.Errorf("marshal ask request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ask", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create ask request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	result := &AskResult{NoDocumentation: resp.Header.Get("X-No-Documentation") == "true"}
	done := false
	err = readEvents(resp.Body, func(event, data string) error {
		switch event {
		case "sources":
			if err := json.Unmarshal([]byte(data), &result.Sources); err != nil {
				return fmt.Errorf("decode sources: %w", err)
			}
			return nil
		case "error":
			var apiErr struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal([]byte(data), &apiErr)
			return &APIError{StatusCode: http.StatusOK, Message: apiErr.Error}
		}
		if data == "[DONE]" {
			done = true
			return errStopEvents
		}
		return onFragment(data)
	})
	if err != nil {
		return result, err
	}
	if !done {
		return result, errors.New("answer stream ended early")
	}
	return result, nil
}

var errStopEvents = errors.New("stop events")

// readEvents parses a server-sent event stream. Multi-line data fields are
// joined with newlines.
func readEvents(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event string
	var data []string
	dispatch := func() error {
		if len(data) == 0 {
			event = ""
			return nil
		}
		err := fn(event, strings.Join(data, "\n"))
		event, data = "", data[:0]
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				if errors.Is(err, errStopEvents) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	if err := dispatch(); err != nil && !errors.Is(err, errStopEvents) {
		return err
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
