package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/manual-assistant/internal/config"
	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/ports"
	"github.com/kirillkom/manual-assistant/internal/observability/metrics"
)

const (
	metricsService  = "manual-api"
	multipartMemory = 8 << 20
	// multipart framing on top of the file itself
	multipartSlack = 1 << 20
)

type Router struct {
	cfg       config.Config
	ingest    ports.DocumentIngestor
	answerer  ports.QuestionAnswerer
	queue     ports.QueueStatusReader
	documents ports.DocumentLister
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	answerer ports.QuestionAnswerer,
	queue ports.QueueStatusReader,
	documents ports.DocumentLister,
) *Router {
	return &Router{
		cfg:       cfg,
		ingest:    ingest,
		answerer:  answerer,
		queue:     queue,
		documents: documents,
	}
}

// WithMetrics exposes m on /metrics and records request and ask metrics.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() (http.Handler, error) {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/documents", rt.uploadDocument)
	api.HandleFunc("GET /v1/documents", rt.listDocuments)
	api.HandleFunc("POST /v1/ask", rt.ask)
	api.HandleFunc("GET /v1/queue/status", rt.queueStatus)

	var apiHandler http.Handler = api
	if rt.cfg.APIValidateRequests {
		validator, err := newRequestValidator()
		if err != nil {
			return nil, err
		}
		apiHandler = validator.middleware(apiHandler)
	}
	apiHandler = backpressureMiddleware(apiHandler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	apiHandler = rateLimitMiddleware(apiHandler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", serveOpenAPISpec)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", apiHandler)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(metricsService, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(recoverMiddleware(handler))), nil
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func serveOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPISpec)
}

type ingestFailureResponse struct {
	Error  string                  `json:"error"`
	Result *domain.IngestionResult `json:"result,omitempty"`
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	maxUpload := rt.cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 16 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartSlack)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "document exceeds upload limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart form is required"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()
	if header.Size > maxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "document exceeds upload limit"})
		return
	}

	result, err := rt.ingest.Ingest(r.Context(), header.Filename, file)
	if err != nil {
		rt.recordIngest("error", 0, 0)
		if domain.IsKind(err, domain.ErrExtraction) && result != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ingestFailureResponse{Error: err.Error(), Result: result})
			return
		}
		writeError(w, r, err)
		return
	}

	if result.Reused {
		rt.recordIngest("reused", result.ChunkCount, 0)
		writeJSON(w, http.StatusOK, result)
		return
	}
	rt.recordIngest("indexed", result.ChunkCount, len(result.ImageTaskIDs))
	writeJSON(w, http.StatusCreated, result)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.documents.ListDocuments(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) queueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.queue.QueueStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}

	stream, err := rt.answerer.Ask(r.Context(), req.Question)
	if err != nil {
		rt.recordAsk("error", 0, start)
		writeError(w, r, err)
		return
	}

	outcome := "answered"
	if stream.NoDocumentation {
		outcome = "no_documentation"
	}
	if err := writeAnswerStream(w, stream); err != nil {
		outcome = "error"
		slog.Warn("ask_stream_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
	rt.recordAsk(outcome, len(stream.Sources), start)
}

func (rt *Router) recordAsk(outcome string, evidence int, start time.Time) {
	if rt.metrics != nil {
		rt.metrics.RecordAsk(metricsService, outcome, evidence, time.Since(start))
	}
}

func (rt *Router) recordIngest(outcome string, chunks, imageTasks int) {
	if rt.metrics != nil {
		rt.metrics.RecordIngest(metricsService, outcome, chunks, imageTasks)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
