package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry  *prometheus.Registry
	gatherers prometheus.Gatherers

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	askTotal          *prometheus.CounterVec
	askEvidence       *prometheus.HistogramVec
	askDuration       *prometheus.HistogramVec
	ingestTotal       *prometheus.CounterVec
	ingestChunks      *prometheus.HistogramVec
	ingestImagesTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manual",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "manual",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "manual",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	askTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manual",
			Subsystem: "rag",
			Name:      "ask_total",
			Help:      "Total questions by outcome (answered, declined, no_documentation, error).",
		},
		[]string{"service", "outcome"},
	)
	askEvidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "manual",
			Subsystem: "rag",
			Name:      "evidence_items",
			Help:      "Distribution of evidence items per answered question.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12},
		},
		[]string{"service"},
	)
	askDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "manual",
			Subsystem: "rag",
			Name:      "ask_duration_seconds",
			Help:      "Time from question to last streamed fragment.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"service", "outcome"},
	)
	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manual",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total ingested documents by outcome (indexed, reused, partial, error).",
		},
		[]string{"service", "outcome"},
	)
	ingestChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "manual",
			Subsystem: "ingest",
			Name:      "chunks_per_document",
			Help:      "Distribution of text chunks per ingested document.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"service"},
	)
	ingestImagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manual",
			Subsystem: "ingest",
			Name:      "image_tasks_total",
			Help:      "Total image tasks enqueued by ingestion.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		askTotal,
		askEvidence,
		askDuration,
		ingestTotal,
		ingestChunks,
		ingestImagesTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		gatherers:         prometheus.Gatherers{registry},
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		askTotal:          askTotal,
		askEvidence:       askEvidence,
		askDuration:       askDuration,
		ingestTotal:       ingestTotal,
		ingestChunks:      ingestChunks,
		ingestImagesTotal: ingestImagesTotal,
	}
}

// Attach exposes another registry, e.g. an embedded worker's, on Handler.
func (m *HTTPServerMetrics) Attach(g prometheus.Gatherer) {
	m.gatherers = append(m.gatherers, g)
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherers, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch path {
	case "/healthz", "/metrics", "/v1/documents", "/v1/ask", "/v1/queue/status", "/openapi.yaml":
		return path
	default:
		return "other"
	}
}

func (m *HTTPServerMetrics) RecordAsk(service, outcome string, evidence int, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.askTotal.WithLabelValues(service, outcome).Inc()
	m.askDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
	if outcome == "answered" {
		m.askEvidence.WithLabelValues(service).Observe(float64(evidence))
	}
}

func (m *HTTPServerMetrics) RecordIngest(service, outcome string, chunks, imageTasks int) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.ingestTotal.WithLabelValues(service, outcome).Inc()
	if outcome == "error" {
		return
	}
	m.ingestChunks.WithLabelValues(service).Observe(float64(chunks))
	if imageTasks > 0 {
		m.ingestImagesTotal.WithLabelValues(service).Add(float64(imageTasks))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
