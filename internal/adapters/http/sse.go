package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

const sseDone = "[DONE]"

// writeAnswerStream sends the answer as server-sent events. Sources go first
// as a named "sources" event, each fragment follows as a data event, and a
// generation error ends the stream with an "error" event instead of [DONE].
func writeAnswerStream(w http.ResponseWriter, stream *domain.AnswerStream) error {
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	if stream.NoDocumentation {
		w.Header().Set("X-No-Documentation", "true")
	}
	w.WriteHeader(http.StatusOK)

	if len(stream.Sources) > 0 {
		payload, err := json.Marshal(stream.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		if err := writeSSE(w, "sources", string(payload)); err != nil {
			return err
		}
		flush()
	}

	for fragment, err := range stream.Fragments() {
		if err != nil {
			payload, _ := json.Marshal(errorResponse{Error: err.Error()})
			if writeErr := writeSSE(w, "error", string(payload)); writeErr != nil {
				return writeErr
			}
			flush()
			return err
		}
		if err := writeSSE(w, "", fragment); err != nil {
			return err
		}
		flush()
	}

	if err := writeSSE(w, "", sseDone); err != nil {
		return err
	}
	flush()
	return nil
}

// writeSSE frames data as one event. Every line of a multi-line fragment gets
// its own "data:" field so clients rebuild it by joining with newlines.
func writeSSE(w http.ResponseWriter, event, data string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := w.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	return nil
}
