package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// Store is a brute-force cosine similarity index. When opened with a log path
// every upsert and delete is appended to a JSON-lines file that is replayed on
// the next Open.
type Store struct {
	mu        sync.RWMutex
	dimension int
	records   []domain.VectorRecord
	byID      map[string]int

	log *os.File
	enc *json.Encoder
}

type logEntry struct {
	Op     string               `json:"op"`
	ID     string               `json:"id"`
	Record *domain.VectorRecord `json:"record,omitempty"`
}

func New(dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	return &Store{dimension: dimension, byID: make(map[string]int)}, nil
}

func Open(path string, dimension int) (*Store, error) {
	s, err := New(dimension)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return s, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open vector log: %w", err)
	}
	if err := s.replay(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.log = f
	s.enc = json.NewEncoder(f)
	return s, nil
}

// replay loads the log into memory. A final line that does not decode is the
// remnant of an interrupted append and is cut off; anything else that does
// not decode is fatal.
func (s *Store) replay(f *os.File) error {
	reader := bufio.NewReaderSize(f, 64*1024)
	var offset int64
	line := 0
	for {
		raw, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("read vector log: %w", readErr)
		}
		if len(raw) == 0 {
			return nil
		}
		line++
		terminated := raw[len(raw)-1] == '\n'
		body := bytes.TrimSpace(raw)
		if len(body) > 0 {
			var entry logEntry
			if err := json.Unmarshal(body, &entry); err != nil {
				if _, peekErr := reader.Peek(1); peekErr != io.EOF {
					return fmt.Errorf("decode vector log line %d: %w", line, err)
				}
				if err := f.Truncate(offset); err != nil {
					return fmt.Errorf("truncate vector log: %w", err)
				}
				slog.Warn("vector_log_torn_tail_truncated", "line", line, "offset", offset, "error", err)
				return nil
			}
			if err := s.apply(entry, line); err != nil {
				return err
			}
		}
		offset += int64(len(raw))
		if !terminated {
			if _, err := f.Write([]byte("\n")); err != nil {
				return fmt.Errorf("terminate vector log: %w", err)
			}
			return nil
		}
	}
}

func (s *Store) apply(entry logEntry, line int) error {
	switch entry.Op {
	case "upsert":
		if entry.Record == nil || len(entry.Record.Embedding) != s.dimension {
			return fmt.Errorf("vector log line %d: %w", line, domain.ErrDimensionMismatch)
		}
		s.put(*entry.Record)
	case "delete":
		s.remove(entry.ID)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	s.enc = nil
	return err
}

func (s *Store) Upsert(_ context.Context, record domain.VectorRecord) (string, error) {
	if len(record.Embedding) != s.dimension {
		return "", domain.WrapError(domain.ErrDimensionMismatch, "vector upsert",
			fmt.Errorf("got %d, store dimension %d", len(record.Embedding), s.dimension))
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Embedding = append([]float32(nil), record.Embedding...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc != nil {
		if err := s.enc.Encode(logEntry{Op: "upsert", ID: record.ID, Record: &record}); err != nil {
			return "", fmt.Errorf("append vector log: %w", err)
		}
	}
	s.put(record)
	return record.ID, nil
}

// put replaces a record with the same id in place, keeping its insertion slot.
func (s *Store) put(record domain.VectorRecord) {
	if idx, ok := s.byID[record.ID]; ok {
		s.records[idx] = record
		return
	}
	s.byID[record.ID] = len(s.records)
	s.records = append(s.records, record)
}

func (s *Store) remove(id string) bool {
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	delete(s.byID, id)
	for i := idx; i < len(s.records); i++ {
		s.byID[s.records[i].ID] = i
	}
	return true
}

func (s *Store) Query(_ context.Context, embedding []float32, k int, filter domain.RecordFilter) ([]domain.ScoredRecord, error) {
	if len(embedding) != s.dimension {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "vector query",
			fmt.Errorf("got %d, store dimension %d", len(embedding), s.dimension))
	}
	if k <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "vector query", errors.New("k must be positive"))
	}

	s.mu.RLock()
	scored := make([]domain.ScoredRecord, 0, len(s.records))
	for _, record := range s.records {
		if !filter.Matches(record) {
			continue
		}
		scored = append(scored, domain.ScoredRecord{Record: record, Score: cosine(embedding, record.Embedding)})
	}
	s.mu.RUnlock()

	// records are kept in insertion order, so a stable sort breaks ties by it
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *Store) Delete(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[recordID]; !ok {
		return nil
	}
	if s.enc != nil {
		if err := s.enc.Encode(logEntry{Op: "delete", ID: recordID}); err != nil {
			return fmt.Errorf("append vector log: %w", err)
		}
	}
	s.remove(recordID)
	return nil
}

func (s *Store) ListDocuments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, record := range s.records {
		if _, ok := seen[record.DocumentID]; ok {
			continue
		}
		seen[record.DocumentID] = struct{}{}
		out = append(out, record.DocumentID)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
