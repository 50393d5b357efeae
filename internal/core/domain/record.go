package domain

import "time"

type RecordKind string

const (
	KindTextChunk        RecordKind = "text-chunk"
	KindImageDescription RecordKind = "image-description"
)

func (k RecordKind) Valid() bool {
	return k == KindTextChunk || k == KindImageDescription
}

type VectorRecord struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	Filename   string     `json:"filename"`
	Kind       RecordKind `json:"kind"`
	Position   int        `json:"position"`
	Content    string     `json:"content"`
	Embedding  []float32  `json:"embedding,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type ScoredRecord struct {
	Record VectorRecord
	Score  float64
}

// RecordFilter narrows a vector query. Zero values match everything.
type RecordFilter struct {
	Kind       RecordKind
	DocumentID string
}

func (f RecordFilter) Matches(r VectorRecord) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.DocumentID != "" && r.DocumentID != f.DocumentID {
		return false
	}
	return true
}
