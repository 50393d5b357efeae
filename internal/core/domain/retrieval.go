package domain

import "fmt"

// DefaultMinEvidenceScore is the cosine similarity below which the best
// evidence is treated as unrelated to the question.
const DefaultMinEvidenceScore = 0.3

type Evidence struct {
	RecordID   string     `json:"record_id"`
	DocumentID string     `json:"document_id"`
	Filename   string     `json:"filename"`
	Kind       RecordKind `json:"kind"`
	Position   int        `json:"position"`
	Text       string     `json:"text"`
	Score      float64    `json:"score"`
}

// Key identifies the document location an evidence item points at.
func (e Evidence) Key() string {
	return fmt.Sprintf("%s:%s:%d", e.DocumentID, e.Kind, e.Position)
}

func EvidenceFromRecord(r ScoredRecord) Evidence {
	return Evidence{
		RecordID:   r.Record.ID,
		DocumentID: r.Record.DocumentID,
		Filename:   r.Record.Filename,
		Kind:       r.Record.Kind,
		Position:   r.Record.Position,
		Text:       r.Record.Content,
		Score:      r.Score,
	}
}
