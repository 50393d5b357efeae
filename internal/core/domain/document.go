package domain

import (
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusPartial    DocumentStatus = "partial"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	MimeType     string         `json:"mime_type"`
	StoragePath  string         `json:"storage_path"`
	Checksum     string         `json:"checksum"`
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunk_count"`
	ImageCount   int            `json:"image_count"`
	ImageTaskIDs []string       `json:"image_task_ids"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DocumentSummary is the listing view of an indexed document.
type DocumentSummary struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
	ImageCount int    `json:"image_count"`
}

func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		DocumentID: d.ID,
		Filename:   d.Filename,
		ChunkCount: d.ChunkCount,
		ImageCount: d.ImageCount,
	}
}

// ExtractedImage is an image embedded in a source document. Position is the
// zero-based order of appearance and stays stable across re-extraction.
type ExtractedImage struct {
	Position int
	Name     string
	MimeType string
	Data     []byte
}

// Extraction is the raw content pulled out of a document.
type Extraction struct {
	TextBlocks []string
	Images     []ExtractedImage
}

func (e *Extraction) Text() string {
	if e == nil {
		return ""
	}
	blocks := make([]string, 0, len(e.TextBlocks))
	for _, block := range e.TextBlocks {
		if strings.TrimSpace(block) == "" {
			continue
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

type IngestionResult struct {
	DocumentID   string   `json:"document_id"`
	Filename     string   `json:"filename"`
	ChunkCount   int      `json:"chunk_count"`
	ImageTaskIDs []string `json:"image_task_ids"`
	Reused       bool     `json:"reused"`
}
