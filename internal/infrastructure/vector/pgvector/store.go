package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// Store keeps vector records in Postgres using the pgvector extension and
// ranks them by cosine distance.
type Store struct {
	db        *sql.DB
	dimension int
}

func NewStore(db *sql.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", s.dimension)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101702)); err != nil {
		return fmt.Errorf("acquire vector schema lock: %w", err)
	}

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vector_records (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL NOT NULL,
	document_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	kind TEXT NOT NULL,
	position INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vector_records_document ON vector_records(document_id);
`, s.dimension)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute vector schema ddl: %w", err)
	}

	// vector(n) stores n as the column type modifier.
	var existing int
	err = tx.QueryRowContext(ctx, `
SELECT atttypmod FROM pg_attribute
WHERE attrelid = 'vector_records'::regclass AND attname = 'embedding'
`).Scan(&existing)
	if err != nil {
		return fmt.Errorf("read vector column dimension: %w", err)
	}
	if existing != s.dimension {
		return domain.WrapError(domain.ErrDimensionMismatch, "vector schema",
			fmt.Errorf("table has %d, configured %d", existing, s.dimension))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector schema tx: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, record domain.VectorRecord) (string, error) {
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

	_, err := s.db.ExecContext(ctx, `
INSERT INTO vector_records (id, document_id, filename, kind, position, content, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
	document_id = EXCLUDED.document_id,
	filename = EXCLUDED.filename,
	kind = EXCLUDED.kind,
	position = EXCLUDED.position,
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding
`,
		record.ID, record.DocumentID, record.Filename, string(record.Kind), record.Position, record.Content,
		pgvec.NewVector(record.Embedding), record.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("upsert vector record: %w", err)
	}
	return record.ID, nil
}

func (s *Store) Query(ctx context.Context, embedding []float32, k int, filter domain.RecordFilter) ([]domain.ScoredRecord, error) {
	if len(embedding) != s.dimension {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "vector query",
			fmt.Errorf("got %d, store dimension %d", len(embedding), s.dimension))
	}
	if k <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "vector query", errors.New("k must be positive"))
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, document_id, filename, kind, position, content, created_at, 1 - (embedding <=> $1::vector) AS score
FROM vector_records
WHERE ($2 = '' OR kind = $2) AND ($3 = '' OR document_id = $3)
ORDER BY embedding <=> $1::vector, seq
LIMIT $4
`, pgvec.NewVector(embedding), string(filter.Kind), filter.DocumentID, k)
	if err != nil {
		return nil, fmt.Errorf("query vector records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredRecord, 0, k)
	for rows.Next() {
		var rec domain.VectorRecord
		var kind string
		var score float64
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.Filename, &kind, &rec.Position, &rec.Content, &rec.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("scan vector record: %w", err)
		}
		rec.Kind = domain.RecordKind(kind)
		out = append(out, domain.ScoredRecord{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector records: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, recordID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vector_records WHERE id = $1`, recordID); err != nil {
		return fmt.Errorf("delete vector record: %w", err)
	}
	return nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT document_id FROM vector_records
GROUP BY document_id
ORDER BY MIN(seq)
`)
	if err != nil {
		return nil, fmt.Errorf("list indexed documents: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document ids: %w", err)
	}
	return out, nil
}
