package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// IngestDir indexes every supported manual under dir, recursively. Failures
// are logged per file and do not stop the walk.
func (a *App) IngestDir(ctx context.Context, dir string) ([]domain.IngestionResult, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	pattern := "**/*.{" + strings.Join(a.Extractors.Extensions(), ",") + "}"
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}

	results := make([]domain.IngestionResult, 0, len(matches))
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		path := filepath.Join(dir, filepath.FromSlash(rel))
		result, err := a.ingestFile(ctx, path)
		if err != nil {
			slog.Error("bootstrap_ingest_failed", "path", path, "error", err)
			if result == nil {
				continue
			}
		}
		slog.Info("bootstrap_ingested",
			"path", path,
			"document_id", result.DocumentID,
			"chunks", result.ChunkCount,
			"image_tasks", len(result.ImageTaskIDs),
			"reused", result.Reused,
		)
		results = append(results, *result)
	}
	return results, nil
}

func (a *App) ingestFile(ctx context.Context, path string) (*domain.IngestionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return a.Ingest.Ingest(ctx, filepath.Base(path), f)
}
