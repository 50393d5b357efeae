package usecase

import (
	"sort"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// mergeEvidence collapses hits pointing at the same document location, keeping
// the best score, and ranks the result by score. Equal scores keep insertion
// order.
func mergeEvidence(lists ...[]domain.ScoredRecord) []domain.Evidence {
	type candidate struct {
		record domain.ScoredRecord
		order  int
	}

	acc := make(map[string]candidate)
	order := 0
	for _, list := range lists {
		for _, hit := range list {
			key := domain.EvidenceFromRecord(hit).Key()
			current, ok := acc[key]
			if !ok {
				acc[key] = candidate{record: hit, order: order}
				order++
				continue
			}
			if hit.Score > current.record.Score {
				current.record = hit
				acc[key] = current
			}
		}
	}

	ranked := make([]candidate, 0, len(acc))
	for _, c := range acc {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i].record, ranked[j].record
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.Before(b.Record.CreatedAt)
		}
		return ranked[i].order < ranked[j].order
	})

	out := make([]domain.Evidence, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, domain.EvidenceFromRecord(c.record))
	}
	return out
}

func trimEvidence(items []domain.Evidence, limit int) []domain.Evidence {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[:limit]
}
