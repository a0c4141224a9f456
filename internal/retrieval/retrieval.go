// Package retrieval selects candidate digest items for a query vector by
// cosine similarity over the project's channel scope.
package retrieval

import (
	"context"
	"sort"
	"time"

	"teamdigest/internal/embed"
	"teamdigest/internal/metrics"
	"teamdigest/internal/storage"
)

// DefaultOversample keeps extra candidates beyond the requested page so the
// reranker has room to reorder before the final cut.
const DefaultOversample = 3

// Scored pairs a candidate item with its raw similarity to the query.
type Scored struct {
	Item       storage.DigestItem `json:"item"`
	Similarity float64            `json:"similarity"`
}

type Service struct {
	store      storage.ItemStore
	oversample int
}

func NewService(store storage.ItemStore, oversample int) *Service {
	if oversample < 1 {
		oversample = DefaultOversample
	}
	return &Service{store: store, oversample: oversample}
}

// Retrieve returns up to k*oversample candidates sorted by similarity.
// Ties break by item recency, then thread_ts for a total order.
func (s *Service) Retrieve(ctx context.Context, queryVec []float32, channels []string, since time.Time, k int) ([]Scored, error) {
	candidates, err := s.store.CandidateItems(ctx, channels, since)
	if err != nil {
		return nil, err
	}
	metrics.RetrievalCandidates.Observe(float64(len(candidates)))

	scored := make([]Scored, 0, len(candidates))
	for _, cand := range candidates {
		scored = append(scored, Scored{
			Item:       cand.Item,
			Similarity: embed.Cosine(queryVec, cand.Vector),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if !scored[i].Item.CreatedAt.Equal(scored[j].Item.CreatedAt) {
			return scored[i].Item.CreatedAt.After(scored[j].Item.CreatedAt)
		}
		return scored[i].Item.ThreadTS < scored[j].Item.ThreadTS
	})

	limit := k * s.oversample
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
