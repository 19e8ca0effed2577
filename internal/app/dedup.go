package app

import (
	"context"
	"fmt"

	"thisorthat/api/internal/generator"
	"thisorthat/api/internal/store"
)

// SavePairs inserts every candidate that has no stored twin of the same type. Store
// errors abort the batch; pairs inserted before the failure are kept and returned.
func (s *Service) SavePairs(ctx context.Context, candidates []generator.Candidate) ([]store.Pair, []generator.Candidate, error) {
	inserted := make([]store.Pair, 0, len(candidates))
	duplicates := make([]generator.Candidate, 0)

	defer func() { s.indexPairs(inserted) }()

	for _, c := range candidates {
		exists, err := s.store.FindDuplicatePair(ctx, c.Type, c.Option1, c.Option2)
		if err != nil {
			return inserted, duplicates, fmt.Errorf("check duplicate %q vs %q: %w", c.Option1, c.Option2, err)
		}
		if exists {
			duplicates = append(duplicates, c)
			s.metrics.PairDuplicates.WithLabelValues(c.Type).Inc()
			continue
		}

		pair, err := s.store.InsertPair(ctx, store.Pair{
			Type:         c.Type,
			Source:       c.Source,
			Option1Value: c.Option1,
			Option2Value: c.Option2,
		})
		if err != nil {
			return inserted, duplicates, fmt.Errorf("save pair %q vs %q: %w", c.Option1, c.Option2, err)
		}
		inserted = append(inserted, pair)
		s.metrics.PairsInserted.WithLabelValues(c.Type).Inc()
	}
	return inserted, duplicates, nil
}
