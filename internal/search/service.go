package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to the database.
type Service struct {
	meili    *Meili
	fallback Fallback
	log      zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Fallback, log zerolog.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, log: log}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to the database.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to database search")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("database search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPairs indexes pairs (fire-and-forget to Meilisearch).
func (s *Service) IndexPairs(records []PairRecord) {
	if !s.meiliReady() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexPairs(records); err != nil {
			s.log.Warn().Err(err).Int("count", len(records)).Msg("index pairs")
		}
	}()
}

// DeletePairs removes pairs from the search index (fire-and-forget).
func (s *Service) DeletePairs(ids []int64) {
	if !s.meiliReady() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeletePairs(ids); err != nil {
			s.log.Warn().Err(err).Ints64("ids", ids).Msg("delete pairs from index")
		}
	}()
}

// ReindexAll reads every pair from the database and pushes it to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.meiliReady() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexPairs(records); err != nil {
		s.log.Error().Err(err).Msg("reindex pairs")
		return
	}
	s.log.Info().Int("count", len(records)).Msg("reindexed pairs")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
