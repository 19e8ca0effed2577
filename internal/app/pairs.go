package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"thisorthat/api/internal/search"
	"thisorthat/api/internal/sources"
	"thisorthat/api/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	randomPairTries = 10
)

type OptionView struct {
	Value string  `json:"value"`
	URL   *string `json:"url"`
	Votes int     `json:"votes"`
}

// PairView is the client-facing shape of a pair with its vote counts.
type PairView struct {
	ID        int64        `json:"id"`
	Type      string       `json:"type"`
	Source    string       `json:"source"`
	CreatedAt time.Time    `json:"created_at"`
	Options   []OptionView `json:"options"`
}

func newPairView(p store.Pair, v store.Vote) PairView {
	return PairView{
		ID:        p.ID,
		Type:      p.Type,
		Source:    p.Source,
		CreatedAt: p.CreatedAt,
		Options: []OptionView{
			{Value: p.Option1Value, URL: p.Option1URL, Votes: v.Option1Count},
			{Value: p.Option2Value, URL: p.Option2URL, Votes: v.Option2Count},
		},
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// RandomPair draws a random pair, redrawing up to randomPairTries times while the draw
// is one of the recently served pairs.
func (s *Service) RandomPair(ctx context.Context) (PairView, error) {
	count, err := s.store.CountPairs(ctx)
	if err != nil {
		return PairView{}, fmt.Errorf("count pairs: %w", err)
	}
	if count == 0 {
		return PairView{}, notFound("No pairs available", nil)
	}

	var pair store.Pair
	for attempt := 0; attempt < randomPairTries; attempt++ {
		pair, err = s.store.PairAt(ctx, s.intn(count))
		if err != nil {
			return PairView{}, fmt.Errorf("pick random pair: %w", err)
		}
		if !s.recent.Contains(pair.ID) {
			break
		}
	}
	s.recent.Push(pair.ID)

	views, err := s.withVotes(ctx, []store.Pair{pair})
	if err != nil {
		return PairView{}, err
	}
	return views[0], nil
}

func (s *Service) GetPair(ctx context.Context, id int64) (PairView, error) {
	pair, err := s.store.GetPair(ctx, id)
	if err != nil {
		return PairView{}, err
	}
	views, err := s.withVotes(ctx, []store.Pair{pair})
	if err != nil {
		return PairView{}, err
	}
	return views[0], nil
}

func (s *Service) ListPairs(ctx context.Context, filter store.PairFilter) ([]PairView, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	pairs, err := s.store.ListPairs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	return s.withVotes(ctx, pairs)
}

// ListPairIDs returns matching ids newest first. A zero limit returns all of them.
func (s *Service) ListPairIDs(ctx context.Context, filter store.PairFilter) ([]int64, error) {
	ids, err := s.store.ListPairIDs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list pair ids: %w", err)
	}
	return nonNilSlice(ids), nil
}

func (s *Service) withVotes(ctx context.Context, pairs []store.Pair) ([]PairView, error) {
	keys := make([]store.OptionKey, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Key())
	}
	votes, err := s.store.VotesFor(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}

	views := make([]PairView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, newPairView(p, votes[p.Key()]))
	}
	return views, nil
}

// DeletePair removes a pair, its votes, its images and its search entry. Image clean-up
// failures are logged only.
func (s *Service) DeletePair(ctx context.Context, id int64) error {
	pair, err := s.store.GetPair(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeletePairs(ctx, []int64{id}); err != nil {
		return fmt.Errorf("delete pair %d: %w", id, err)
	}
	s.metrics.PairsDeleted.Inc()
	s.unindexPairs([]int64{id})

	if s.blobs != nil {
		if names := s.ownedObjects(pair); len(names) > 0 {
			if err := s.blobs.Delete(ctx, names); err != nil {
				s.log.Error().Err(err).Int64("pair_id", id).Strs("objects", names).Msg("pair images were not removed")
			}
		}
	}
	return nil
}

func (s *Service) SearchPairs(ctx context.Context, text string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q is required", nil)
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	limit, offset = clampPage(limit, offset)
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit, Offset: offset}), nil
}

type Metadata struct {
	Types   []string `json:"types"`
	Sources []string `json:"sources"`
}

const metadataCacheKey = "metadata"

// Metadata lists the types and sources present in stored pairs. Results are cached
// briefly.
func (s *Service) Metadata(ctx context.Context) (Metadata, error) {
	if cached, ok := s.metadata.Get(metadataCacheKey); ok {
		return cached.(Metadata), nil
	}
	types, srcs, err := s.store.DistinctTypesAndSources(ctx)
	if err != nil {
		return Metadata{}, fmt.Errorf("load metadata: %w", err)
	}
	meta := Metadata{Types: nonNilSlice(types), Sources: nonNilSlice(srcs)}
	s.metadata.SetDefault(metadataCacheKey, meta)
	return meta, nil
}

func (s *Service) ValidTypes() []string {
	return s.taxonomy.Names()
}

func (s *Service) ValidSources() []string {
	return s.taxonomy.Sources()
}

// PreviewImage resolves query through one provider and returns the normalized PNG.
func (s *Service) PreviewImage(ctx context.Context, source, query, hint string) ([]byte, error) {
	kind, ok := sources.ParseKind(source)
	if !ok {
		return nil, validationError("Unknown image source",
			map[string]any{"source": source, "valid_sources": sources.Kinds()})
	}
	if strings.TrimSpace(query) == "" {
		return nil, validationError("query is required", nil)
	}
	if s.normalizer == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Image processing is not configured", nil)
	}

	found := s.images.Lookup(ctx, kind, query, hint)
	if !found.Found() {
		return nil, domainError(http.StatusNotFound, "IMAGE_NOT_FOUND", "No image found", map[string]any{"source": kind.String(), "query": query})
	}
	data := s.normalizer.Normalize(ctx, found.Image, fitFor(kind))
	if data == nil {
		return nil, domainError(http.StatusBadGateway, "IMAGE_UNUSABLE", "Image could not be processed", nil)
	}
	return data, nil
}
