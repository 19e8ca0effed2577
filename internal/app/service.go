package app

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"thisorthat/api/internal/broadcast"
	"thisorthat/api/internal/config"
	"thisorthat/api/internal/generator"
	"thisorthat/api/internal/imageproc"
	"thisorthat/api/internal/metrics"
	"thisorthat/api/internal/search"
	"thisorthat/api/internal/sources"
	"thisorthat/api/internal/store"
	"thisorthat/api/internal/taxonomy"
)

type dataStore interface {
	Ping(context.Context) error
	RecentPairs(context.Context, string, int) ([]store.Pair, error)
	FindDuplicatePair(context.Context, string, string, string) (bool, error)
	InsertPair(context.Context, store.Pair) (store.Pair, error)
	GetPair(context.Context, int64) (store.Pair, error)
	CountPairs(context.Context) (int, error)
	PairAt(context.Context, int) (store.Pair, error)
	ListPairs(context.Context, store.PairFilter) ([]store.Pair, error)
	ListPairIDs(context.Context, store.PairFilter) ([]int64, error)
	IncompletePairs(context.Context) ([]store.Pair, error)
	UpdatePairURLs(context.Context, int64, string, string) error
	DeletePairs(context.Context, []int64) error
	IncrementVote(context.Context, store.Pair, int) (store.Vote, error)
	VotesFor(context.Context, []store.OptionKey) (map[store.OptionKey]store.Vote, error)
	ListPairVotes(context.Context) ([]store.PairVotes, error)
	DistinctTypesAndSources(context.Context) ([]string, []string, error)
}

type imageResolver interface {
	Lookup(ctx context.Context, kind sources.Kind, label, hint string) sources.Result
}

type imageNormalizer interface {
	Normalize(ctx context.Context, ref string, fit imageproc.Fit) []byte
}

type blobStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, names []string) error
	NameFromURL(raw string) string
}

type pairGenerator interface {
	Generate(ctx context.Context, req generator.Request) (generator.Batch, error)
}

type broadcaster interface {
	Publish(ctx context.Context, event broadcast.Event) error
}

type pairIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPairs(records []search.PairRecord)
	DeletePairs(ids []int64)
}

type tokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Deps are the collaborators a Service is built from. Store and Images are required;
// the rest may be nil, which disables the operations that need them.
type Deps struct {
	Store       dataStore
	Images      imageResolver
	Normalizer  imageNormalizer
	Blobs       blobStore
	Generator   pairGenerator
	Broadcaster broadcaster
	Search      pairIndex
	Spotify     tokenRefresher
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type Service struct {
	cfg         config.Config
	taxonomy    *taxonomy.Taxonomy
	store       dataStore
	images      imageResolver
	normalizer  imageNormalizer
	blobs       blobStore
	generator   pairGenerator
	broadcaster broadcaster
	search      pairIndex
	spotify     tokenRefresher
	metrics     *metrics.Metrics
	log         zerolog.Logger

	recent         *recentWindow
	metadata       *cache.Cache
	publishTimeout time.Duration
	intn           func(int) int
}

func New(cfg config.Config, tax *taxonomy.Taxonomy, deps Deps) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		cfg:            cfg,
		taxonomy:       tax,
		store:          deps.Store,
		images:         deps.Images,
		normalizer:     deps.Normalizer,
		blobs:          deps.Blobs,
		generator:      deps.Generator,
		broadcaster:    deps.Broadcaster,
		search:         deps.Search,
		spotify:        deps.Spotify,
		metrics:        m,
		log:            deps.Logger,
		recent:         newRecentWindow(cfg.RecentPairsSize),
		metadata:       cache.New(time.Minute, 5*time.Minute),
		publishTimeout: 5 * time.Second,
		intn:           rand.IntN,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// ResetRecent forgets which pairs were recently served.
func (s *Service) ResetRecent() {
	s.recent.Reset()
}

func (s *Service) RefreshSpotifyToken(ctx context.Context) error {
	if s.spotify == nil {
		return domainError(http.StatusServiceUnavailable, "SPOTIFY_UNAVAILABLE", "Spotify is not configured", nil)
	}
	if _, err := s.spotify.Refresh(ctx); err != nil {
		s.log.Error().Err(err).Msg("spotify token refresh failed")
		return domainError(http.StatusBadGateway, "SPOTIFY_REFRESH_FAILED", "Failed to refresh Spotify token", nil)
	}
	return nil
}

func toRecords(pairs []store.Pair) []search.PairRecord {
	records := make([]search.PairRecord, 0, len(pairs))
	for _, p := range pairs {
		records = append(records, search.PairRecord{
			ID:           p.ID,
			Type:         p.Type,
			Source:       p.Source,
			Option1Value: p.Option1Value,
			Option2Value: p.Option2Value,
		})
	}
	return records
}

func (s *Service) indexPairs(pairs []store.Pair) {
	if s.search == nil || len(pairs) == 0 {
		return
	}
	s.search.IndexPairs(toRecords(pairs))
}

func (s *Service) unindexPairs(ids []int64) {
	if s.search == nil || len(ids) == 0 {
		return
	}
	s.search.DeletePairs(ids)
}
