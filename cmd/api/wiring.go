package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"thisorthat/api/internal/app"
	"thisorthat/api/internal/blob"
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

// runtime is the fully wired application shared by every command.
type runtime struct {
	cfg     config.Config
	log     zerolog.Logger
	service *app.Service
	hub     *broadcast.Hub
	relay   *broadcast.RedisBroadcaster
	search  *search.Service
	tokens  *sources.TokenStore
	closers []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func buildRuntime(ctx context.Context, cfg config.Config, log zerolog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	tax, err := loadTaxonomy(cfg)
	if err != nil {
		return nil, err
	}

	deps := app.Deps{Metrics: metrics.New(), Logger: log}

	var fallback search.Fallback
	switch cfg.StoreDriver {
	case "sqlite":
		gdb, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			rt.closers = append(rt.closers, func() { _ = sqlDB.Close() })
		}
		deps.Store = store.NewGormStore(gdb)
		fallback = search.NewGormLike(gdb)
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
	case "postgres", "":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		deps.Store = store.NewPostgresStore(db)
		fallback = search.NewPgFTS(db)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	client := &http.Client{Timeout: cfg.ImageFetchTimeout}
	limiter := func() *rate.Limiter {
		return rate.NewLimiter(rate.Every(cfg.ProviderRateLimit), 1)
	}

	rt.tokens = sources.NewTokenStore(cfg.SpotifyClientID, cfg.SpotifyClientSecret, "", client)
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		deps.Spotify = rt.tokens
	}

	textCard, err := sources.NewTextCard(cfg.ImageSize, nil, log)
	if err != nil {
		return nil, err
	}
	deps.Images = sources.NewRouter(log,
		textCard,
		sources.NewLogoDev(sources.LogoDevConfig{
			SecretKey:      cfg.LogoDevSecretKey,
			PublishableKey: cfg.LogoDevPublishableKey,
			ImageSize:      cfg.ImageSize,
		}, client, limiter(), log),
		sources.NewUnsplash(cfg.UnsplashAccessKey, "", client, limiter(), log),
		sources.NewWikipedia("", cfg.WikipediaUserAgent, client, limiter(), log),
		sources.NewSpotify(rt.tokens, "", client, limiter(), log),
	)
	deps.Normalizer = imageproc.NewNormalizer(imageproc.Options{
		Size:         cfg.ImageSize,
		FetchTimeout: cfg.ImageFetchTimeout,
		UserAgent:    cfg.WikipediaUserAgent,
	}, client, log)

	if blobs := openBlobStore(ctx, cfg, log); blobs != nil {
		deps.Blobs = blobs
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		completer, err := generator.NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("generator client: %w", err)
		}
		deps.Generator = generator.New(completer, tax, log.With().Str("component", "generator").Logger())
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set; pair generation disabled")
	}

	rt.hub = broadcast.NewHub(cfg.CORSOrigin, log)
	rt.closers = append(rt.closers, rt.hub.Close)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		relay, err := broadcast.NewRedisBroadcaster(cfg.RedisURL, cfg.BroadcastChannel, rt.hub, log)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = relay.Close() })
		rt.relay = relay
		deps.Broadcaster = relay
		log.Info().Str("channel", cfg.BroadcastChannel).Msg("broadcasting votes through redis")
	} else {
		deps.Broadcaster = broadcast.NewLocalBroadcaster(rt.hub)
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		rt.closers = append(rt.closers, meili.Close)
	}
	rt.search = search.NewService(meili, fallback, log)
	deps.Search = rt.search

	rt.service = app.New(cfg, tax, deps)
	ok = true
	return rt, nil
}

func loadTaxonomy(cfg config.Config) (*taxonomy.Taxonomy, error) {
	if strings.TrimSpace(cfg.TaxonomyFile) == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(cfg.TaxonomyFile)
}

// openBlobStore returns nil when storage is unreachable; image operations then answer
// 503 instead of keeping the whole service down.
func openBlobStore(ctx context.Context, cfg config.Config, log zerolog.Logger) *blob.Store {
	blobs, err := blob.New(blob.Config{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		UseSSL:        cfg.S3UseSSL,
		Region:        cfg.S3Region,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
	if err != nil {
		log.Warn().Err(err).Msg("image storage disabled")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("image storage unavailable")
		return nil
	}
	return blobs
}
