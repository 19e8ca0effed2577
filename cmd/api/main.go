package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"thisorthat/api/internal/app"
	"thisorthat/api/internal/config"
	"thisorthat/api/internal/logging"
	"thisorthat/api/internal/sources"
	"thisorthat/api/internal/store"
)

const serviceName = "thisorthat-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Backend for the this-or-that voting game",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP and websocket server", RunE: runServe},
		newMigrateCmd(),
		newGenerateCmd(),
		&cobra.Command{Use: "attach-images", Short: "Attach images to every pair that lacks one", RunE: runAttachImages},
		&cobra.Command{Use: "refresh-spotify-token", Short: "Check that the Spotify client credentials yield a token", RunE: runRefreshSpotify},
	)
	return root
}

func setup() (config.Config, zerolog.Logger) {
	cfg := config.Load()
	return cfg, logging.New(cfg.LogLevel, serviceName, os.Stderr)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, log := setup()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer rt.Close()

	if cfg.SpotifyClientID != "" {
		if err := rt.service.RefreshSpotifyToken(ctx); err != nil {
			log.Warn().Err(err).Msg("initial spotify token refresh failed")
		}
	}
	go rt.search.ReindexAll(ctx)

	httpServer := app.NewHTTPServer(rt.service, cfg.CORSOrigin, cfg.APIKey, rt.hub, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generation with image attachment runs inside the request.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if rt.relay != nil {
		g.Go(func() error {
			return rt.relay.Relay(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations, or roll back the latest with --down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log := setup()

			if cfg.StoreDriver == "sqlite" {
				if down {
					return errors.New("--down is only supported for postgres")
				}
				gdb, err := store.OpenSQLite(cfg.SQLitePath)
				if err != nil {
					return err
				}
				if sqlDB, err := gdb.DB(); err == nil {
					_ = sqlDB.Close()
				}
				log.Info().Str("path", cfg.SQLitePath).Msg("sqlite schema up to date")
				return nil
			}

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			if down {
				version, err := store.RollbackLast(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				if version == "" {
					log.Info().Msg("no migrations to roll back")
					return nil
				}
				log.Info().Str("version", version).Msg("rolled back migration")
				return nil
			}
			if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				return err
			}
			log.Info().Str("dir", cfg.MigrationsDir).Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recently applied migration")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var input app.GenerateInput
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate new pairs and store them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log := setup()

			rt, err := buildRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.service.GeneratePairs(ctx, input)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().IntVar(&input.Count, "count", 10, "number of pairs to store")
	cmd.Flags().StringVar(&input.Category, "type", "", "restrict generation to one pair type")
	cmd.Flags().BoolVar(&input.Attach, "attach", false, "attach images to the new pairs")
	return cmd
}

func runAttachImages(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, log := setup()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.service.AttachMissingImages(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

// runRefreshSpotify checks the configured client credentials. Each server process holds
// its own token, so this does not refresh a running server.
func runRefreshSpotify(cmd *cobra.Command, _ []string) error {
	cfg, log := setup()

	tokens := sources.NewTokenStore(cfg.SpotifyClientID, cfg.SpotifyClientSecret, "", &http.Client{Timeout: cfg.ImageFetchTimeout})
	if _, err := tokens.Refresh(cmd.Context()); err != nil {
		log.Error().Err(err).Msg("spotify token refresh failed")
		return err
	}
	log.Info().Msg("Spotify token refreshed successfully")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
