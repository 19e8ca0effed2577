package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestPostgres(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db, ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, ctx := openTestPostgres(t)
	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}

	for {
		version, err := RollbackLast(ctx, db, migrationsDir)
		if err != nil {
			t.Fatalf("rollback: %v", err)
		}
		if version == "" {
			break
		}
	}

	var remaining int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&remaining); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected all migrations rolled back, %d remain", remaining)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestPostgresStoreVotesAndDelete(t *testing.T) {
	db, ctx := openTestPostgres(t)
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)

	pair, err := s.InsertPair(ctx, Pair{Type: "food", Source: "unsplash", Option1Value: "Pizza", Option2Value: "Tacos"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup, err := s.FindDuplicatePair(ctx, "food", " tacos ", "PIZZA")
	if err != nil || !dup {
		t.Fatalf("expected symmetric duplicate, got %v err=%v", dup, err)
	}

	if _, err := s.IncrementVote(ctx, pair, 1); err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	vote, err := s.IncrementVote(ctx, pair, 2)
	if err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	if vote.Option1Count != 1 || vote.Option2Count != 1 {
		t.Fatalf("unexpected counts: %+v", vote)
	}

	if err := s.DeletePairs(ctx, []int64{pair.ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	votes, err := s.VotesFor(ctx, []OptionKey{pair.Key()})
	if err != nil {
		t.Fatalf("votes for: %v", err)
	}
	if len(votes) != 0 {
		t.Fatalf("expected votes to be removed, got %v", votes)
	}
	if _, err := s.GetPair(ctx, pair.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
