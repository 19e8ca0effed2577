package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const pairColumns = `id, type, source, option_1_value, option_2_value, option_1_url, option_2_url, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPair(row rowScanner) (Pair, error) {
	var p Pair
	var url1, url2 sql.NullString
	if err := row.Scan(&p.ID, &p.Type, &p.Source, &p.Option1Value, &p.Option2Value, &url1, &url2, &p.CreatedAt); err != nil {
		return Pair{}, err
	}
	if url1.Valid {
		p.Option1URL = &url1.String
	}
	if url2.Valid {
		p.Option2URL = &url2.String
	}
	return p, nil
}

func (s *PostgresStore) queryPairs(ctx context.Context, query string, args ...any) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (s *PostgresStore) RecentPairs(ctx context.Context, pairType string, limit int) ([]Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE ($1 = '' OR type = $1) ORDER BY created_at DESC, id DESC LIMIT $2`
	pairs, err := s.queryPairs(ctx, query, pairType, limit)
	if err != nil {
		return nil, fmt.Errorf("recent pairs: %w", err)
	}
	return pairs, nil
}

// FindDuplicatePair matches the unordered option values within one type, ignoring case
// and source.
func (s *PostgresStore) FindDuplicatePair(ctx context.Context, pairType, option1, option2 string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM pairs
			WHERE type = $1
				AND (
					(LOWER(option_1_value) = LOWER($2) AND LOWER(option_2_value) = LOWER($3))
					OR (LOWER(option_1_value) = LOWER($3) AND LOWER(option_2_value) = LOWER($2))
				)
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, pairType, strings.TrimSpace(option1), strings.TrimSpace(option2)).Scan(&exists); err != nil {
		return false, fmt.Errorf("find duplicate pair: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertPair(ctx context.Context, p Pair) (Pair, error) {
	const query = `
		INSERT INTO pairs (type, source, option_1_value, option_2_value, option_1_url, option_2_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + pairColumns
	inserted, err := scanPair(s.db.QueryRowContext(ctx, query, p.Type, p.Source, p.Option1Value, p.Option2Value, p.Option1URL, p.Option2URL))
	if err != nil {
		return Pair{}, fmt.Errorf("insert pair: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetPair(ctx context.Context, id int64) (Pair, error) {
	p, err := scanPair(s.db.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM pairs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, fmt.Errorf("get pair %d: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) CountPairs(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pairs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pairs: %w", err)
	}
	return count, nil
}

// PairAt returns the pair at offset in id order.
func (s *PostgresStore) PairAt(ctx context.Context, offset int) (Pair, error) {
	p, err := scanPair(s.db.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM pairs ORDER BY id LIMIT 1 OFFSET $1`, offset))
	if errors.Is(err, sql.ErrNoRows) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, fmt.Errorf("pair at %d: %w", offset, err)
	}
	return p, nil
}

func pairFilterClause(filter PairFilter) (string, []any) {
	where := `WHERE ($1 = '' OR type = $1) AND ($2 = '' OR source = $2)`
	args := []any{filter.Type, filter.Source}
	suffix := ""
	if filter.Limit > 0 {
		args = append(args, filter.Limit, max(filter.Offset, 0))
		suffix = ` LIMIT $3 OFFSET $4`
	}
	return where + ` ORDER BY created_at DESC, id DESC` + suffix, args
}

// ListPairs returns pairs newest first. A zero Limit returns every match.
func (s *PostgresStore) ListPairs(ctx context.Context, filter PairFilter) ([]Pair, error) {
	clause, args := pairFilterClause(filter)
	pairs, err := s.queryPairs(ctx, `SELECT `+pairColumns+` FROM pairs `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	return pairs, nil
}

func (s *PostgresStore) ListPairIDs(ctx context.Context, filter PairFilter) ([]int64, error) {
	clause, args := pairFilterClause(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM pairs `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list pair ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pair id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) IncompletePairs(ctx context.Context) ([]Pair, error) {
	pairs, err := s.queryPairs(ctx, `
		SELECT `+pairColumns+` FROM pairs
		WHERE option_1_url IS NULL OR option_1_url = '' OR option_2_url IS NULL OR option_2_url = ''
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("incomplete pairs: %w", err)
	}
	return pairs, nil
}

func (s *PostgresStore) UpdatePairURLs(ctx context.Context, id int64, option1URL, option2URL string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE pairs SET option_1_url = $2, option_2_url = $3 WHERE id = $1`, id, option1URL, option2URL)
	if err != nil {
		return fmt.Errorf("update pair %d urls: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePairs removes the pairs and every vote keyed by their option values or id.
func (s *PostgresStore) DeletePairs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete pairs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM votes v USING pairs p
		WHERE p.id = ANY($1)
			AND v.option_1_value = p.option_1_value
			AND v.option_2_value = p.option_2_value
	`, ids); err != nil {
		return fmt.Errorf("delete votes by options: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE pair_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete votes by pair: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pairs WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete pairs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete pairs: %w", err)
	}
	return nil
}

const voteColumns = `id, pair_id, option_1_value, option_2_value, option_1_count, option_2_count, created_at`

func scanVote(row rowScanner) (Vote, error) {
	var v Vote
	var pairID sql.NullInt64
	if err := row.Scan(&v.ID, &pairID, &v.Option1Value, &v.Option2Value, &v.Option1Count, &v.Option2Count, &v.CreatedAt); err != nil {
		return Vote{}, err
	}
	if pairID.Valid {
		v.PairID = &pairID.Int64
	}
	return v, nil
}

// IncrementVote creates the vote row for the pair's option values on first use and adds
// one to the chosen side.
func (s *PostgresStore) IncrementVote(ctx context.Context, p Pair, side int) (Vote, error) {
	inc1, inc2 := 0, 0
	if side == 2 {
		inc2 = 1
	} else {
		inc1 = 1
	}
	const query = `
		INSERT INTO votes (pair_id, option_1_value, option_2_value, option_1_count, option_2_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (option_1_value, option_2_value) DO UPDATE SET
			pair_id = EXCLUDED.pair_id,
			option_1_count = votes.option_1_count + EXCLUDED.option_1_count,
			option_2_count = votes.option_2_count + EXCLUDED.option_2_count
		RETURNING ` + voteColumns
	v, err := scanVote(s.db.QueryRowContext(ctx, query, p.ID, p.Option1Value, p.Option2Value, inc1, inc2))
	if err != nil {
		return Vote{}, fmt.Errorf("increment vote for pair %d: %w", p.ID, err)
	}
	return v, nil
}

func (s *PostgresStore) VotesFor(ctx context.Context, keys []OptionKey) (map[OptionKey]Vote, error) {
	out := make(map[OptionKey]Vote, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	firsts := make([]string, len(keys))
	seconds := make([]string, len(keys))
	for i, k := range keys {
		firsts[i], seconds[i] = k.Option1, k.Option2
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.pair_id, v.option_1_value, v.option_2_value, v.option_1_count, v.option_2_count, v.created_at
		FROM votes v
		JOIN unnest($1::text[], $2::text[]) AS k(o1, o2)
			ON v.option_1_value = k.o1 AND v.option_2_value = k.o2
	`, firsts, seconds)
	if err != nil {
		return nil, fmt.Errorf("votes for pairs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out[OptionKey{Option1: v.Option1Value, Option2: v.Option2Value}] = v
	}
	return out, rows.Err()
}

// ListPairVotes returns every vote row with at least one vote, joined to the
// lowest-id pair carrying the same option values.
func (s *PostgresStore) ListPairVotes(ctx context.Context) ([]PairVotes, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (v.id)
			p.id, p.type, p.source, p.option_1_value, p.option_2_value, p.option_1_url, p.option_2_url, p.created_at,
			v.id, v.pair_id, v.option_1_value, v.option_2_value, v.option_1_count, v.option_2_count, v.created_at
		FROM votes v
		JOIN pairs p ON p.option_1_value = v.option_1_value AND p.option_2_value = v.option_2_value
		WHERE v.option_1_count + v.option_2_count > 0
		ORDER BY v.id, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pair votes: %w", err)
	}
	defer rows.Close()

	var out []PairVotes
	for rows.Next() {
		var item PairVotes
		var url1, url2 sql.NullString
		var pairID sql.NullInt64
		if err := rows.Scan(
			&item.Pair.ID, &item.Pair.Type, &item.Pair.Source, &item.Pair.Option1Value, &item.Pair.Option2Value, &url1, &url2, &item.Pair.CreatedAt,
			&item.Vote.ID, &pairID, &item.Vote.Option1Value, &item.Vote.Option2Value, &item.Vote.Option1Count, &item.Vote.Option2Count, &item.Vote.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pair vote: %w", err)
		}
		if url1.Valid {
			item.Pair.Option1URL = &url1.String
		}
		if url2.Valid {
			item.Pair.Option2URL = &url2.String
		}
		if pairID.Valid {
			item.Vote.PairID = &pairID.Int64
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DistinctTypesAndSources(ctx context.Context) ([]string, []string, error) {
	types, err := s.distinct(ctx, `SELECT DISTINCT type FROM pairs ORDER BY type`)
	if err != nil {
		return nil, nil, fmt.Errorf("distinct types: %w", err)
	}
	sources, err := s.distinct(ctx, `SELECT DISTINCT source FROM pairs ORDER BY source`)
	if err != nil {
		return nil, nil, fmt.Errorf("distinct sources: %w", err)
	}
	return types, sources, nil
}

func (s *PostgresStore) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}
