package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches option values by full-text query or substring, ranked by ts_rank.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalizeQuery(q)

	const document = `to_tsvector('simple', option_1_value || ' ' || option_2_value)`
	const tsQuery = `plainto_tsquery('simple', $1)`
	query := fmt.Sprintf(`
		SELECT id, type, source, option_1_value, option_2_value, COUNT(*) OVER () AS total
		FROM pairs
		WHERE (%s @@ %s OR option_1_value ILIKE $2 OR option_2_value ILIKE $2)
			AND ($3 = '' OR type = $3)
			AND ($4 = '' OR source = $4)
		ORDER BY ts_rank(%s, %s) DESC, id DESC
		LIMIT $5 OFFSET $6`, document, tsQuery, document, tsQuery)

	rows, err := p.db.QueryContext(ctx, query, q.Text, likePattern(q.Text), q.FilterType, q.FilterSource, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Type, &r.Source, &r.Option1Value, &r.Option2Value, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable pairs for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PairRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, type, source, option_1_value, option_2_value FROM pairs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load pairs: %w", err)
	}
	defer rows.Close()

	records := make([]PairRecord, 0)
	for rows.Next() {
		var r PairRecord
		if err := rows.Scan(&r.ID, &r.Type, &r.Source, &r.Option1Value, &r.Option2Value); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairs: %w", err)
	}
	return records, nil
}

// likePattern wraps text for a substring match, escaping LIKE wildcards with a backslash.
func likePattern(text string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.TrimSpace(text))
	return "%" + escaped + "%"
}
