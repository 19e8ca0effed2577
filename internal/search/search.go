package search

import "context"

// PairRecord is the data we index for a pair.
type PairRecord struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	Source       string `json:"source"`
	Option1Value string `json:"option_1_value" gorm:"column:option_1_value"`
	Option2Value string `json:"option_2_value" gorm:"column:option_2_value"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	PairRecord
	Highlight string `json:"highlight,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   string // empty = all types
	FilterSource string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Fallback is a database-backed searcher that can also feed a full reindex.
type Fallback interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]PairRecord, error)
}

const defaultLimit = 20

func normalizeQuery(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
