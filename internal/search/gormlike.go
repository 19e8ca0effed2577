package search

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// GormLike is the substring fallback for the single-file store.
type GormLike struct {
	db *gorm.DB
}

func NewGormLike(db *gorm.DB) *GormLike {
	return &GormLike{db: db}
}

func (g *GormLike) Healthy() bool {
	return true
}

func (g *GormLike) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalizeQuery(q)
	pattern := likePattern(q.Text)

	base := g.db.WithContext(ctx).Table("pairs").
		Where(`LOWER(option_1_value) LIKE LOWER(?) ESCAPE '\' OR LOWER(option_2_value) LIKE LOWER(?) ESCAPE '\'`, pattern, pattern)
	if q.FilterType != "" {
		base = base.Where("type = ?", q.FilterType)
	}
	if q.FilterSource != "" {
		base = base.Where("source = ?", q.FilterSource)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("like count: %w", err)
	}

	var records []PairRecord
	err := base.Session(&gorm.Session{}).
		Select("id, type, source, option_1_value, option_2_value").
		Order("id DESC").
		Limit(q.Limit).
		Offset(q.Offset).
		Scan(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("like query: %w", err)
	}

	results := make([]Result, 0, len(records))
	for _, r := range records {
		results = append(results, Result{PairRecord: r})
	}
	return results, int(total), nil
}

func (g *GormLike) LoadAllRecords(ctx context.Context) ([]PairRecord, error) {
	records := make([]PairRecord, 0)
	err := g.db.WithContext(ctx).Table("pairs").
		Select("id, type, source, option_1_value, option_2_value").
		Order("id").
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load pairs: %w", err)
	}
	return records, nil
}
