package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the single-file store used for local runs and tests. It mirrors
// PostgresStore query for query.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) RecentPairs(ctx context.Context, pairType string, limit int) ([]Pair, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if pairType != "" {
		q = q.Where("type = ?", pairType)
	}
	var pairs []Pair
	if err := q.Find(&pairs).Error; err != nil {
		return nil, fmt.Errorf("recent pairs: %w", err)
	}
	return pairs, nil
}

// FindDuplicatePair folds case in Go: SQLite's LOWER only folds ASCII, so "Éclair" and
// "éclair" would otherwise count as different values.
func (s *GormStore) FindDuplicatePair(ctx context.Context, pairType, option1, option2 string) (bool, error) {
	var rows []struct {
		Option1Value string `gorm:"column:option_1_value"`
		Option2Value string `gorm:"column:option_2_value"`
	}
	err := s.db.WithContext(ctx).Model(&Pair{}).
		Select("option_1_value", "option_2_value").
		Where("type = ?", pairType).
		Find(&rows).Error
	if err != nil {
		return false, fmt.Errorf("find duplicate pair: %w", err)
	}
	a, b := strings.TrimSpace(option1), strings.TrimSpace(option2)
	for _, row := range rows {
		x, y := strings.TrimSpace(row.Option1Value), strings.TrimSpace(row.Option2Value)
		if (strings.EqualFold(x, a) && strings.EqualFold(y, b)) || (strings.EqualFold(x, b) && strings.EqualFold(y, a)) {
			return true, nil
		}
	}
	return false, nil
}

func (s *GormStore) InsertPair(ctx context.Context, p Pair) (Pair, error) {
	p.ID = 0
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return Pair{}, fmt.Errorf("insert pair: %w", err)
	}
	return p, nil
}

func (s *GormStore) GetPair(ctx context.Context, id int64) (Pair, error) {
	var p Pair
	err := s.db.WithContext(ctx).Take(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, fmt.Errorf("get pair %d: %w", id, err)
	}
	return p, nil
}

func (s *GormStore) CountPairs(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Pair{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count pairs: %w", err)
	}
	return int(count), nil
}

func (s *GormStore) PairAt(ctx context.Context, offset int) (Pair, error) {
	var p Pair
	err := s.db.WithContext(ctx).Order("id").Offset(offset).Limit(1).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, fmt.Errorf("pair at %d: %w", offset, err)
	}
	return p, nil
}

func (s *GormStore) filtered(ctx context.Context, filter PairFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&Pair{}).Order("created_at DESC, id DESC")
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(max(filter.Offset, 0))
	}
	return q
}

func (s *GormStore) ListPairs(ctx context.Context, filter PairFilter) ([]Pair, error) {
	var pairs []Pair
	if err := s.filtered(ctx, filter).Find(&pairs).Error; err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	return pairs, nil
}

func (s *GormStore) ListPairIDs(ctx context.Context, filter PairFilter) ([]int64, error) {
	var ids []int64
	if err := s.filtered(ctx, filter).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list pair ids: %w", err)
	}
	return ids, nil
}

func (s *GormStore) IncompletePairs(ctx context.Context) ([]Pair, error) {
	var pairs []Pair
	err := s.db.WithContext(ctx).
		Where("option_1_url IS NULL OR option_1_url = '' OR option_2_url IS NULL OR option_2_url = ''").
		Order("id").
		Find(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("incomplete pairs: %w", err)
	}
	return pairs, nil
}

func (s *GormStore) UpdatePairURLs(ctx context.Context, id int64, option1URL, option2URL string) error {
	result := s.db.WithContext(ctx).Model(&Pair{}).Where("id = ?", id).Updates(map[string]any{
		"option_1_url": option1URL,
		"option_2_url": option2URL,
	})
	if result.Error != nil {
		return fmt.Errorf("update pair %d urls: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeletePairs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pairs []Pair
		if err := tx.Where("id IN ?", ids).Find(&pairs).Error; err != nil {
			return fmt.Errorf("load pairs: %w", err)
		}
		for _, p := range pairs {
			if err := tx.Where("option_1_value = ? AND option_2_value = ?", p.Option1Value, p.Option2Value).Delete(&Vote{}).Error; err != nil {
				return fmt.Errorf("delete votes by options: %w", err)
			}
		}
		if err := tx.Where("pair_id IN ?", ids).Delete(&Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes by pair: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&Pair{}).Error; err != nil {
			return fmt.Errorf("delete pairs: %w", err)
		}
		return nil
	})
}

func (s *GormStore) IncrementVote(ctx context.Context, p Pair, side int) (Vote, error) {
	inc1, inc2 := 1, 0
	if side == 2 {
		inc1, inc2 = 0, 1
	}
	pairID := p.ID
	row := Vote{
		PairID:       &pairID,
		Option1Value: p.Option1Value,
		Option2Value: p.Option2Value,
		Option1Count: inc1,
		Option2Count: inc2,
	}

	var vote Vote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "option_1_value"}, {Name: "option_2_value"}},
			DoUpdates: clause.Assignments(map[string]any{
				"pair_id":        pairID,
				"option_1_count": gorm.Expr("option_1_count + ?", inc1),
				"option_2_count": gorm.Expr("option_2_count + ?", inc2),
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Where("option_1_value = ? AND option_2_value = ?", p.Option1Value, p.Option2Value).Take(&vote).Error
	})
	if err != nil {
		return Vote{}, fmt.Errorf("increment vote for pair %d: %w", p.ID, err)
	}
	return vote, nil
}

func (s *GormStore) VotesFor(ctx context.Context, keys []OptionKey) (map[OptionKey]Vote, error) {
	out := make(map[OptionKey]Vote, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	q := s.db.WithContext(ctx).Where("1 = 0")
	for _, k := range keys {
		q = q.Or("option_1_value = ? AND option_2_value = ?", k.Option1, k.Option2)
	}
	var votes []Vote
	if err := q.Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("votes for pairs: %w", err)
	}
	for _, v := range votes {
		out[OptionKey{Option1: v.Option1Value, Option2: v.Option2Value}] = v
	}
	return out, nil
}

func (s *GormStore) ListPairVotes(ctx context.Context) ([]PairVotes, error) {
	var votes []Vote
	if err := s.db.WithContext(ctx).Where("option_1_count + option_2_count > 0").Order("id").Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	if len(votes) == 0 {
		return nil, nil
	}

	var pairs []Pair
	err := s.db.WithContext(ctx).Model(&Pair{}).
		Joins("JOIN votes ON votes.option_1_value = pairs.option_1_value AND votes.option_2_value = pairs.option_2_value").
		Where("votes.option_1_count + votes.option_2_count > 0").
		Order("pairs.id").
		Select("pairs.*").
		Find(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("list voted pairs: %w", err)
	}
	owners := make(map[OptionKey]Pair, len(pairs))
	for _, p := range pairs {
		if _, ok := owners[p.Key()]; !ok {
			owners[p.Key()] = p
		}
	}

	out := make([]PairVotes, 0, len(votes))
	for _, v := range votes {
		p, ok := owners[OptionKey{Option1: v.Option1Value, Option2: v.Option2Value}]
		if !ok {
			continue
		}
		out = append(out, PairVotes{Pair: p, Vote: v})
	}
	return out, nil
}

func (s *GormStore) DistinctTypesAndSources(ctx context.Context) ([]string, []string, error) {
	var types, sources []string
	if err := s.db.WithContext(ctx).Model(&Pair{}).Distinct("type").Order("type").Pluck("type", &types).Error; err != nil {
		return nil, nil, fmt.Errorf("distinct types: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&Pair{}).Distinct("source").Order("source").Pluck("source", &sources).Error; err != nil {
		return nil, nil, fmt.Errorf("distinct sources: %w", err)
	}
	return types, sources, nil
}
