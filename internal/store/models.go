package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Pair struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Type         string    `json:"type" gorm:"not null;index:pairs_type_idx"`
	Source       string    `json:"source" gorm:"not null"`
	Option1Value string    `json:"option_1_value" gorm:"column:option_1_value;not null"`
	Option2Value string    `json:"option_2_value" gorm:"column:option_2_value;not null"`
	Option1URL   *string   `json:"option_1_url" gorm:"column:option_1_url"`
	Option2URL   *string   `json:"option_2_url" gorm:"column:option_2_url"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null;index:pairs_created_at_idx"`
}

func (Pair) TableName() string { return "pairs" }

// Complete reports whether both options have an image.
func (p Pair) Complete() bool {
	return p.Option1URL != nil && *p.Option1URL != "" && p.Option2URL != nil && *p.Option2URL != ""
}

// Option returns the value and url of side 1 or 2.
func (p Pair) Option(side int) (string, *string) {
	if side == 2 {
		return p.Option2Value, p.Option2URL
	}
	return p.Option1Value, p.Option1URL
}

type Vote struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	PairID       *int64    `json:"pair_id" gorm:"index:votes_pair_id_idx"`
	Option1Value string    `json:"option_1_value" gorm:"column:option_1_value;not null;uniqueIndex:votes_option_values_idx"`
	Option2Value string    `json:"option_2_value" gorm:"column:option_2_value;not null;uniqueIndex:votes_option_values_idx"`
	Option1Count int       `json:"option_1_count" gorm:"column:option_1_count;not null;default:0"`
	Option2Count int       `json:"option_2_count" gorm:"column:option_2_count;not null;default:0"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null"`
}

func (Vote) TableName() string { return "votes" }

func (v Vote) Total() int {
	return v.Option1Count + v.Option2Count
}

// OptionKey identifies a vote row by its option values.
type OptionKey struct {
	Option1 string
	Option2 string
}

func (p Pair) Key() OptionKey {
	return OptionKey{Option1: p.Option1Value, Option2: p.Option2Value}
}

// PairFilter narrows pair listings. Zero values mean "any".
type PairFilter struct {
	Type   string
	Source string
	Limit  int
	Offset int
}

// PairVotes is a vote row together with the pair that owns its option values.
type PairVotes struct {
	Pair Pair
	Vote Vote
}
