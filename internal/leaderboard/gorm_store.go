package leaderboard

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Win is one leaderboard row.
type Win struct {
	Username  string `gorm:"primaryKey"`
	Category  string `gorm:"primaryKey"`
	Wins      int64  `gorm:"not null;default:0;index"`
	UpdatedAt time.Time
}

func (Win) TableName() string { return "leaderboard" }

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// RecordWin upserts the row and bumps its count in one statement.
func (s *GormStore) RecordWin(ctx context.Context, username, category string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	row := Win{Username: username, Category: category, Wins: 1, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "username"}, {Name: "category"}},
		DoUpdates: clause.Assignments(map[string]any{
			"wins":       gorm.Expr("leaderboard.wins + 1"),
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record win for %s: %w", username, err)
	}
	return nil
}

func (s *GormStore) Top(ctx context.Context, category string, limit int) ([]Entry, error) {
	q := s.db.WithContext(ctx).Model(&Win{})
	if category != "" {
		q = q.Where("category = ?", category)
	}

	var rows []Win
	err := q.Order("wins DESC").Order("username ASC").Order("category ASC").
		Limit(ClampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Username: r.Username, Category: r.Category, Wins: r.Wins}
	}
	return out, nil
}
