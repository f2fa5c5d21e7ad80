package questions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

// GormStore banks questions in postgres. Claims lock the chosen row with
// FOR UPDATE SKIP LOCKED so concurrent claimers pass over each other's rows.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Claim(ctx context.Context, req ClaimRequest) (Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
			Where("category = ?", req.Category).
			Where("(last_used_at IS NULL OR last_used_at <= ?)", req.Now.Add(-req.Cooldown)).
			Where("(reserved_until IS NULL OR reserved_until <= ?)", req.Now).
			Order("last_used_at ASC NULLS FIRST").
			Order("use_count ASC").
			Order("id ASC").
			Limit(1).
			Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoEligible
		}
		if err != nil {
			return err
		}

		rec.markUsed(req.Now, req.Reserve)
		return tx.Model(&Record{}).
			Where("id = ?", rec.ID).
			Updates(map[string]any{
				"last_used_at":   rec.LastUsedAt,
				"reserved_until": rec.ReservedUntil,
				"use_count":      gorm.Expr("use_count + 1"),
			}).Error
	})
	if errors.Is(err, ErrNoEligible) {
		return Record{}, ErrNoEligible
	}
	if err != nil {
		return Record{}, fmt.Errorf("claim %s question: %w", req.Category, err)
	}
	return rec, nil
}

func (s *GormStore) Insert(ctx context.Context, rec Record) error {
	err := s.db.WithContext(ctx).Create(&rec).Error
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
