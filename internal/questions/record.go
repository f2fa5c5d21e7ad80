// Package questions supplies one question per round: it claims the stalest
// eligible record from the bank and falls back to generating, grading and
// banking a fresh one.
package questions

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoEligible         = errors.New("no eligible question in bank")
	ErrDuplicate          = errors.New("question already banked")
	ErrGenerationRejected = errors.New("generated question rejected")
	ErrExhausted          = errors.New("question acquisition exhausted")
)

// Record is a banked question. The correct answer is stored as text so the
// stored order of Answers carries no meaning.
type Record struct {
	ID            string     `gorm:"primaryKey;type:uuid"`
	Category      string     `gorm:"not null;uniqueIndex:idx_questions_category_text,priority:1;index:idx_questions_claim,priority:1"`
	Text          string     `gorm:"not null;uniqueIndex:idx_questions_category_text,priority:2"`
	Answers       []string   `gorm:"serializer:json;type:jsonb;not null"`
	CorrectText   string     `gorm:"not null"`
	LastUsedAt    *time.Time `gorm:"index:idx_questions_claim,priority:2"`
	ReservedUntil *time.Time
	UseCount      int `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

func (Record) TableName() string { return "questions" }

// Eligible reports whether r may be claimed at now.
func (r Record) Eligible(now time.Time, cooldown time.Duration) bool {
	if r.LastUsedAt != nil && r.LastUsedAt.After(now.Add(-cooldown)) {
		return false
	}
	if r.ReservedUntil != nil && r.ReservedUntil.After(now) {
		return false
	}
	return true
}

// stalerThan orders claim candidates: never used first, then oldest use,
// fewest uses, lowest id.
func (r Record) stalerThan(o Record) bool {
	switch {
	case r.LastUsedAt == nil && o.LastUsedAt != nil:
		return true
	case r.LastUsedAt != nil && o.LastUsedAt == nil:
		return false
	case r.LastUsedAt != nil && !r.LastUsedAt.Equal(*o.LastUsedAt):
		return r.LastUsedAt.Before(*o.LastUsedAt)
	}
	if r.UseCount != o.UseCount {
		return r.UseCount < o.UseCount
	}
	return r.ID < o.ID
}

// markUsed stamps a claim or first use onto r.
func (r *Record) markUsed(now time.Time, reserve time.Duration) {
	used := now
	until := now.Add(reserve)
	r.LastUsedAt = &used
	r.ReservedUntil = &until
	r.UseCount++
}

type ClaimRequest struct {
	Category string
	Now      time.Time
	Cooldown time.Duration
	Reserve  time.Duration
}

// Store is the question bank. Claim must select and stamp a record in one
// atomic step so two concurrent claimers never receive the same record.
type Store interface {
	Claim(ctx context.Context, req ClaimRequest) (Record, error)
	Insert(ctx context.Context, rec Record) error
}

// Candidate is an ungraded question produced by a Generator.
type Candidate struct {
	Text    string
	Answers []string
	Correct string // "A".."D"
}

type Generator interface {
	Generate(ctx context.Context, category string) (Candidate, error)
}

// Grader scores a candidate's creativity from 1 to 10.
type Grader interface {
	Grade(ctx context.Context, c Candidate) (float64, error)
}
