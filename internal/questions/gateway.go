package questions

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
)

type Config struct {
	Cooldown    time.Duration
	Reserve     time.Duration
	MaxAttempts int
	MinScore    float64
	// RetryDelay is the pause between generation attempts.
	RetryDelay time.Duration
	// Perm returns a permutation of [0,n); rand.Perm when nil.
	Perm func(n int) []int
}

func DefaultConfig() Config {
	return Config{
		Cooldown:    120 * time.Minute,
		Reserve:     60 * time.Second,
		MaxAttempts: 20,
		MinScore:    5,
	}
}

// Gateway hands out one question per call. It never holds a lock across
// generation, so slow model calls only delay the match that asked.
type Gateway struct {
	store  Store
	gen    Generator // optional
	grader Grader    // optional
	cfg    Config
	log    *zap.Logger
}

func NewGateway(store Store, gen Generator, grader Grader, cfg Config, log *zap.Logger) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Perm == nil {
		cfg.Perm = rand.Perm
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{store: store, gen: gen, grader: grader, cfg: cfg, log: log.Named("questions")}
}

// Acquire returns a question for category. Banked questions win over fresh
// ones; a fresh question is banked as already used before it is returned.
func (g *Gateway) Acquire(ctx context.Context, category string, now time.Time) (engine.Question, error) {
	rec, err := g.store.Claim(ctx, ClaimRequest{
		Category: category,
		Now:      now,
		Cooldown: g.cfg.Cooldown,
		Reserve:  g.cfg.Reserve,
	})
	switch {
	case err == nil:
		g.log.Debug("bank hit", zap.String("category", category), zap.String("id", rec.ID), zap.Int("use_count", rec.UseCount))
		return g.present(rec)
	case !errors.Is(err, ErrNoEligible):
		return engine.Question{}, fmt.Errorf("%w: %w", ErrExhausted, err)
	case g.gen == nil:
		return engine.Question{}, fmt.Errorf("%w: %w", ErrExhausted, ErrNoEligible)
	}

	rec, err = g.generate(ctx, category, now)
	if err != nil {
		return engine.Question{}, err
	}
	return g.present(rec)
}

func (g *Gateway) generate(ctx context.Context, category string, now time.Time) (Record, error) {
	attempt := 0
	op := func() (Record, error) {
		attempt++
		rec, err := g.generateOnce(ctx, category, now)
		if err == nil {
			return rec, nil
		}
		if ctx.Err() != nil {
			return Record{}, backoff.Permanent(ctx.Err())
		}
		g.log.Debug("generation attempt failed",
			zap.String("category", category),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return Record{}, err
	}

	rec, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(g.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(g.cfg.MaxAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil {
			// A deadline that cuts the retries short counts as exhaustion.
			if errors.Is(ctx.Err(), context.Canceled) {
				return Record{}, ctx.Err()
			}
			err = ctx.Err()
		}
		g.log.Warn("question generation exhausted", zap.String("category", category), zap.Int("attempts", attempt), zap.Error(err))
		return Record{}, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
	g.log.Info("question generated", zap.String("category", category), zap.Int("attempts", attempt))
	return rec, nil
}

func (g *Gateway) generateOnce(ctx context.Context, category string, now time.Time) (Record, error) {
	c, err := g.gen.Generate(ctx, category)
	if err != nil {
		return Record{}, err
	}
	rec, err := Validate(category, c)
	if err != nil {
		return Record{}, err
	}

	if g.grader != nil {
		score, err := g.grader.Grade(ctx, c)
		if err != nil {
			g.log.Warn("grading failed", zap.Error(err))
			score = 1
		}
		if score < g.cfg.MinScore {
			return Record{}, fmt.Errorf("%w: creativity %.1f below %.1f", ErrGenerationRejected, score, g.cfg.MinScore)
		}
	}

	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.markUsed(now, g.cfg.Reserve)
	if err := g.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Record{}, fmt.Errorf("%w: %w", ErrGenerationRejected, err)
		}
		return Record{}, err
	}
	return rec, nil
}

// Validate turns a candidate into a bank record, rejecting anything a round
// could not be played with.
func Validate(category string, c Candidate) (Record, error) {
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return Record{}, fmt.Errorf("%w: empty question", ErrGenerationRejected)
	}
	if len(c.Answers) != 4 {
		return Record{}, fmt.Errorf("%w: %d answers", ErrGenerationRejected, len(c.Answers))
	}

	answers := make([]string, 4)
	seen := make(map[string]bool, 4)
	for i, a := range c.Answers {
		a = strings.TrimSpace(a)
		if a == "" {
			return Record{}, fmt.Errorf("%w: empty answer", ErrGenerationRejected)
		}
		key := engine.NormalizeAnswer(a)
		if seen[key] {
			return Record{}, fmt.Errorf("%w: duplicate answer %q", ErrGenerationRejected, a)
		}
		seen[key] = true
		answers[i] = a
	}

	letter := strings.ToUpper(strings.TrimSpace(c.Correct))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'D' {
		return Record{}, fmt.Errorf("%w: bad correct letter %q", ErrGenerationRejected, c.Correct)
	}

	return Record{
		Category:    category,
		Text:        text,
		Answers:     answers,
		CorrectText: answers[letter[0]-'A'],
	}, nil
}

// present shuffles rec's answers for this use.
func (g *Gateway) present(rec Record) (engine.Question, error) {
	if len(rec.Answers) != 4 {
		return engine.Question{}, fmt.Errorf("%w: question %s has %d answers", ErrExhausted, rec.ID, len(rec.Answers))
	}

	q := engine.Question{Category: rec.Category, Text: rec.Text, Correct: -1}
	want := engine.NormalizeAnswer(rec.CorrectText)
	for i, j := range g.cfg.Perm(4) {
		q.Answers[i] = rec.Answers[j]
		if engine.NormalizeAnswer(rec.Answers[j]) == want {
			q.Correct = i
		}
	}
	if q.Correct < 0 {
		return engine.Question{}, fmt.Errorf("%w: question %s has no matching correct answer", ErrExhausted, rec.ID)
	}
	return q, nil
}
