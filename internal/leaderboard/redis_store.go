package leaderboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	allKey      = "leaderboard:all"
	categoryKey = "leaderboard:category:"
	// memberSep joins category and username in the global set.
	memberSep = "\x1f"
)

// RedisStore keeps one sorted set per category plus a global set whose
// members are category and username joined by memberSep.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) RecordWin(ctx context.Context, username, category string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZIncrBy(ctx, allKey, 1, category+memberSep+username)
		pipe.ZIncrBy(ctx, categoryKey+category, 1, username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record win for %s: %w", username, err)
	}
	return nil
}

func (s *RedisStore) Top(ctx context.Context, category string, limit int) ([]Entry, error) {
	key := allKey
	if category != "" {
		key = categoryKey + category
	}

	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, int64(ClampLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		e := Entry{Username: member, Category: category, Wins: int64(z.Score)}
		if category == "" {
			e.Category, e.Username = splitMember(member)
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func splitMember(m string) (category, username string) {
	category, username, ok := strings.Cut(m, memberSep)
	if !ok {
		return "", m
	}
	return category, username
}
