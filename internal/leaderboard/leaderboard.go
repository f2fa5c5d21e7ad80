// Package leaderboard records match wins per (username, category) and reads
// back the top winners.
package leaderboard

import (
	"context"
	"errors"
	"slices"
	"sync"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrEmptyUsername = errors.New("empty username")

type Entry struct {
	Username string `json:"username"`
	Category string `json:"category"`
	Wins     int64  `json:"wins"`
}

type Recorder interface {
	RecordWin(ctx context.Context, username, category string) error
}

// Store is a Recorder that can also be read. An empty category in Top
// ranks every (username, category) pair together.
type Store interface {
	Recorder
	Top(ctx context.Context, category string, limit int) ([]Entry, error)
}

// ClampLimit maps a requested page size onto [1, MaxLimit], defaulting
// non-positive values.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

type key struct{ username, category string }

type MemoryStore struct {
	mu   sync.Mutex
	wins map[key]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wins: make(map[key]int64)}
}

func (s *MemoryStore) RecordWin(_ context.Context, username, category string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	s.mu.Lock()
	s.wins[key{username, category}]++
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Top(_ context.Context, category string, limit int) ([]Entry, error) {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.wins))
	for k, n := range s.wins {
		if category != "" && k.category != category {
			continue
		}
		out = append(out, Entry{Username: k.username, Category: k.category, Wins: n})
	}
	s.mu.Unlock()

	sortEntries(out)
	return out[:min(len(out), ClampLimit(limit))], nil
}

// sortEntries orders by wins descending, then username and category.
func sortEntries(es []Entry) {
	slices.SortFunc(es, func(a, b Entry) int {
		switch {
		case a.Wins != b.Wins:
			if a.Wins > b.Wins {
				return -1
			}
			return 1
		case a.Username != b.Username:
			if a.Username < b.Username {
				return -1
			}
			return 1
		case a.Category < b.Category:
			return -1
		case a.Category > b.Category:
			return 1
		}
		return 0
	})
}
