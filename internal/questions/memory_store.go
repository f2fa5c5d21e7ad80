package questions

import (
	"context"
	"sync"
)

// MemoryStore is an in-process bank. Each category has its own shelf lock,
// so claims on different categories never contend.
type MemoryStore struct {
	mu      sync.Mutex
	shelves map[string]*shelf
}

type shelf struct {
	mu      sync.Mutex
	records []*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shelves: make(map[string]*shelf)}
}

func (s *MemoryStore) shelf(category string) *shelf {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shelves[category]
	if !ok {
		sh = &shelf{}
		s.shelves[category] = sh
	}
	return sh
}

func (s *MemoryStore) Claim(ctx context.Context, req ClaimRequest) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	sh := s.shelf(req.Category)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var best *Record
	for _, r := range sh.records {
		if !r.Eligible(req.Now, req.Cooldown) {
			continue
		}
		if best == nil || r.stalerThan(*best) {
			best = r
		}
	}
	if best == nil {
		return Record{}, ErrNoEligible
	}
	best.markUsed(req.Now, req.Reserve)
	return clone(*best), nil
}

func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shelf(rec.Category)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, r := range sh.records {
		if r.Text == rec.Text || r.ID == rec.ID {
			return ErrDuplicate
		}
	}
	c := clone(rec)
	sh.records = append(sh.records, &c)
	return nil
}

// Len returns the number of records banked under category.
func (s *MemoryStore) Len(category string) int {
	sh := s.shelf(category)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.records)
}

func clone(r Record) Record {
	r.Answers = append([]string(nil), r.Answers...)
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		r.LastUsedAt = &t
	}
	if r.ReservedUntil != nil {
		t := *r.ReservedUntil
		r.ReservedUntil = &t
	}
	return r
}
