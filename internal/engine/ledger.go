package engine

import (
	"maps"
	"sync"
)

// Ledger records each player's latest answer for one round. Writes are
// accepted until Close; later writes are dropped.
type Ledger struct {
	mu      sync.Mutex
	round   int
	open    bool
	answers map[string]string
}

func NewLedger(round int) *Ledger {
	return &Ledger{
		round:   round,
		open:    true,
		answers: make(map[string]string),
	}
}

func (l *Ledger) Round() int { return l.round }

// Record stores answer as player's current answer, replacing any earlier one.
// It reports false once the ledger is closed.
func (l *Ledger) Record(player, answer string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return false
	}
	l.answers[player] = answer
	return true
}

func (l *Ledger) Has(player string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.answers[player]
	return ok
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.answers)
}

func (l *Ledger) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Close stops accepting answers and returns the final snapshot.
func (l *Ledger) Close() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	return maps.Clone(l.answers)
}

func (l *Ledger) Snapshot() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.answers)
}
