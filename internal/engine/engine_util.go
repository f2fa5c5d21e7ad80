package engine

import (
	"strings"
	"time"
)

// BotNamePrefix marks synthetic players. Their joins never request more bots.
const BotNamePrefix = "🤖"

// MixedCategory is the umbrella category that re-rolls a concrete category
// for every question.
const MixedCategory = "Battle Royale"

var MixedSubcategories = []string{"Sports", "Science", "Movies", "History", "Geography", "Music"}

func DefaultRules() Rules {
	return Rules{TimeLimit: 15 * time.Second, Intermission: 5 * time.Second}
}

func NewState(matchID, category string, rules Rules, now time.Time) State {
	return State{
		MatchID:      matchID,
		Category:     category,
		Phase:        PhaseLobby,
		Players:      []string{},
		Disconnected: map[string]bool{},
		Rules:        rules,
		CreatedAt:    now,
	}
}

// Started reports whether the match has left the lobby.
func (s State) Started() bool {
	return s.Phase != PhaseLobby && s.Phase != PhaseEnded
}

func IsBotName(name string) bool {
	return strings.HasPrefix(name, BotNamePrefix)
}

func ValidPlayerName(name string) bool {
	return strings.TrimSpace(name) != ""
}

// ConcreteCategory resolves the mixed category to one of its subcategories.
// intn must behave like rand.IntN.
func ConcreteCategory(category string, intn func(int) int) string {
	if category != MixedCategory {
		return category
	}
	return MixedSubcategories[intn(len(MixedSubcategories))]
}
