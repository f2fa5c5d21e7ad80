package engine

import (
	"strings"

	"golang.org/x/text/cases"
)

type Result struct {
	Survivors  []string
	Eliminated []string
}

// Eliminate partitions players by whether their recorded answer matches
// correct. Both lists keep the order of players.
func Eliminate(players []string, answers map[string]string, correct string) Result {
	want := NormalizeAnswer(correct)
	res := Result{Survivors: []string{}, Eliminated: []string{}}

	for _, p := range players {
		got, ok := answers[p]
		if ok && want != "" && NormalizeAnswer(got) == want {
			res.Survivors = append(res.Survivors, p)
		} else {
			res.Eliminated = append(res.Eliminated, p)
		}
	}
	return res
}

var folder = cases.Fold()

// NormalizeAnswer trims surrounding whitespace and case-folds s.
func NormalizeAnswer(s string) string {
	return folder.String(strings.TrimSpace(s))
}
