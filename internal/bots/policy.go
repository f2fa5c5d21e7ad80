package bots

import (
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/trivia-royale/internal/types"
)

// AnswerPolicy picks the answer a bot submits for q.
type AnswerPolicy interface {
	Choose(q types.NewQuestion) string
}

// AccuracyPolicy answers correctly with probability P and otherwise picks
// one of the wrong answers uniformly.
type AccuracyPolicy struct {
	P float64
}

func (p AccuracyPolicy) Choose(q types.NewQuestion) string {
	idx := letterIndex(q.Correct)
	if idx < 0 {
		return q.Answers[rand.IntN(len(q.Answers))]
	}
	correct := q.Answers[idx]
	if rand.Float64() < p.P {
		return correct
	}

	wrong := make([]string, 0, len(q.Answers)-1)
	for _, a := range q.Answers {
		if a != correct {
			wrong = append(wrong, a)
		}
	}
	if len(wrong) == 0 {
		return correct
	}
	return wrong[rand.IntN(len(wrong))]
}

func letterIndex(letter string) int {
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'D' {
		return -1
	}
	return int(letter[0] - 'A')
}

// answerDelay spreads a bot's answer over [margin, limit-margin].
func answerDelay(limit, margin time.Duration) time.Duration {
	span := limit - 2*margin
	if span <= 0 {
		return margin
	}
	return margin + rand.N(span)
}
