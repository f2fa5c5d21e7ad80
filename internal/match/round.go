package match

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
	"github.com/DoyleJ11/trivia-royale/internal/types"
)

const winRecordTimeout = 10 * time.Second

// dispatch applies cmd and any follow-up commands its events produce. The
// returned error belongs to cmd itself.
func (m *Match) dispatch(cmd engine.Command) error {
	queue := []engine.Command{cmd}
	var firstErr error

	for i := 0; i < len(queue); i++ {
		events, newState, err := engine.Apply(m.state, queue[i])
		if err != nil {
			if i == 0 {
				firstErr = err
			}
			continue
		}
		m.state = newState
		m.version++
		queue = append(queue, m.execute(events)...)
		if m.destroyed {
			break
		}
	}
	return firstErr
}

// execute performs the side effects of events in order.
func (m *Match) execute(events []engine.Event) []engine.Command {
	var followUps []engine.Command
	lobbyChanged := false

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtPlayerJoined, engine.EvtPlayerLeft, engine.EvtHostChanged:
			lobbyChanged = true

		case engine.EvtBotsRequested:
			m.botsRequested = true

		case engine.EvtAcquireRequested:
			go m.acquire(ev.Round, ev.Category)

		case engine.EvtGameStarted:
			m.log.Info("game started", zap.Strings("players", m.state.Players))
			m.broadcast(types.ServerMessage{Type: types.EvtStartGame, Data: types.StartGame{MatchID: m.id}})

		case engine.EvtQuestionOpened:
			q := *ev.Question
			payload := types.NewQuestionFrom(m.id, m.state.Category, ev.Round, q, m.state.Rules.TimeLimit, m.state.RoundStartedAt)
			m.broadcast(types.ServerMessage{Type: types.EvtNewQuestion, Data: payload})
			m.armTimer(m.state.Rules.TimeLimit, roundTimeout{round: ev.Round})

		case engine.EvtAllAnswered:
			followUps = append(followUps, engine.Command{Type: engine.CmdCloseRound, Round: ev.Round})

		case engine.EvtRoundGraded:
			m.log.Info("round graded",
				zap.Int("round", ev.Round),
				zap.String("correct", ev.Question.CorrectText()),
				zap.Strings("survivors", ev.Survivors),
				zap.Strings("eliminated", ev.Eliminated))
			m.broadcast(types.ServerMessage{Type: types.EvtRoundResult, Data: types.RoundResult{
				Round:         ev.Round,
				CorrectAnswer: ev.Question.CorrectLetter(),
				Eliminated:    ev.Eliminated,
				Survivors:     ev.Survivors,
			}})
			m.armTimer(m.state.Rules.Intermission, intermissionDone{round: ev.Round})

		case engine.EvtPlayerEliminated:
			m.eliminated = append(m.eliminated, ev.Player)
			m.notifyEliminated(ev.Player)

		case engine.EvtGameOver:
			m.log.Info("game over", zap.String("winner", ev.Player), zap.Int("rounds", m.state.Round))
			m.broadcast(types.ServerMessage{Type: types.EvtGameOver, Data: types.GameOver{Winner: types.Nullable(ev.Player)}})
			if ev.Player != "" && m.deps.Wins != nil {
				go m.recordWin(ev.Player, ev.Category, m.subscribers())
			}

		case engine.EvtMatchFailed:
			m.broadcast(types.ServerMessage{Type: types.EvtMatchError, Data: types.MatchError{
				MatchID: m.id,
				Message: "could not load a question, the match was closed",
			}})

		case engine.EvtMatchDestroyed:
			m.destroy()
			return nil
		}
	}

	if lobbyChanged {
		m.broadcast(types.ServerMessage{Type: types.EvtLobbyUpdate, Data: m.lobbyUpdate()})
	}
	return followUps
}

// acquire runs off the match goroutine; the result comes back as a message.
func (m *Match) acquire(round int, category string) {
	concrete := engine.ConcreteCategory(category, m.deps.Intn)
	ctx, cancel := context.WithTimeout(m.ctx, m.deps.AcquireTimeout)
	defer cancel()

	q, err := m.deps.Questions.Acquire(ctx, concrete, m.deps.Now())
	m.post(questionReady{round: round, q: q, err: err})
}

// recordWin is best effort: a failed write is logged and the game result
// stands.
func (m *Match) recordWin(winner, category string, subs []Subscriber) {
	ctx, cancel := context.WithTimeout(context.Background(), winRecordTimeout)
	defer cancel()

	if err := m.deps.Wins.RecordWin(ctx, winner, category); err != nil {
		m.log.Error("record win failed", zap.String("winner", winner), zap.String("category", category), zap.Error(err))
		return
	}

	msg := types.ServerMessage{Type: types.EvtLeaderboardUpdated, Data: types.LeaderboardUpdated{Username: winner, Category: category}}
	for _, s := range subs {
		s.Deliver(msg)
	}
}

// notifyEliminated tells player they are out and removes them from the room.
func (m *Match) notifyEliminated(player string) {
	msg := types.ServerMessage{Type: types.EvtEliminated, Data: types.Eliminated{Username: player}}
	for id, s := range m.subs {
		if s.player != player {
			continue
		}
		s.sub.Deliver(msg)
		delete(m.subs, id)
	}
}

func (m *Match) broadcast(msg types.ServerMessage) {
	for id := range m.subs {
		m.deliver(id, msg)
	}
}

func (m *Match) deliver(id string, msg types.ServerMessage) {
	s, ok := m.subs[id]
	if !ok {
		return
	}
	if !s.sub.Deliver(msg) {
		// Subscriber is slow/gone - drop it.
		m.log.Warn("dropping subscriber", zap.String("subscriber", id), zap.String("player", s.player))
		delete(m.subs, id)
	}
}

func (m *Match) subscribers() []Subscriber {
	out := make([]Subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.sub)
	}
	return out
}

// destroy closes the room and resets the match. The goroutine exits after the
// current message.
func (m *Match) destroy() {
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.stopTimer()

	m.broadcast(types.ServerMessage{Type: types.EvtMatchClosed, Data: types.MatchClosed{MatchID: m.id}})
	clear(m.subs)
	m.state = engine.NewState(m.id, "", m.deps.Rules, m.deps.Now())
	m.log.Info("match closed")

	if m.deps.OnDestroy != nil {
		m.deps.OnDestroy(m)
	}
	m.cancel()
}
