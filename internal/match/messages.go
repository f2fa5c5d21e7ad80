package match

import (
	"context"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
	"github.com/DoyleJ11/trivia-royale/internal/types"
)

type Msg interface{ isMatchMsg() }

type Join struct {
	Player   string
	Category string
	Sub      Subscriber // optional
	Reply    chan JoinResult
}

func (Join) isMatchMsg() {}

type JoinResult struct {
	Lobby types.LobbyUpdate
	// AttachBots is set on the first non-bot join of the match.
	AttachBots bool
	Err        error
}

// Leave drops SubscriberID from the room and, when Player has no other
// subscription left, removes the player from the match.
type Leave struct {
	Player       string
	SubscriberID string
}

func (Leave) isMatchMsg() {}

type Start struct {
	Category string
	Reply    chan error
}

func (Start) isMatchMsg() {}

type Answer struct {
	Player string
	Answer string
}

func (Answer) isMatchMsg() {}

type CheckStatus struct {
	Category string
	Reply    chan types.GameStatus
}

func (CheckStatus) isMatchMsg() {}

type Shutdown struct{}

func (Shutdown) isMatchMsg() {}

// closeIfEmpty destroys the match when nobody is in it.
type closeIfEmpty struct{}

func (closeIfEmpty) isMatchMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isMatchMsg() {}

type View struct {
	Version        int
	NumSubscribers int
	State          engine.State
}

type questionReady struct {
	round int
	q     engine.Question
	err   error
}

func (questionReady) isMatchMsg() {}

type roundTimeout struct{ round int }

func (roundTimeout) isMatchMsg() {}

type intermissionDone struct{ round int }

func (intermissionDone) isMatchMsg() {}

// send queues msg for the match goroutine.
func (m *Match) send(ctx context.Context, msg Msg) error {
	select {
	case m.inbox <- msg:
		return nil
	case <-m.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, m *Match, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-m.ctx.Done():
		// The reply may have been sent just before the match stopped.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (m *Match) Join(ctx context.Context, player, category string, sub Subscriber) (JoinResult, error) {
	reply := make(chan JoinResult, 1)
	if err := m.send(ctx, Join{Player: player, Category: category, Sub: sub, Reply: reply}); err != nil {
		return JoinResult{}, err
	}
	res, err := await(ctx, m, reply)
	if err != nil {
		return JoinResult{}, err
	}
	return res, res.Err
}

func (m *Match) Start(ctx context.Context, category string) error {
	reply := make(chan error, 1)
	if err := m.send(ctx, Start{Category: category, Reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, m, reply)
	if err != nil {
		return err
	}
	return res
}

func (m *Match) Answer(ctx context.Context, player, answer string) error {
	return m.send(ctx, Answer{Player: player, Answer: answer})
}

func (m *Match) Leave(ctx context.Context, player, subscriberID string) error {
	return m.send(ctx, Leave{Player: player, SubscriberID: subscriberID})
}

func (m *Match) Status(ctx context.Context, category string) (types.GameStatus, error) {
	reply := make(chan types.GameStatus, 1)
	if err := m.send(ctx, CheckStatus{Category: category, Reply: reply}); err != nil {
		return types.GameStatus{}, err
	}
	return await(ctx, m, reply)
}

func (m *Match) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := m.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, m, reply)
}

// CloseIfEmpty destroys the match if it has no players and no subscribers.
// It does not wait for the match to act.
func (m *Match) CloseIfEmpty() {
	select {
	case m.inbox <- closeIfEmpty{}:
	case <-m.ctx.Done():
	}
}

func (m *Match) Shutdown() {
	select {
	case m.inbox <- Shutdown{}:
	case <-m.ctx.Done():
	}
}
