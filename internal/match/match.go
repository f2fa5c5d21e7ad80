package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
	"github.com/DoyleJ11/trivia-royale/internal/types"
)

var ErrClosed = errors.New("match closed")

// Subscriber is one receiver on the match's room channel. Deliver must not
// block; returning false drops the subscriber.
type Subscriber interface {
	ID() string
	Deliver(msg types.ServerMessage) bool
}

type Acquirer interface {
	Acquire(ctx context.Context, category string, now time.Time) (engine.Question, error)
}

type WinRecorder interface {
	RecordWin(ctx context.Context, username, category string) error
}

type Deps struct {
	Questions      Acquirer
	Wins           WinRecorder // optional
	Logger         *zap.Logger
	Rules          engine.Rules
	AcquireTimeout time.Duration
	Now            func() time.Time
	Intn           func(int) int
	// OnDestroy runs on the match goroutine once the match has ended.
	OnDestroy func(*Match)
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Rules.TimeLimit <= 0 {
		d.Rules = engine.DefaultRules()
	}
	if d.AcquireTimeout <= 0 {
		d.AcquireTimeout = 10 * time.Minute
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Intn == nil {
		d.Intn = rand.IntN
	}
	return d
}

type subscription struct {
	sub    Subscriber
	player string
}

type Match struct {
	id         string
	inbox      chan Msg
	state      engine.State
	version    int
	subs       map[string]*subscription
	eliminated []string
	timer      *time.Timer
	destroyed  bool
	deps       Deps
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc

	botsRequested bool
}

func New(parent context.Context, id, category string, deps Deps) *Match {
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(parent)

	m := &Match{
		id:     id,
		inbox:  make(chan Msg, 64),
		state:  engine.NewState(id, category, deps.Rules, deps.Now()),
		subs:   make(map[string]*subscription),
		deps:   deps,
		log:    deps.Logger.With(zap.String("match_id", id)),
		ctx:    ctx,
		cancel: cancel,
	}

	go m.loop()
	return m
}

func (m *Match) ID() string { return m.id }

// Done is closed once the match goroutine has stopped.
func (m *Match) Done() <-chan struct{} { return m.ctx.Done() }

// Expose the inbox so tests or the hub can send messages.
func (m *Match) Inbox() chan<- Msg { return m.inbox }

func (m *Match) loop() {
	defer m.cancel()
	for {
		select {
		case <-m.ctx.Done():
			m.stopTimer()
			return

		case msg := <-m.inbox:
			m.handle(msg)
			if m.destroyed {
				return
			}
		}
	}
}

func (m *Match) handle(msg Msg) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("match handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			m.destroy()
		}
	}()

	switch msg := msg.(type) {
	case Join:
		msg.Reply <- m.join(msg)

	case Leave:
		m.leave(msg)

	case Start:
		msg.Reply <- m.dispatch(engine.Command{Type: engine.CmdStart, Category: msg.Category})

	case Answer:
		err := m.dispatch(engine.Command{Type: engine.CmdAnswer, Player: msg.Player, Answer: msg.Answer})
		if err != nil {
			// Late or foreign answers are dropped without telling the sender.
			m.log.Debug("answer dropped", zap.String("player", msg.Player), zap.Error(err))
		}

	case CheckStatus:
		msg.Reply <- m.status(msg.Category)

	case GetState:
		msg.Reply <- View{
			Version:        m.version,
			NumSubscribers: len(m.subs),
			State:          m.state,
		}

	case questionReady:
		m.questionReady(msg)

	case roundTimeout:
		if err := m.dispatch(engine.Command{Type: engine.CmdCloseRound, Round: msg.round}); err != nil {
			m.log.Debug("round timer ignored", zap.Int("round", msg.round), zap.Error(err))
		}

	case intermissionDone:
		if err := m.dispatch(engine.Command{Type: engine.CmdIntermissionDone, Round: msg.round}); err != nil {
			m.log.Debug("intermission timer ignored", zap.Int("round", msg.round), zap.Error(err))
		}

	case closeIfEmpty:
		if len(m.state.Players) == 0 && len(m.subs) == 0 {
			m.destroy()
		}

	case Shutdown:
		m.stopTimer()
		m.cancel()
	}
}

func (m *Match) join(msg Join) JoinResult {
	// Subscribe first so the joiner receives the lobbyUpdate broadcast too.
	var prev *subscription
	if msg.Sub != nil {
		prev = m.subs[msg.Sub.ID()]
		m.subs[msg.Sub.ID()] = &subscription{sub: msg.Sub, player: msg.Player}
	}

	err := m.dispatch(engine.Command{Type: engine.CmdJoin, Player: msg.Player, Category: msg.Category})
	if err != nil {
		if msg.Sub != nil {
			if prev != nil {
				m.subs[msg.Sub.ID()] = prev
			} else {
				delete(m.subs, msg.Sub.ID())
			}
		}
		return JoinResult{Err: err}
	}

	res := JoinResult{Lobby: m.lobbyUpdate(), AttachBots: m.botsRequested}
	m.botsRequested = false
	return res
}

func (m *Match) leave(msg Leave) {
	if msg.SubscriberID != "" {
		delete(m.subs, msg.SubscriberID)
	}
	if msg.Player == "" || m.hasSubscriber(msg.Player) {
		return
	}
	if err := m.dispatch(engine.Command{Type: engine.CmdLeave, Player: msg.Player}); err != nil {
		m.log.Debug("leave ignored", zap.String("player", msg.Player), zap.Error(err))
	}
}

func (m *Match) questionReady(msg questionReady) {
	if msg.err != nil {
		m.log.Error("question acquisition failed", zap.Int("round", msg.round), zap.Error(msg.err))
		if err := m.dispatch(engine.Command{Type: engine.CmdAcquireFailed, Round: msg.round, Err: msg.err}); err != nil {
			m.log.Debug("acquisition failure ignored", zap.Error(err))
		}
		return
	}

	q := msg.q
	cmd := engine.Command{Type: engine.CmdQuestionReady, Round: msg.round, Question: &q, At: m.deps.Now()}
	if err := m.dispatch(cmd); err != nil {
		m.log.Debug("question ignored", zap.Int("round", msg.round), zap.Error(err))
	}
}

func (m *Match) status(category string) types.GameStatus {
	if category == "" {
		category = m.state.Category
	}
	st := types.GameStatus{
		MatchID:    m.id,
		Category:   category,
		Started:    m.state.Started(),
		Eliminated: append([]string{}, m.eliminated...),
	}
	if st.Started {
		st.Question = types.QuestionViewFrom(m.state.Question)
	}
	return st
}

func (m *Match) lobbyUpdate() types.LobbyUpdate {
	return types.LobbyUpdate{
		Category: m.state.Category,
		Players:  append([]string{}, m.state.Players...),
		Host:     types.Nullable(m.state.Host),
		MatchID:  m.id,
	}
}

func (m *Match) hasSubscriber(player string) bool {
	for _, s := range m.subs {
		if s.player == player {
			return true
		}
	}
	return false
}

// post delivers an internal message unless the match has stopped.
func (m *Match) post(msg Msg) {
	select {
	case m.inbox <- msg:
	case <-m.ctx.Done():
	}
}

func (m *Match) armTimer(d time.Duration, msg Msg) {
	m.stopTimer()
	m.timer = time.AfterFunc(d, func() { m.post(msg) })
}

func (m *Match) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Match) String() string {
	return fmt.Sprintf("match(%s, %s, round %d)", m.id, m.state.Phase, m.state.Round)
}
