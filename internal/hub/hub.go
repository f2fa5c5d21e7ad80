package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
	"github.com/DoyleJ11/trivia-royale/internal/match"
	"github.com/DoyleJ11/trivia-royale/internal/types"
)

var ErrUnknownMatch = errors.New("unknown match")

// A match can be destroyed between lookup and join; retry that many times.
const joinAttempts = 3

type Subscriber = match.Subscriber

// BotLauncher fills a freshly opened match with synthetic players. Attach
// returns once every bot join has been answered.
type BotLauncher interface {
	Attach(matchID, category string)
}

type HubMsg interface{ isHubMsg() }

type EnsureMatch struct {
	ID       string
	Category string // only used if creation happens
	Reply    chan *match.Match
}

type GetMatch struct {
	ID    string
	Reply chan *match.Match
}

// RemoveMatch forgets ID only while it still maps to M.
type RemoveMatch struct {
	ID string
	M  *match.Match
}

type CountMatches struct {
	Reply chan int
}

type ShutdownHub struct{}

func (EnsureMatch) isHubMsg()  {}
func (GetMatch) isHubMsg()     {}
func (RemoveMatch) isHubMsg()  {}
func (CountMatches) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	matches map[string]*match.Match
	deps    match.Deps
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	mu   sync.RWMutex
	bots BotLauncher
}

// NewHub starts the registry. deps is the template every new match is built
// from; its OnDestroy is replaced by the hub's own.
func NewHub(parent context.Context, deps match.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		matches: make(map[string]*match.Match),
		deps:    deps,
		log:     deps.Logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.deps.OnDestroy = h.onDestroy
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// SetBots installs the launcher used on the first human join of each match.
func (h *Hub) SetBots(b BotLauncher) {
	h.mu.Lock()
	h.bots = b
	h.mu.Unlock()
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureMatch:
				if mt := h.matches[msg.ID]; mt != nil {
					msg.Reply <- mt
					break
				}
				mt := match.New(h.ctx, msg.ID, msg.Category, h.deps)
				h.matches[msg.ID] = mt
				h.log.Info("match created", zap.String("match_id", msg.ID), zap.String("category", msg.Category))
				msg.Reply <- mt

			case GetMatch:
				msg.Reply <- h.matches[msg.ID] // May be nil

			case RemoveMatch:
				if h.matches[msg.ID] == msg.M {
					delete(h.matches, msg.ID)
				}

			case CountMatches:
				msg.Reply <- len(h.matches)

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, mt := range h.matches {
		mt.Shutdown()
	}
	clear(h.matches)
}

// onDestroy runs on the match goroutine, so it must not wait on the hub.
func (h *Hub) onDestroy(m *match.Match) {
	go h.send(context.Background(), RemoveMatch{ID: m.ID(), M: m})
}

func (h *Hub) send(ctx context.Context, msg HubMsg) error {
	select {
	case h.inbox <- msg:
		return nil
	case <-h.ctx.Done():
		return match.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) request(ctx context.Context, build func(chan *match.Match) HubMsg) (*match.Match, error) {
	reply := make(chan *match.Match, 1)
	if err := h.send(ctx, build(reply)); err != nil {
		return nil, err
	}
	select {
	case mt := <-reply:
		return mt, nil
	case <-h.ctx.Done():
		return nil, match.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) ensure(ctx context.Context, id, category string) (*match.Match, error) {
	return h.request(ctx, func(r chan *match.Match) HubMsg {
		return EnsureMatch{ID: id, Category: category, Reply: r}
	})
}

// lookup never creates a match; a nil result means none is running.
func (h *Hub) lookup(ctx context.Context, id string) (*match.Match, error) {
	return h.request(ctx, func(r chan *match.Match) HubMsg {
		return GetMatch{ID: id, Reply: r}
	})
}

// JoinLobby adds player to matchID, creating the match if needed, and
// subscribes sub to its room.
func (h *Hub) JoinLobby(ctx context.Context, matchID, player, category string, sub Subscriber) (types.LobbyUpdate, error) {
	if matchID == "" {
		return types.LobbyUpdate{}, ErrUnknownMatch
	}
	if !engine.ValidPlayerName(player) {
		return types.LobbyUpdate{}, engine.ErrInvalidPlayer
	}

	var err error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		var mt *match.Match
		mt, err = h.ensure(ctx, matchID, category)
		if err != nil {
			return types.LobbyUpdate{}, err
		}

		var res match.JoinResult
		res, err = mt.Join(ctx, player, category, sub)
		if errors.Is(err, match.ErrClosed) && h.ctx.Err() == nil {
			// The old match is on its way out; give RemoveMatch a chance.
			_ = h.send(ctx, RemoveMatch{ID: matchID, M: mt})
			continue
		}
		if err != nil {
			// A failed first join must not leave an empty match behind.
			mt.CloseIfEmpty()
			return types.LobbyUpdate{}, err
		}

		if res.AttachBots {
			h.attachBots(matchID, res.Lobby.Category)
		}
		return res.Lobby, nil
	}
	return types.LobbyUpdate{}, err
}

func (h *Hub) attachBots(matchID, category string) {
	h.mu.RLock()
	b := h.bots
	h.mu.RUnlock()
	if b == nil {
		return
	}
	// Bots are in the lobby before the joiner can start the game.
	h.log.Debug("attaching bots", zap.String("match_id", matchID))
	b.Attach(matchID, category)
}

func (h *Hub) StartGame(ctx context.Context, matchID, category string) error {
	mt, err := h.lookup(ctx, matchID)
	if err != nil {
		return err
	}
	if mt == nil {
		return ErrUnknownMatch
	}
	if err := mt.Start(ctx, category); err != nil {
		if errors.Is(err, match.ErrClosed) {
			return ErrUnknownMatch
		}
		return err
	}
	return nil
}

// CheckStatus reports the state of matchID. Unknown matches read as not
// started.
func (h *Hub) CheckStatus(ctx context.Context, matchID, category string) types.GameStatus {
	empty := types.GameStatus{MatchID: matchID, Category: category, Eliminated: []string{}}

	mt, err := h.lookup(ctx, matchID)
	if err != nil || mt == nil {
		return empty
	}
	st, err := mt.Status(ctx, category)
	if err != nil {
		return empty
	}
	return st
}

// Answer is fire-and-forget: unknown matches and late answers are dropped.
func (h *Hub) Answer(ctx context.Context, matchID, player, answer string) error {
	mt, err := h.lookup(ctx, matchID)
	if err != nil || mt == nil {
		return err
	}
	if err := mt.Answer(ctx, player, answer); err != nil && !errors.Is(err, match.ErrClosed) {
		return err
	}
	return nil
}

// Leave unsubscribes subscriberID and, if player has no other connection to
// the match, removes them from it.
func (h *Hub) Leave(ctx context.Context, matchID, player, subscriberID string) error {
	mt, err := h.lookup(ctx, matchID)
	if err != nil || mt == nil {
		return err
	}
	if err := mt.Leave(ctx, player, subscriberID); err != nil && !errors.Is(err, match.ErrClosed) {
		return err
	}
	return nil
}

func (h *Hub) NewMatchID() string {
	return uuid.NewString()
}

// Count returns the number of live matches.
func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, CountMatches{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.ctx.Done():
		return 0, match.ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown stops every match and the hub loop.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }
