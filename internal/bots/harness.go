// Package bots fills new matches with synthetic players. Bots go through the
// same lobby calls as human connections and see the same room messages.
package bots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
	"github.com/DoyleJ11/trivia-royale/internal/hub"
	"github.com/DoyleJ11/trivia-royale/internal/types"
)

// Lobby is the part of the match registry a bot uses. *hub.Hub satisfies it.
type Lobby interface {
	JoinLobby(ctx context.Context, matchID, player, category string, sub hub.Subscriber) (types.LobbyUpdate, error)
	Answer(ctx context.Context, matchID, player, answer string) error
	Leave(ctx context.Context, matchID, player, subscriberID string) error
}

type Config struct {
	Count  int
	Policy AnswerPolicy
	// LobbyTimeout is how long a bot waits in a lobby that never starts.
	LobbyTimeout time.Duration
	// AnswerMargin keeps answers this far from both ends of the round.
	AnswerMargin time.Duration
}

func DefaultConfig() Config {
	return Config{
		Count:        19,
		Policy:       AccuracyPolicy{P: 0.6},
		LobbyTimeout: 10 * time.Minute,
		AnswerMargin: 500 * time.Millisecond,
	}
}

type Harness struct {
	lobby Lobby
	cfg   Config
	log   *zap.Logger
	ctx   context.Context
	wg    sync.WaitGroup
}

func NewHarness(ctx context.Context, lobby Lobby, cfg Config, log *zap.Logger) *Harness {
	def := DefaultConfig()
	if cfg.Count < 0 {
		cfg.Count = 0
	}
	if cfg.Policy == nil {
		cfg.Policy = def.Policy
	}
	if cfg.LobbyTimeout <= 0 {
		cfg.LobbyTimeout = def.LobbyTimeout
	}
	if cfg.AnswerMargin <= 0 {
		cfg.AnswerMargin = def.AnswerMargin
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Harness{lobby: lobby, cfg: cfg, log: log.Named("bots"), ctx: ctx}
}

func BotName(i int) string {
	return fmt.Sprintf("%sBot_%d", engine.BotNamePrefix, i+1)
}

// Attach joins Count bots to matchID and leaves them running. It returns once
// every join has been answered.
func (h *Harness) Attach(matchID, category string) {
	var g errgroup.Group
	joined := make([]*bot, h.cfg.Count)

	for i := range joined {
		b := newBot(h, matchID, category, BotName(i))
		g.Go(func() error {
			if _, err := h.lobby.JoinLobby(h.ctx, matchID, b.name, category, b); err != nil {
				return fmt.Errorf("%s: %w", b.name, err)
			}
			joined[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.log.Warn("bot join failed", zap.String("match_id", matchID), zap.Error(err))
	}

	n := 0
	for _, b := range joined {
		if b == nil {
			continue
		}
		n++
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			b.run(h.ctx)
		}()
	}
	h.log.Info("bots attached", zap.String("match_id", matchID), zap.Int("count", n))
}

// Wait blocks until every bot goroutine has exited.
func (h *Harness) Wait() { h.wg.Wait() }

type bot struct {
	h        *Harness
	name     string
	matchID  string
	category string
	inbox    chan types.ServerMessage
	alive    bool
	started  bool
	log      *zap.Logger
}

func newBot(h *Harness, matchID, category, name string) *bot {
	return &bot{
		h:        h,
		name:     name,
		matchID:  matchID,
		category: category,
		inbox:    make(chan types.ServerMessage, 64),
		alive:    true,
		log:      h.log.With(zap.String("match_id", matchID), zap.String("bot", name)),
	}
}

func (b *bot) ID() string { return "bot:" + b.matchID + ":" + b.name }

func (b *bot) Deliver(msg types.ServerMessage) bool {
	select {
	case b.inbox <- msg:
		return true
	default:
		return false
	}
}

func (b *bot) run(ctx context.Context) {
	idle := time.NewTimer(b.h.cfg.LobbyTimeout)
	defer idle.Stop()

	var (
		answerC <-chan time.Time
		pending string
		round   int
	)

	for {
		select {
		case <-ctx.Done():
			return

		case <-idle.C:
			if b.started {
				continue
			}
			b.log.Info("lobby idle, bot leaving")
			b.leave()
			return

		case <-answerC:
			answerC = nil
			if !b.alive {
				continue
			}
			if err := b.h.lobby.Answer(ctx, b.matchID, b.name, pending); err != nil {
				b.log.Debug("answer failed", zap.Int("round", round), zap.Error(err))
			}

		case msg := <-b.inbox:
			switch msg.Type {
			case types.EvtStartGame:
				b.markStarted(idle)

			case types.EvtNewQuestion:
				b.markStarted(idle)
				q, ok := types.Decode[types.NewQuestion](msg)
				if !ok || !b.alive || q.MatchID != b.matchID {
					continue
				}
				round = q.Round
				pending = b.h.cfg.Policy.Choose(q)
				limit := time.Duration(q.TimeLimit) * time.Second
				answerC = time.After(answerDelay(limit, b.h.cfg.AnswerMargin))

			case types.EvtEliminated:
				if e, ok := types.Decode[types.Eliminated](msg); ok && e.Username == b.name {
					b.alive = false
					return
				}

			case types.EvtGameOver:
				b.alive = true

			case types.EvtMatchClosed, types.EvtMatchError:
				return
			}
		}
	}
}

func (b *bot) markStarted(idle *time.Timer) {
	if !b.started {
		b.started = true
		idle.Stop()
	}
}

func (b *bot) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.h.lobby.Leave(ctx, b.matchID, b.name, b.ID()); err != nil {
		b.log.Debug("leave failed", zap.Error(err))
	}
}
