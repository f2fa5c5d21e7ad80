package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
	"github.com/DoyleJ11/trivia-royale/internal/hub"
	"github.com/DoyleJ11/trivia-royale/internal/types"
)

const (
	outboxSize   = 32
	writeTimeout = 3 * time.Second
	pingInterval = 20 * time.Second
	leaveTimeout = 5 * time.Second
)

// Registry is what a connection drives. *hub.Hub satisfies it.
type Registry interface {
	JoinLobby(ctx context.Context, matchID, player, category string, sub hub.Subscriber) (types.LobbyUpdate, error)
	StartGame(ctx context.Context, matchID, category string) error
	CheckStatus(ctx context.Context, matchID, category string) types.GameStatus
	Answer(ctx context.Context, matchID, player, answer string) error
	Leave(ctx context.Context, matchID, player, subscriberID string) error
}

type Options struct {
	// OriginPatterns are extra origins allowed to open a socket.
	OriginPatterns []string
}

func Handler(reg Registry, log *zap.Logger, opts Options) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &client{
			id:     uuid.NewString(),
			conn:   conn,
			out:    make(chan types.ServerMessage, outboxSize),
			cancel: cancel,
			joined: make(map[string]string),
		}
		c.log = log.With(zap.String("client_id", c.id))
		c.log.Debug("connected", zap.String("remote", r.RemoteAddr))

		go c.writeLoop(ctx)
		go c.pingLoop(ctx)
		defer c.leaveAll(reg)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						c.log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}
			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				c.sendError("bad json")
				continue
			}
			c.route(ctx, reg, cm)
		}
	}
}

// client is one socket. It is a hub.Subscriber for every match it joined.
type client struct {
	id     string
	conn   *websocket.Conn
	out    chan types.ServerMessage
	cancel context.CancelFunc
	log    *zap.Logger

	closeOnce sync.Once
	// joined maps match id to the player name used there. Reader goroutine only.
	joined map[string]string
}

func (c *client) ID() string { return c.id }

// Deliver never blocks. A client that cannot keep up is disconnected.
func (c *client) Deliver(msg types.ServerMessage) bool {
	select {
	case c.out <- msg:
		return true
	default:
		c.closeOnce.Do(func() {
			c.log.Warn("outbox full, closing connection")
			c.cancel()
		})
		return false
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

func (c *client) pingLoop(ctx context.Context) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *client) route(ctx context.Context, reg Registry, cm types.ClientMessage) {
	switch cm.Type {
	case types.MsgJoinLobby:
		if !engine.ValidPlayerName(cm.Username) || cm.MatchID == "" {
			c.sendError("joinLobby needs a username and a matchId")
			return
		}
		if prev, ok := c.joined[cm.MatchID]; ok && prev != cm.Username {
			c.sendError("already joined this match as " + prev)
			return
		}
		if _, err := reg.JoinLobby(ctx, cm.MatchID, cm.Username, cm.Category, c); err != nil {
			c.sendRejection(err)
			return
		}
		c.joined[cm.MatchID] = cm.Username

	case types.MsgStartGame:
		if err := reg.StartGame(ctx, cm.MatchID, cm.Category); err != nil {
			c.sendRejection(err)
		}

	case types.MsgAnswer:
		player, ok := c.joined[cm.MatchID]
		if !ok {
			c.sendError("join the match before answering")
			return
		}
		if err := reg.Answer(ctx, cm.MatchID, player, cm.Answer); err != nil {
			c.log.Debug("answer not delivered", zap.Error(err))
		}

	case types.MsgCheckGameStatus:
		st := reg.CheckStatus(ctx, cm.MatchID, cm.Category)
		c.Deliver(types.ServerMessage{Type: types.EvtGameStatus, Data: st})

	default:
		c.sendError("unknown type " + cm.Type)
	}
}

func (c *client) sendError(msg string) {
	c.Deliver(types.ServerMessage{Type: types.EvtError, Data: types.Error{Message: msg}})
}

// sendRejection answers a join or start the match refused. matchError is
// reserved for failures that end the match.
func (c *client) sendRejection(err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, hub.ErrUnknownMatch):
		msg = "match not found"
	case errors.Is(err, engine.ErrMatchInProgress):
		msg = "match already in progress"
	case errors.Is(err, engine.ErrAlreadyStarted):
		msg = "game already started"
	case errors.Is(err, engine.ErrNoPlayers):
		msg = "no players in lobby"
	case errors.Is(err, engine.ErrInvalidPlayer):
		msg = "invalid username"
	}
	c.sendError(msg)
}

// leaveAll runs when the socket goes away.
func (c *client) leaveAll(reg Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	for matchID, player := range c.joined {
		if err := reg.Leave(ctx, matchID, player, c.id); err != nil {
			c.log.Debug("leave failed", zap.String("match_id", matchID), zap.Error(err))
		}
	}
	c.log.Debug("disconnected", zap.Int("matches", len(c.joined)))
}
