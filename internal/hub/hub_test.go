package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
	"github.com/DoyleJ11/trivia-royale/internal/match"
	"github.com/DoyleJ11/trivia-royale/internal/types"
)

type staticAcquirer struct{}

func (staticAcquirer) Acquire(_ context.Context, category string, _ time.Time) (engine.Question, error) {
	return engine.Question{
		Category: category,
		Text:     "2 + 2?",
		Answers:  [4]string{"3", "4", "5", "22"},
		Correct:  1,
	}, nil
}

type chanSub struct {
	id  string
	out chan types.ServerMessage
}

func (s *chanSub) ID() string { return s.id }

func (s *chanSub) Deliver(msg types.ServerMessage) bool {
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

type recordingLauncher struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func (r *recordingLauncher) Attach(matchID, category string) {
	r.mu.Lock()
	r.calls = append(r.calls, matchID+"/"+category)
	r.mu.Unlock()
	r.ch <- matchID
}

// joiningLauncher joins n bots through the hub, like the real harness.
type joiningLauncher struct {
	h *Hub
	n int
}

func (l joiningLauncher) Attach(matchID, category string) {
	for i := range l.n {
		name := fmt.Sprintf("%sBot_%d", engine.BotNamePrefix, i+1)
		sub := &chanSub{id: "bot-" + name, out: make(chan types.ServerMessage, 64)}
		_, _ = l.h.JoinLobby(context.Background(), matchID, name, category, sub)
	}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(context.Background(), match.Deps{
		Questions: staticAcquirer{},
		Rules:     engine.Rules{TimeLimit: 5 * time.Second, Intermission: 10 * time.Millisecond},
	})
	t.Cleanup(h.Shutdown)
	return h
}

func count(t *testing.T, h *Hub) int {
	t.Helper()
	n, err := h.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestHub_EnsureReturnsSameMatch(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	m1, err := h.ensure(ctx, "ZED123", "Science")
	require.NoError(t, err)
	m2, err := h.ensure(ctx, "ZED123", "Music")
	require.NoError(t, err)
	m3, err := h.lookup(ctx, "ZED123")
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Same(t, m1, m3)

	other, err := h.lookup(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestHub_JoinLobbyAttachesBotsOnce(t *testing.T) {
	h := newTestHub(t)
	bots := &recordingLauncher{ch: make(chan string, 4)}
	h.SetBots(bots)
	ctx := context.Background()

	up, err := h.JoinLobby(ctx, "m1", "alice", "Science", &chanSub{id: "a", out: make(chan types.ServerMessage, 8)})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, up.Players)

	select {
	case id := <-bots.ch:
		assert.Equal(t, "m1", id)
	case <-time.After(time.Second):
		t.Fatal("bots were not attached")
	}

	_, err = h.JoinLobby(ctx, "m1", "bob", "Science", nil)
	require.NoError(t, err)
	_, err = h.JoinLobby(ctx, "m1", engine.BotNamePrefix+"Bot_1", "Science", nil)
	require.NoError(t, err)

	select {
	case id := <-bots.ch:
		t.Fatalf("unexpected second attach for %s", id)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []string{"m1/Science"}, bots.calls)
	assert.Equal(t, 1, count(t, h))
}

func TestHub_BotFirstJoinDoesNotAttach(t *testing.T) {
	h := newTestHub(t)
	bots := &recordingLauncher{ch: make(chan string, 1)}
	h.SetBots(bots)

	_, err := h.JoinLobby(context.Background(), "m1", engine.BotNamePrefix+"Bot_1", "Music", nil)
	require.NoError(t, err)

	select {
	case <-bots.ch:
		t.Fatal("a bot join must not attach bots")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_StartRightAfterJoinIncludesBots(t *testing.T) {
	h := newTestHub(t)
	h.SetBots(joiningLauncher{h: h, n: 5})
	ctx := context.Background()

	_, err := h.JoinLobby(ctx, "m1", "alice", "Science", &chanSub{id: "a", out: make(chan types.ServerMessage, 64)})
	require.NoError(t, err)
	require.NoError(t, h.StartGame(ctx, "m1", "Science"))

	mt, err := h.lookup(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, mt)
	v, err := mt.View(ctx)
	require.NoError(t, err)
	assert.True(t, v.State.Started())
	assert.Len(t, v.State.Players, 6)
	assert.Equal(t, "alice", v.State.Players[0])
}

func TestHub_RejectedJoinLeavesNoMatch(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	for _, name := range []string{"", "  ", "\t"} {
		_, err := h.JoinLobby(ctx, "m-"+name, name, "Science", &chanSub{id: "x", out: make(chan types.ServerMessage, 8)})
		assert.ErrorIs(t, err, engine.ErrInvalidPlayer)
	}
	assert.Equal(t, 0, count(t, h))

	// An empty match left by a failed join is destroyed and unregistered.
	mt, err := h.ensure(ctx, "empty", "Science")
	require.NoError(t, err)
	mt.CloseIfEmpty()
	select {
	case <-mt.Done():
	case <-time.After(time.Second):
		t.Fatal("empty match still running")
	}
	require.Eventually(t, func() bool {
		n, err := h.Count(ctx)
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_UnknownMatch(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.StartGame(ctx, "ghost", "Science"), ErrUnknownMatch)

	st := h.CheckStatus(ctx, "ghost", "Science")
	assert.False(t, st.Started)
	assert.Nil(t, st.Question)
	assert.Equal(t, "ghost", st.MatchID)
	assert.Equal(t, 0, count(t, h), "status checks never create matches")

	assert.NoError(t, h.Answer(ctx, "ghost", "alice", "4"))
	assert.NoError(t, h.Leave(ctx, "ghost", "alice", "a"))

	_, err := h.JoinLobby(ctx, "", "alice", "Science", nil)
	assert.ErrorIs(t, err, ErrUnknownMatch)
}

func TestHub_StartAndStatus(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	sub := &chanSub{id: "a", out: make(chan types.ServerMessage, 16)}
	_, err := h.JoinLobby(ctx, "m1", "alice", "Science", sub)
	require.NoError(t, err)
	require.NoError(t, h.StartGame(ctx, "m1", "Science"))

	require.Eventually(t, func() bool {
		return h.CheckStatus(ctx, "m1", "Science").Question != nil
	}, time.Second, 10*time.Millisecond)

	st := h.CheckStatus(ctx, "m1", "Science")
	assert.True(t, st.Started)
	assert.Equal(t, "B", st.Question.Correct)

	assert.ErrorIs(t, h.StartGame(ctx, "m1", "Science"), engine.ErrAlreadyStarted)
}

func TestHub_DestroyedMatchIsRemovedAndRecreated(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	_, err := h.JoinLobby(ctx, "m1", "alice", "Science", &chanSub{id: "a", out: make(chan types.ServerMessage, 8)})
	require.NoError(t, err)
	first, err := h.lookup(ctx, "m1")
	require.NoError(t, err)

	require.NoError(t, h.Leave(ctx, "m1", "alice", "a"))
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("empty lobby was not destroyed")
	}
	require.Eventually(t, func() bool { return count(t, h) == 0 }, time.Second, 5*time.Millisecond)

	up, err := h.JoinLobby(ctx, "m1", "bob", "History", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, up.Players)
	assert.Equal(t, "History", up.Category)

	second, err := h.lookup(ctx, "m1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestHub_StaleRemoveKeepsNewerMatch(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	current, err := h.ensure(ctx, "m1", "Science")
	require.NoError(t, err)

	stale := match.New(ctx, "m1", "Science", match.Deps{Questions: staticAcquirer{}})
	defer stale.Shutdown()
	h.Inbox() <- RemoveMatch{ID: "m1", M: stale}

	got, err := h.lookup(ctx, "m1")
	require.NoError(t, err)
	assert.Same(t, current, got)
}

func TestHub_MatchesAreIndependent(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	h := newTestHub(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := h.NewMatchID()
			for _, p := range []string{"alice", "bob", "carol"} {
				_, err := h.JoinLobby(ctx, id, p, "Science", nil)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, count(t, h))
}

func TestHub_ShutdownStopsMatches(t *testing.T) {
	h := NewHub(context.Background(), match.Deps{Questions: staticAcquirer{}})
	ctx := context.Background()

	m, err := h.ensure(ctx, "m1", "Science")
	require.NoError(t, err)

	h.Shutdown()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("match did not stop")
	}

	_, err = h.JoinLobby(ctx, "m2", "alice", "Science", nil)
	assert.ErrorIs(t, err, match.ErrClosed)
}
