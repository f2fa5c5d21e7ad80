package engine

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newLobbyState(players ...string) State {
	s := NewState("M1", "Science", DefaultRules(), t0)
	for _, p := range players {
		_, next, err := Apply(s, Command{Type: CmdJoin, Player: p})
		if err != nil {
			panic(err)
		}
		s = next
	}
	return s
}

func sampleQuestion() *Question {
	return &Question{
		Category: "Science",
		Text:     "Capital of France?",
		Answers:  [4]string{"London", "Paris", "Rome", "Berlin"},
		Correct:  1,
	}
}

// openRound drives s from the lobby into round 1's Question phase.
func openRound(t *testing.T, s State) State {
	t.Helper()
	_, s, err := Apply(s, Command{Type: CmdStart})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, s, err = Apply(s, Command{Type: CmdQuestionReady, Round: 1, Question: sampleQuestion(), At: t0})
	if err != nil {
		t.Fatalf("question ready: %v", err)
	}
	return s
}

func TestJoinIsIdempotent(t *testing.T) {
	s := newLobbyState("p1", "p2")

	events, next, err := Apply(s, Command{Type: CmdJoin, Player: "p1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(next.Players) != 2 {
		t.Fatalf("players: got %v, want 2 entries", next.Players)
	}
	if !containsEvent(events, EvtPlayerJoined) {
		t.Fatalf("expected EvtPlayerJoined so the lobby is re-broadcast")
	}
	if containsEvent(events, EvtBotsRequested) {
		t.Fatalf("bots must only be requested once")
	}
}

func TestJoinAssignsHostAndRequestsBotsOnce(t *testing.T) {
	s := NewState("M1", "Science", DefaultRules(), t0)

	events, s, err := Apply(s, Command{Type: CmdJoin, Player: "alice"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Host != "alice" {
		t.Fatalf("host: got %q, want alice", s.Host)
	}
	if !containsEvent(events, EvtBotsRequested) {
		t.Fatalf("first human join should request bots")
	}

	events, s, _ = Apply(s, Command{Type: CmdJoin, Player: "bob"})
	if containsEvent(events, EvtBotsRequested) || containsEvent(events, EvtHostChanged) {
		t.Fatalf("second join: unexpected events %+v", events)
	}
	if s.Host != "alice" {
		t.Fatalf("host changed to %q", s.Host)
	}
}

func TestBotJoinNeverRequestsBots(t *testing.T) {
	s := NewState("M1", "Science", DefaultRules(), t0)
	events, s, err := Apply(s, Command{Type: CmdJoin, Player: BotNamePrefix + "Bot_1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if containsEvent(events, EvtBotsRequested) || s.BotsAttached {
		t.Fatalf("bot join requested bots")
	}
}

func TestJoinRejectedOnceStarted(t *testing.T) {
	s := openRound(t, newLobbyState("p1"))

	_, _, err := Apply(s, Command{Type: CmdJoin, Player: "late"})
	if !errors.Is(err, ErrMatchInProgress) {
		t.Fatalf("want ErrMatchInProgress, got %v", err)
	}

	// Members may reconnect.
	_, _, err = Apply(s, Command{Type: CmdJoin, Player: "p1"})
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
}

func TestLeave(t *testing.T) {
	cases := []struct {
		name          string
		setup         State
		leaver        string
		wantPlayers   int
		wantHost      string
		wantDestroyed bool
	}{
		{
			name:        "non-host leaves lobby",
			setup:       newLobbyState("p1", "p2", "p3"),
			leaver:      "p2",
			wantPlayers: 2,
			wantHost:    "p1",
		},
		{
			name:        "host leaves lobby, next oldest promoted",
			setup:       newLobbyState("p1", "p2", "p3"),
			leaver:      "p1",
			wantPlayers: 2,
			wantHost:    "p2",
		},
		{
			name:          "last player leaves lobby",
			setup:         newLobbyState("p1"),
			leaver:        "p1",
			wantPlayers:   0,
			wantHost:      "",
			wantDestroyed: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next, err := Apply(tc.setup, Command{Type: CmdLeave, Player: tc.leaver})
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if len(next.Players) != tc.wantPlayers {
				t.Fatalf("players: got %v", next.Players)
			}
			if next.Host != tc.wantHost {
				t.Fatalf("host: got %q, want %q", next.Host, tc.wantHost)
			}
			if containsEvent(events, EvtMatchDestroyed) != tc.wantDestroyed {
				t.Fatalf("destroyed: got %v, want %v", !tc.wantDestroyed, tc.wantDestroyed)
			}
			if len(tc.setup.Players) == len(next.Players) {
				t.Fatalf("leave mutated nothing")
			}
		})
	}
}

func TestLeaveDuringRoundKeepsPlayerForGrading(t *testing.T) {
	s := openRound(t, newLobbyState("p1", "p2"))

	events, s, err := Apply(s, Command{Type: CmdLeave, Player: "p1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(s.Players) != 2 {
		t.Fatalf("player removed mid-round: %v", s.Players)
	}
	if s.Host != "p2" || !containsEvent(events, EvtHostChanged) {
		t.Fatalf("host not promoted: %q", s.Host)
	}

	_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: "p2", Answer: "Paris"})
	events, _, err = Apply(s, Command{Type: CmdCloseRound, Round: 1})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	graded, _ := findEvent(events, EvtRoundGraded)
	if len(graded.Eliminated) != 1 || graded.Eliminated[0] != "p1" {
		t.Fatalf("eliminated: got %v, want [p1]", graded.Eliminated)
	}
}

func TestStart(t *testing.T) {
	_, _, err := Apply(NewState("M1", "Science", DefaultRules(), t0), Command{Type: CmdStart})
	if !errors.Is(err, ErrNoPlayers) {
		t.Fatalf("want ErrNoPlayers, got %v", err)
	}

	events, s, err := Apply(newLobbyState("p1"), Command{Type: CmdStart, Category: MixedCategory})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	req, ok := findEvent(events, EvtAcquireRequested)
	if !ok || req.Round != 1 || req.Category != MixedCategory {
		t.Fatalf("acquire request: %+v", req)
	}
	if s.Phase != PhaseStarting {
		t.Fatalf("phase: got %v", s.Phase)
	}

	_, _, err = Apply(s, Command{Type: CmdStart})
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("want ErrAlreadyStarted, got %v", err)
	}
}

func TestQuestionReadyOpensRound(t *testing.T) {
	_, s, _ := Apply(newLobbyState("p1"), Command{Type: CmdStart})

	events, s, err := Apply(s, Command{Type: CmdQuestionReady, Round: 1, Question: sampleQuestion(), At: t0})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !containsEvent(events, EvtGameStarted) || !containsEvent(events, EvtQuestionOpened) {
		t.Fatalf("events: %+v", events)
	}
	if s.Phase != PhaseQuestion || s.Round != 1 || s.Ledger == nil || s.Ledger.Round() != 1 {
		t.Fatalf("state: phase=%v round=%d", s.Phase, s.Round)
	}

	// A duplicate delivery for the same round is stale.
	_, _, err = Apply(s, Command{Type: CmdQuestionReady, Round: 1, Question: sampleQuestion()})
	if !errors.Is(err, ErrStaleTimer) {
		t.Fatalf("want ErrStaleTimer, got %v", err)
	}
}

func TestAnswerLastWriteWins(t *testing.T) {
	s := openRound(t, newLobbyState("p1"))

	_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: "p1", Answer: "Paris"})
	_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: "p1", Answer: "London"})

	events, _, err := Apply(s, Command{Type: CmdCloseRound, Round: 1})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	graded, _ := findEvent(events, EvtRoundGraded)
	if len(graded.Survivors) != 0 || len(graded.Eliminated) != 1 {
		t.Fatalf("grading should use London: %+v", graded)
	}
}

func TestAnswerAfterCloseIsDropped(t *testing.T) {
	s := openRound(t, newLobbyState("p1", "p2"))
	ledger := s.Ledger

	_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: "p1", Answer: "Paris"})
	events, s, _ := Apply(s, Command{Type: CmdCloseRound, Round: 1})

	_, _, err := Apply(s, Command{Type: CmdAnswer, Player: "p2", Answer: "Paris"})
	if !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("want ErrStaleWrite, got %v", err)
	}
	if ledger.Has("p2") {
		t.Fatalf("late answer reached the closed ledger")
	}
	graded, _ := findEvent(events, EvtRoundGraded)
	if len(graded.Survivors) != 1 || graded.Survivors[0] != "p1" {
		t.Fatalf("survivors: %v", graded.Survivors)
	}
}

func TestAnswerFromNonMemberRejected(t *testing.T) {
	s := openRound(t, newLobbyState("p1"))
	_, _, err := Apply(s, Command{Type: CmdAnswer, Player: "ghost", Answer: "Paris"})
	if !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("want ErrNotPlaying, got %v", err)
	}
}

func TestCloseWhenAllAnswered(t *testing.T) {
	s := newLobbyState("p1", "p2")
	s.Rules.CloseWhenAllAnswered = true
	s = openRound(t, s)

	events, s, _ := Apply(s, Command{Type: CmdAnswer, Player: "p1", Answer: "Paris"})
	if containsEvent(events, EvtAllAnswered) {
		t.Fatalf("closed early with one answer missing")
	}
	events, _, _ = Apply(s, Command{Type: CmdAnswer, Player: "p2", Answer: "Rome"})
	if !containsEvent(events, EvtAllAnswered) {
		t.Fatalf("expected EvtAllAnswered")
	}
}

func TestStaleTimerIsNoop(t *testing.T) {
	s := openRound(t, newLobbyState("p1", "p2"))
	_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: "p1", Answer: "paris"})
	_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: "p2", Answer: "Paris "})

	_, s, err := Apply(s, Command{Type: CmdCloseRound, Round: 1})
	if err != nil {
		t.Fatalf("first close: %v", err)
	}

	_, after, err := Apply(s, Command{Type: CmdCloseRound, Round: 1})
	if !errors.Is(err, ErrStaleTimer) {
		t.Fatalf("second close: want ErrStaleTimer, got %v", err)
	}
	if after.Phase != PhaseIntermission {
		t.Fatalf("stale timer changed phase to %v", after.Phase)
	}

	_, _, err = Apply(s, Command{Type: CmdIntermissionDone, Round: 7})
	if !errors.Is(err, ErrStaleTimer) {
		t.Fatalf("wrong round: want ErrStaleTimer, got %v", err)
	}
}

func TestIntermissionOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		answers    map[string]string
		wantWinner string
		wantOver   bool
	}{
		{
			name:     "several survivors continue",
			answers:  map[string]string{"p1": "Paris", "p2": "Paris", "p3": "Paris"},
			wantOver: false,
		},
		{
			name:       "single survivor wins",
			answers:    map[string]string{"p1": "Paris", "p2": "Rome"},
			wantWinner: "p1",
			wantOver:   true,
		},
		{
			name:     "no survivors",
			answers:  map[string]string{"p1": "Rome", "p2": "Rome", "p3": "Berlin"},
			wantOver: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := openRound(t, newLobbyState("p1", "p2", "p3"))
			for p, a := range tc.answers {
				_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: p, Answer: a})
			}
			_, s, _ = Apply(s, Command{Type: CmdCloseRound, Round: 1})

			events, next, err := Apply(s, Command{Type: CmdIntermissionDone, Round: 1})
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}

			over, ok := findEvent(events, EvtGameOver)
			if ok != tc.wantOver {
				t.Fatalf("game over: got %v, want %v (%+v)", ok, tc.wantOver, events)
			}
			if !tc.wantOver {
				req, ok := findEvent(events, EvtAcquireRequested)
				if !ok || req.Round != 2 || next.Phase != PhaseStarting {
					t.Fatalf("expected round 2 acquisition, got %+v", events)
				}
				return
			}
			if over.Player != tc.wantWinner {
				t.Fatalf("winner: got %q, want %q", over.Player, tc.wantWinner)
			}
			if !containsEvent(events, EvtMatchDestroyed) || next.Phase != PhaseEnded {
				t.Fatalf("match not ended")
			}
		})
	}
}

func TestAcquireFailedEndsMatch(t *testing.T) {
	_, s, _ := Apply(newLobbyState("p1"), Command{Type: CmdStart})
	cause := errors.New("bank empty")

	events, s, err := Apply(s, Command{Type: CmdAcquireFailed, Round: 1, Err: cause})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	failed, ok := findEvent(events, EvtMatchFailed)
	if !ok || !errors.Is(failed.Err, cause) {
		t.Fatalf("missing EvtMatchFailed: %+v", events)
	}
	if s.Phase != PhaseEnded {
		t.Fatalf("phase: %v", s.Phase)
	}

	_, _, err = Apply(s, Command{Type: CmdJoin, Player: "p2"})
	if !errors.Is(err, ErrMatchEnded) {
		t.Fatalf("want ErrMatchEnded, got %v", err)
	}
}

func TestEliminatedHostIsReplaced(t *testing.T) {
	s := openRound(t, newLobbyState("p1", "p2", "p3"))
	_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: "p2", Answer: "Paris"})
	_, s, _ = Apply(s, Command{Type: CmdAnswer, Player: "p3", Answer: "Paris"})

	_, s, _ = Apply(s, Command{Type: CmdCloseRound, Round: 1})
	if s.Host != "p2" {
		t.Fatalf("host: got %q, want p2", s.Host)
	}
}

func TestConcreteCategory(t *testing.T) {
	if got := ConcreteCategory("Science", func(int) int { return 3 }); got != "Science" {
		t.Fatalf("got %q", got)
	}
	if got := ConcreteCategory(MixedCategory, func(int) int { return 3 }); got != "History" {
		t.Fatalf("got %q", got)
	}
}

func findEvent(events []Event, typ EventType) (Event, bool) {
	for _, e := range events {
		if e.Type == typ {
			return e, true
		}
	}
	return Event{}, false
}

func containsEvent(events []Event, typ EventType) bool {
	_, ok := findEvent(events, typ)
	return ok
}
