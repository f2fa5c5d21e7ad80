package engine

import (
	"errors"
	"maps"
	"slices"
	"time"
)

var ErrAlreadyStarted = errors.New("match already started")
var ErrNoPlayers = errors.New("match has no players")
var ErrMatchInProgress = errors.New("match in progress")
var ErrInvalidPlayer = errors.New("invalid player name")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrNotPlaying = errors.New("player not in play")
var ErrStaleWrite = errors.New("answer window closed")
var ErrStaleTimer = errors.New("stale round timer")
var ErrNoQuestion = errors.New("no question supplied")
var ErrMatchEnded = errors.New("match already ended")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseLobby        Phase = "lobby"
	PhaseStarting     Phase = "starting"
	PhaseQuestion     Phase = "question"
	PhaseGrading      Phase = "grading"
	PhaseIntermission Phase = "intermission"
	PhaseEnded        Phase = "ended"
)

type Rules struct {
	TimeLimit    time.Duration
	Intermission time.Duration
	// CloseWhenAllAnswered ends a round as soon as every connected player has
	// answered instead of waiting for the full time limit.
	CloseWhenAllAnswered bool
}

// Question is a match-local copy of a bank question. Answers are already in
// the order shown to players for this round.
type Question struct {
	Category string
	Text     string
	Answers  [4]string
	Correct  int
}

func (q Question) CorrectText() string { return q.Answers[q.Correct] }

func (q Question) CorrectLetter() string { return string(rune('A' + q.Correct)) }

type State struct {
	MatchID        string
	Category       string
	Phase          Phase
	Players        []string // join order
	Host           string
	Disconnected   map[string]bool
	Round          int
	Question       *Question
	Ledger         *Ledger
	RoundStartedAt time.Time
	CreatedAt      time.Time
	BotsAttached   bool
	Rules          Rules
}

type CommandType string

const (
	CmdJoin             CommandType = "Join"
	CmdLeave            CommandType = "Leave"
	CmdStart            CommandType = "Start"
	CmdQuestionReady    CommandType = "QuestionReady"
	CmdAcquireFailed    CommandType = "AcquireFailed"
	CmdAnswer           CommandType = "Answer"
	CmdCloseRound       CommandType = "CloseRound"
	CmdIntermissionDone CommandType = "IntermissionDone"
)

/*
	CmdJoin             -> EvtPlayerJoined [-> EvtHostChanged] [-> EvtBotsRequested]
	CmdLeave            -> EvtPlayerLeft [-> EvtHostChanged] [-> EvtMatchDestroyed]
	CmdStart            -> EvtAcquireRequested
	CmdQuestionReady    -> [EvtGameStarted ->] EvtQuestionOpened
	CmdAcquireFailed    -> EvtMatchFailed -> EvtMatchDestroyed
	CmdAnswer           -> [EvtAllAnswered]
	CmdCloseRound       -> EvtRoundGraded -> EvtPlayerEliminated... [-> EvtHostChanged]
	CmdIntermissionDone -> EvtGameOver -> EvtMatchDestroyed | EvtAcquireRequested
*/

// Command is one input to the round state machine. Round is set on commands
// produced by timers and acquisitions so late deliveries can be detected.
type Command struct {
	Type     CommandType
	Player   string
	Category string
	Answer   string
	Round    int
	Question *Question
	At       time.Time
	Err      error
}

type EventType string

const (
	EvtPlayerJoined     EventType = "PlayerJoined"
	EvtPlayerLeft       EventType = "PlayerLeft"
	EvtHostChanged      EventType = "HostChanged"
	EvtBotsRequested    EventType = "BotsRequested"
	EvtAcquireRequested EventType = "AcquireRequested"
	EvtGameStarted      EventType = "GameStarted"
	EvtQuestionOpened   EventType = "QuestionOpened"
	EvtAllAnswered      EventType = "AllAnswered"
	EvtRoundGraded      EventType = "RoundGraded"
	EvtPlayerEliminated EventType = "PlayerEliminated"
	EvtGameOver         EventType = "GameOver"
	EvtMatchFailed      EventType = "MatchFailed"
	EvtMatchDestroyed   EventType = "MatchDestroyed"
)

type Event struct {
	Type       EventType
	Player     string
	Round      int
	Category   string
	Question   *Question
	Survivors  []string
	Eliminated []string
	Err        error
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseEnded {
		return nil, s, ErrMatchEnded
	}

	switch cmd.Type {
	case CmdJoin:
		return applyJoin(s, cmd)
	case CmdLeave:
		return applyLeave(s, cmd)
	case CmdStart:
		return applyStart(s, cmd)
	case CmdQuestionReady:
		return applyQuestionReady(s, cmd)
	case CmdAcquireFailed:
		return applyAcquireFailed(s, cmd)
	case CmdAnswer:
		return applyAnswer(s, cmd)
	case CmdCloseRound:
		return applyCloseRound(s, cmd)
	case CmdIntermissionDone:
		return applyIntermissionDone(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyJoin(s State, cmd Command) ([]Event, State, error) {
	if !ValidPlayerName(cmd.Player) {
		return nil, s, ErrInvalidPlayer
	}
	newState := s

	// Already a member: reconnect, membership unchanged.
	if slices.Contains(s.Players, cmd.Player) {
		if s.Disconnected[cmd.Player] {
			newState.Disconnected = maps.Clone(s.Disconnected)
			delete(newState.Disconnected, cmd.Player)
		}
		events := []Event{{Type: EvtPlayerJoined, Player: cmd.Player}}
		if newState.Host == "" {
			newState.Host = cmd.Player
			events = append(events, Event{Type: EvtHostChanged, Player: cmd.Player})
		}
		return events, newState, nil
	}

	if s.Phase != PhaseLobby {
		return nil, s, ErrMatchInProgress
	}

	newState.Players = append(slices.Clone(s.Players), cmd.Player)
	events := []Event{{Type: EvtPlayerJoined, Player: cmd.Player}}

	if newState.Host == "" {
		newState.Host = cmd.Player
		events = append(events, Event{Type: EvtHostChanged, Player: cmd.Player})
	}

	if !newState.BotsAttached && !IsBotName(cmd.Player) {
		newState.BotsAttached = true
		events = append(events, Event{Type: EvtBotsRequested, Category: newState.Category})
	}
	return events, newState, nil
}

func applyLeave(s State, cmd Command) ([]Event, State, error) {
	idx := slices.Index(s.Players, cmd.Player)
	if idx < 0 {
		return nil, s, ErrUnknownPlayer
	}
	newState := s
	events := []Event{{Type: EvtPlayerLeft, Player: cmd.Player}}

	if s.Phase == PhaseLobby {
		newState.Players = slices.Delete(slices.Clone(s.Players), idx, idx+1)
		if newState.Host == cmd.Player {
			newState.Host = nextHost(newState)
			events = append(events, Event{Type: EvtHostChanged, Player: newState.Host})
		}
		if len(newState.Players) == 0 {
			newState.Phase = PhaseEnded
			events = append(events, Event{Type: EvtMatchDestroyed})
		}
		return events, newState, nil
	}

	// Running game: the player stays in the round and is graded like everyone
	// else, a missing answer eliminates them.
	newState.Disconnected = maps.Clone(s.Disconnected)
	if newState.Disconnected == nil {
		newState.Disconnected = map[string]bool{}
	}
	newState.Disconnected[cmd.Player] = true
	if newState.Host == cmd.Player {
		newState.Host = nextHost(newState)
		events = append(events, Event{Type: EvtHostChanged, Player: newState.Host})
	}
	return events, newState, nil
}

func applyStart(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseLobby {
		return nil, s, ErrAlreadyStarted
	}
	if len(s.Players) == 0 {
		return nil, s, ErrNoPlayers
	}

	newState := s
	if cmd.Category != "" {
		newState.Category = cmd.Category
	}
	newState.Phase = PhaseStarting

	events := []Event{{Type: EvtAcquireRequested, Round: s.Round + 1, Category: newState.Category}}
	return events, newState, nil
}

func applyQuestionReady(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseStarting || cmd.Round != s.Round+1 {
		return nil, s, ErrStaleTimer
	}
	if cmd.Question == nil {
		return nil, s, ErrNoQuestion
	}

	q := *cmd.Question
	newState := s
	newState.Round = cmd.Round
	newState.Question = &q
	newState.Ledger = NewLedger(cmd.Round)
	newState.RoundStartedAt = cmd.At
	newState.Phase = PhaseQuestion

	events := []Event{}
	if newState.Round == 1 {
		events = append(events, Event{Type: EvtGameStarted})
	}
	events = append(events, Event{Type: EvtQuestionOpened, Round: newState.Round, Category: newState.Category, Question: &q})
	return events, newState, nil
}

func applyAcquireFailed(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseStarting || cmd.Round != s.Round+1 {
		return nil, s, ErrStaleTimer
	}

	newState := s
	newState.Phase = PhaseEnded
	events := []Event{
		{Type: EvtMatchFailed, Round: cmd.Round, Err: cmd.Err},
		{Type: EvtMatchDestroyed},
	}
	return events, newState, nil
}

func applyAnswer(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseQuestion || s.Ledger == nil {
		return nil, s, ErrStaleWrite
	}
	if !slices.Contains(s.Players, cmd.Player) {
		return nil, s, ErrNotPlaying
	}
	if !s.Ledger.Record(cmd.Player, cmd.Answer) {
		return nil, s, ErrStaleWrite
	}

	if s.Rules.CloseWhenAllAnswered && allAnswered(s) {
		return []Event{{Type: EvtAllAnswered, Round: s.Round}}, s, nil
	}
	return nil, s, nil
}

func applyCloseRound(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseQuestion || cmd.Round != s.Round {
		return nil, s, ErrStaleTimer
	}

	newState := s
	newState.Phase = PhaseGrading
	answers := s.Ledger.Close()
	result := Eliminate(s.Players, answers, s.Question.CorrectText())

	newState.Players = result.Survivors
	if len(s.Disconnected) > 0 {
		newState.Disconnected = maps.Clone(s.Disconnected)
		for _, p := range result.Eliminated {
			delete(newState.Disconnected, p)
		}
	}

	events := []Event{{
		Type:       EvtRoundGraded,
		Round:      s.Round,
		Question:   s.Question,
		Survivors:  result.Survivors,
		Eliminated: result.Eliminated,
	}}
	for _, p := range result.Eliminated {
		events = append(events, Event{Type: EvtPlayerEliminated, Player: p, Round: s.Round})
	}

	if !slices.Contains(newState.Players, newState.Host) {
		newState.Host = nextHost(newState)
		events = append(events, Event{Type: EvtHostChanged, Player: newState.Host})
	}

	newState.Phase = PhaseIntermission
	return events, newState, nil
}

func applyIntermissionDone(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseIntermission || cmd.Round != s.Round {
		return nil, s, ErrStaleTimer
	}

	newState := s
	switch len(s.Players) {
	case 0:
		newState.Phase = PhaseEnded
		return []Event{
			{Type: EvtGameOver, Category: s.Category},
			{Type: EvtMatchDestroyed},
		}, newState, nil
	case 1:
		newState.Phase = PhaseEnded
		return []Event{
			{Type: EvtGameOver, Player: s.Players[0], Category: s.Category},
			{Type: EvtMatchDestroyed},
		}, newState, nil
	default:
		newState.Phase = PhaseStarting
		return []Event{{Type: EvtAcquireRequested, Round: s.Round + 1, Category: s.Category}}, newState, nil
	}
}

// nextHost picks the oldest connected member, falling back to the oldest
// member when everyone is disconnected.
func nextHost(s State) string {
	for _, p := range s.Players {
		if !s.Disconnected[p] {
			return p
		}
	}
	if len(s.Players) > 0 {
		return s.Players[0]
	}
	return ""
}

func allAnswered(s State) bool {
	for _, p := range s.Players {
		if s.Disconnected[p] {
			continue
		}
		if !s.Ledger.Has(p) {
			return false
		}
	}
	return true
}
