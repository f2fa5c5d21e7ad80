// Package types holds the JSON frames exchanged with clients.
//
// Client -> Server
//
//	joinLobby:       username, category, matchId
//	startGame:       category, matchId
//	answer:          username, answer, matchId
//	checkGameStatus: category, matchId
//
// Server -> Client
//
//	{"type": <event>, "data": <payload>}
//	lobbyUpdate, startGame, newQuestion, gameStatus, roundResult, eliminated,
//	gameOver, leaderboardUpdated, matchError, matchClosed, error
package types

import (
	"time"

	"github.com/DoyleJ11/trivia-royale/internal/engine"
)

const (
	MsgJoinLobby       = "joinLobby"
	MsgStartGame       = "startGame"
	MsgAnswer          = "answer"
	MsgCheckGameStatus = "checkGameStatus"
)

const (
	EvtLobbyUpdate        = "lobbyUpdate"
	EvtStartGame          = "startGame"
	EvtNewQuestion        = "newQuestion"
	EvtGameStatus         = "gameStatus"
	EvtRoundResult        = "roundResult"
	EvtEliminated         = "eliminated"
	EvtGameOver           = "gameOver"
	EvtLeaderboardUpdated = "leaderboardUpdated"
	EvtMatchError         = "matchError"
	EvtMatchClosed        = "matchClosed"
	EvtError              = "error"
)

type ClientMessage struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Category string `json:"category,omitempty"`
	MatchID  string `json:"matchId,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type LobbyUpdate struct {
	Category string   `json:"category"`
	Players  []string `json:"players"`
	Host     *string  `json:"host"`
	MatchID  string   `json:"matchId"`
}

type StartGame struct {
	MatchID string `json:"matchId"`
}

type NewQuestion struct {
	Category  string    `json:"category"`
	MatchID   string    `json:"matchId"`
	Round     int       `json:"round"`
	Question  string    `json:"question"`
	Answers   [4]string `json:"answers"`
	TimeLimit int       `json:"timeLimit"` // seconds
	StartTime int64     `json:"startTime"` // unix millis
	Correct   string    `json:"correct"`   // "A".."D"
}

// QuestionView is the question as reported by gameStatus.
type QuestionView struct {
	Question string    `json:"question"`
	Answers  [4]string `json:"answers"`
	Correct  string    `json:"correct"`
}

type GameStatus struct {
	MatchID    string        `json:"matchId"`
	Category   string        `json:"category"`
	Started    bool          `json:"started"`
	Question   *QuestionView `json:"question"`
	Eliminated []string      `json:"eliminated"`
}

type RoundResult struct {
	Round         int      `json:"round"`
	CorrectAnswer string   `json:"correctAnswer"`
	Eliminated    []string `json:"eliminated"`
	Survivors     []string `json:"survivors"`
}

type Eliminated struct {
	Username string `json:"username"`
}

type GameOver struct {
	Winner *string `json:"winner"`
}

type LeaderboardUpdated struct {
	Username string `json:"username"`
	Category string `json:"category"`
}

type MatchError struct {
	MatchID string `json:"matchId"`
	Message string `json:"message"`
}

type MatchClosed struct {
	MatchID string `json:"matchId"`
}

type Error struct {
	Message string `json:"message"`
}

func NewQuestionFrom(matchID, category string, round int, q engine.Question, timeLimit time.Duration, start time.Time) NewQuestion {
	return NewQuestion{
		Category:  category,
		MatchID:   matchID,
		Round:     round,
		Question:  q.Text,
		Answers:   q.Answers,
		TimeLimit: int(timeLimit / time.Second),
		StartTime: start.UnixMilli(),
		Correct:   q.CorrectLetter(),
	}
}

func QuestionViewFrom(q *engine.Question) *QuestionView {
	if q == nil {
		return nil
	}
	return &QuestionView{Question: q.Text, Answers: q.Answers, Correct: q.CorrectLetter()}
}

// Nullable maps "" to a JSON null.
func Nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Decode recovers a typed payload from a ServerMessage built in-process.
func Decode[T any](msg ServerMessage) (T, bool) {
	v, ok := msg.Data.(T)
	return v, ok
}
