package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/trivia-royale/internal/leaderboard"
)

type MatchIDs interface {
	NewMatchID() string
}

// Pinger reports whether a backing service is reachable.
type Pinger func(ctx context.Context) error

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func NewMatch(ids MatchIDs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			MatchID string `json:"matchId"`
		}{MatchID: ids.NewMatchID()})
	}
}

// Leaderboard serves GET /api/leaderboard?category=&limit=.
func Leaderboard(store leaderboard.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a number"})
				return
			}
			limit = n
		}

		entries, err := store.Top(r.Context(), q.Get("category"), leaderboard.ClampLimit(limit))
		if err != nil {
			log.Error("leaderboard read failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "leaderboard unavailable"})
			return
		}
		if entries == nil {
			entries = []leaderboard.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func Healthz(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, failed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
