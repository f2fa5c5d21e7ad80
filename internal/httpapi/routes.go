package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trivia-royale/internal/leaderboard"
	"github.com/DoyleJ11/trivia-royale/internal/ws"
)

type Server struct {
	Registry    ws.Registry
	IDs         MatchIDs
	Leaderboard leaderboard.Store
	Checks      map[string]Pinger
	Logger      *zap.Logger
	WS          ws.Options
}

func SetupRoutes(s Server) http.Handler {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz(s.Checks))
	r.Get("/ws", ws.Handler(s.Registry, log, s.WS))
	r.Route("/api", func(r chi.Router) {
		r.Get("/new-match", NewMatch(s.IDs))
		r.Get("/leaderboard", Leaderboard(s.Leaderboard, log))
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
