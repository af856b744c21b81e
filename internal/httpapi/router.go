package httpapi

import (
	"net/http"
	"time"

	"gemchat/internal/config"
	"gemchat/internal/metrics"
	"gemchat/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// NewRouter assembles the full HTTP surface: health and scrape
// endpoints, auth, chat CRUD, and the two streaming relay routes.
func NewRouter(cfg config.Config, logger zerolog.Logger, st store.Store, streamer completionStreamer) http.Handler {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	h := NewHandler(cfg, logger, st, streamer, collector)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", cfg.TrustedEmailHeader, "X-Dev-Email", "X-Dev-Name"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(registry))

	r.Route("/api", func(api chi.Router) {
		api.Use(httprate.LimitByIP(cfg.RateLimitRPM, time.Minute))

		api.Post("/auth/dev-login", h.DevLogin)

		api.Group(func(p chi.Router) {
			p.Use(h.RequireIdentity)

			p.Get("/auth/me", h.AuthMe)

			p.Route("/chats", func(chats chi.Router) {
				chats.Get("/", h.ListChats)
				chats.Post("/", h.CreateChat)
				chats.Delete("/", h.DeleteAllChats)

				chats.Route("/{chatID}", func(chat chi.Router) {
					chat.Get("/", h.GetChat)
					chat.Patch("/", h.RenameChat)
					chat.Delete("/", h.DeleteChat)
					chat.Post("/messages", h.ChatMessages)
				})
			})

			p.Post("/chat", h.Chat)
		})
	})

	return r
}

// requestLogger emits one structured line per request. Streaming
// responses log their status when the handler returns, so a long relay
// shows up with its full duration.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("requestId", chimw.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
