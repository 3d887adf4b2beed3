package server

import (
	"log/slog"
	"net/http"

	"github.com/cloo-solutions/taxbot/internal/api"
	"github.com/cloo-solutions/taxbot/internal/api/handlers"
	"github.com/cloo-solutions/taxbot/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	ChatbotHandler *handlers.ChatbotHandler
	// AdminToken guards the debug and rebuild routes when set.
	AdminToken     string
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	chatbot := chatbotRoutes(cfg)
	r.Mount("/chatbot", chatbot)
	r.Mount("/api/chatbot", chatbot)

	return r
}

func chatbotRoutes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Post("/", cfg.ChatbotHandler.Ask)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.AdminToken))

		r.Get("/debug", cfg.ChatbotHandler.Debug)
		r.Post("/process-documents", cfg.ChatbotHandler.ProcessDocuments)
	})

	return r
}
