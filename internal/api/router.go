package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/drmarcocomper-ui/prontio-agenda/internal/agenda"
)

type RouterConfig struct {
	Engine  *agenda.Engine
	Redis   *redis.Client
	Log     *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &agendaHandler{engine: cfg.Engine}

	r.Get("/agenda/day/{date}", h.day)
	r.Get("/agenda/week/{date}", h.week)

	r.Post("/appointments", h.createAppointment)
	r.Put("/appointments/{id}", h.updateAppointment)
	r.Post("/appointments/{id}/status", h.changeStatus)
	r.Post("/appointments/{id}/cancel", h.cancelAppointment)

	r.Post("/blocks", h.createBlock)
	r.Post("/blocks/{id}/unblock", h.unblock)

	r.Get("/preferences", h.getPreferences)
	r.Put("/preferences", h.putPreferences)

	return r
}
