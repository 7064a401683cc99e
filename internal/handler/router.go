package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voicelink/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/voicelink/internal/middleware"
	"github.com/zhouzirui/voicelink/pkg/utils"
)

// NewRouter wires HTTP routes to the voice controller.
// gatherer may be nil, in which case /metrics is not mounted.
func NewRouter(ctrl voice.Controller, gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	voiceHandler := voice.New(ctrl, logger.With().Str("component", "voice-http").Logger())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			state := ctrl.State()
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":     "ok",
				"controller": state.ID,
				"connection": state.Status,
			})
		})

		voiceHandler.RegisterRoutes(api)
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
