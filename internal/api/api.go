package api

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"seekstream/hlsession"
	"seekstream/internal/metrics"
)

type ApiManagerCtx struct {
	logger   zerolog.Logger
	registry *hlsession.Registry
}

func New(registry *hlsession.Registry) *ApiManagerCtx {
	return &ApiManagerCtx{
		logger:   log.With().Str("module", "api").Logger(),
		registry: registry,
	}
}

func (a *ApiManagerCtx) Mount(r *chi.Mux) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		//nolint
		_, _ = w.Write([]byte("pong"))
	})

	r.Method("GET", "/metrics", metrics.Handler())

	r.Route("/vod", a.vodRoutes)
}
