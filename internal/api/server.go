// Package api is the worker's HTTP surface: the cached aggregation endpoints and the
// streaming chat endpoint.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/juchunko/site-worker/internal/agg"
	"github.com/juchunko/site-worker/internal/chat"
	"github.com/juchunko/site-worker/internal/serverutil"
	"github.com/juchunko/site-worker/internal/site"
)

// Both aggregation endpoints are cached for a day, here and by anything in front of us.
const cacheControl = "public, max-age=86400"

// Index cards with a failed section are retried sooner.
const degradedCacheControl = "public, max-age=300"

type (
	// Aggregator is satisfied by [agg.Aggregator].
	Aggregator interface {
		IndexCards(ctx context.Context, lang site.Lang) agg.IndexCards
		LegislatorActivity(ctx context.Context, page, pageSize int, lang site.Lang) (site.Page[site.ActivityItem], error)
	}

	// ChatGateway is satisfied by [chat.Gateway].
	ChatGateway interface {
		Stream(ctx context.Context, req chat.Request, sw *chat.StreamWriter) error
	}

	// Server serves the worker's endpoints.
	Server struct {
		*http.Server

		agg     Aggregator
		chat    ChatGateway
		started time.Time
	}

	ServerConfig struct {
		Port int
		// Take the client address from X-Forwarded-For and friends. Only safe when every
		// request arrives through a proxy that overwrites them.
		TrustProxy bool
	}

	Params struct {
		Aggregator Aggregator
		Chat       ChatGateway

		// Wraps the cacheable GET endpoints. Optional.
		Cache func(http.Handler) http.Handler
		// Guards the chat endpoint. Optional.
		Limiter *Limiter
		// Serves /metrics. Optional.
		Metrics http.Handler
	}
)

func NewServer(cfg ServerConfig, p Params) *Server {
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"content-type"}),
	)(r)
	if cfg.TrustProxy {
		handler = handlers.ProxyHeaders(handler)
	}

	srvr := &Server{
		agg:     p.Aggregator,
		chat:    p.Chat,
		started: time.Now(),
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			ReadTimeout: 5 * time.Second,
			// Chat streams push their own deadline out
			WriteTimeout: 30 * time.Second,
			Handler:      handler,
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/healthz", srvr.getHealth).Methods(http.MethodGet)
	if p.Metrics != nil {
		r.Handle("/metrics", p.Metrics).Methods(http.MethodGet)
	}

	cached := serverutil.ErrRouter{Router: r.NewRoute().Subrouter()}
	if p.Cache != nil {
		cached.Use(p.Cache)
	}
	cached.HandleFuncE("/api/index-cards", srvr.getIndexCards).Methods(http.MethodGet)
	cached.HandleFuncE("/api/legislator-activity", srvr.getLegislatorActivity).Methods(http.MethodGet)

	var chatHandler http.Handler = serverutil.HandlerFuncE(srvr.postChat)
	if p.Limiter != nil {
		chatHandler = p.Limiter.Middleware(chatHandler)
	}
	r.Handle("/api/chat", chatHandler).Methods(http.MethodPost)

	slog.Debug("configured worker server", "port", cfg.Port, "trust_proxy", cfg.TrustProxy)

	return srvr
}

type health struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, health{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}
