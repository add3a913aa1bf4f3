// Package http implements the HTTP gateway described below:
// a single-request/single-response relay, GET or POST, with no streaming
// path — the WS gateway (package ws) is the only streaming boundary this
// repository exposes.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/logger"
)

// Config tunes the HTTP gateway.
type Config struct {
	// RequestTimeout bounds how long one relayed call may take end to end.
	// Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// DefaultRequestTimeout is used when Config.RequestTimeout is zero.
const DefaultRequestTimeout = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Server hosts the /osrf-gateway endpoint.
//
// It holds a bus.Config template rather than a connected bus.Client:
// gateway/pool/accept.go opens one fresh bus.Client per WS session, and a
// relayed HTTP call needs the same isolation. session.Client.Recv matches
// replies by thread_trace alone, scoped to its own bus address's queue, so
// concurrent relays sharing one busConn would race for the same queue and
// could steal or backlog each other's replies. Every relay instead clones
// busCfg with a fresh addr.Client nonce and connects for the duration of
// that one call.
type Server struct {
	log        logger.Logger
	busCfg     bus.Config
	routerAddr addr.Address
	cfg        Config

	// dial opens the per-relay bus.Client. Defaults to bus.Connect; tests
	// override it to dial an in-memory broker instead of Redis.
	dial func(ctx context.Context, cfg bus.Config) (*bus.Client, error)
}

// NewServer builds a Server that relays calls through routerAddr. busCfg is
// a template: its Self is overwritten with a fresh per-call client address
// before each relay connects.
func NewServer(log logger.Logger, busCfg bus.Config, routerAddr addr.Address, cfg Config) *Server {
	return &Server{
		log:        log,
		busCfg:     busCfg,
		routerAddr: routerAddr,
		cfg:        cfg.withDefaults(),
		dial:       bus.Connect,
	}
}

// Router returns the chi router serving this gateway's single endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		middleware.SetHeader("Content-Type", "application/json"),
	)
	r.Get("/osrf-gateway", s.handleGateway)
	r.Post("/osrf-gateway", s.handleGateway)
	return r
}

// ListenAndServe is a small convenience wrapper (net/http.Server over a
// router) for binaries that don't need any finer control over the listener.
func (s *Server) ListenAndServe(listenAddr string) error {
	return http.ListenAndServe(listenAddr, s.Router())
}
