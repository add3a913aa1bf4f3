package pool

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/gateway/ws"
	"github.com/kcls/osrfgo/logger"
)

// AcceptorConfig configures the accept loop that turns inbound WS upgrade
// requests into pool Jobs.
type AcceptorConfig struct {
	// BusConfig is cloned and given a fresh per-connection client address
	// for each accepted session: one bus client per gateway session.
	BusConfig bus.Config
	// RouterAddr is the router every session's calls are routed through.
	RouterAddr addr.Address
	// Session tunes each ws.Session (backlog size, poll interval, and so
	// on).
	Session ws.Config
	// CheckOrigin validates the upgrade request's Origin header. A nil
	// value accepts every origin, matching gorilla/websocket's own
	// default when Upgrader.CheckOrigin is unset.
	CheckOrigin func(r *http.Request) bool
}

// Acceptor upgrades inbound HTTP requests to WebSocket connections and
// submits one ws.Session job per accepted connection to a Pool.
type Acceptor struct {
	log      logger.Logger
	pool     *Pool
	cfg      AcceptorConfig
	upgrader websocket.Upgrader
}

// NewAcceptor builds an Acceptor backed by pool.
func NewAcceptor(log logger.Logger, pool *Pool, cfg AcceptorConfig) *Acceptor {
	return &Acceptor{
		log:  log,
		pool: pool,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket connection, connects a
// fresh bus client for it, and hands the resulting session to the pool. If
// the pool's job queue is full, the upgraded connection and its bus client
// are closed at once; nothing is sent to the client, and only a warning is
// logged.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("ws gateway: upgrade failed: %v", err)
		return
	}

	busCfg := a.cfg.BusConfig
	busCfg.Self = addr.Client(busCfg.Self.Username, busCfg.Self.Domain, busCfg.Self.Service)

	busConn, err := bus.Connect(r.Context(), busCfg)
	if err != nil {
		a.log.Error("ws gateway: connecting session bus client: %v", err)
		_ = conn.Close()
		return
	}

	session := ws.NewSession(a.log, conn, busConn, a.cfg.RouterAddr, a.cfg.Session)

	accepted := a.pool.Submit(func(ctx context.Context) {
		defer busConn.Close()
		if err := session.Run(ctx); err != nil {
			a.log.Warn("ws gateway: session ended: %v", err)
		}
	})
	if !accepted {
		a.log.Warn("ws gateway: pool saturated, rejecting connection")
		_ = busConn.Close()
		_ = conn.Close()
	}
}
