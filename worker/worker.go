// Package worker implements the microservice runtime a handler table runs
// under: registration with the router, the idle/in-session dispatch loop,
// and the three built-in introspection methods every worker publishes.
package worker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/osrfmsg"
	"github.com/kcls/osrfgo/session"
)

// Config tunes the timing and lifetime of one Worker.
type Config struct {
	// Username is the bus username this worker registers under.
	Username string
	// Domain is this worker's home bus domain.
	Domain string

	// IdlePoll bounds each recv while no session is active. Spec default
	// ~5s.
	IdlePoll time.Duration
	// Keepalive bounds each recv once a session is CONNECTed. Spec
	// default is operator-configured; callers should set one.
	Keepalive time.Duration
	// MaxRequests is the number of connected conversations this worker
	// serves before exiting for the pool to respawn it. Zero means
	// unlimited.
	MaxRequests int
}

// Worker is a long-lived task bound to one registered bus address,
// dispatching REQUEST/CONNECT/DISCONNECT messages to a handler table.
type Worker struct {
	log      logger.Logger
	busConn  *bus.Client
	service  string
	handlers map[string]Registration
	cfg      Config

	requestsServed atomic.Int64
}

// New constructs a Worker for service, registered on the bus at busConn's
// own address (see DESIGN.md for why this is a Client-kind address, not
// the generic bare-service form).
func New(log logger.Logger, busConn *bus.Client, service string, handlers map[string]Registration, cfg Config) *Worker {
	if handlers == nil {
		handlers = make(map[string]Registration)
	}
	w := &Worker{
		log:      log,
		busConn:  busConn,
		service:  service,
		handlers: handlers,
		cfg:      cfg,
	}
	w.registerBuiltins()
	return w
}

// errStopped is returned internally to unwind Run cleanly once MaxRequests
// is reached; it is never returned to the caller.
var errStopped = errors.New("worker: max requests reached")

// Run alternates between idle and in-session states until ctx is canceled
// or MaxRequests is exhausted
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tm, err := w.busConn.Recv(ctx, w.cfg.IdlePoll, nil)
		if err != nil {
			return fabricerr.Transport("worker.run", err)
		}
		if tm == nil {
			if err := w.busConn.Clear(ctx); err != nil {
				w.log.Warn("worker %s: clear failed: %v", w.service, err)
			}
			continue
		}

		if err := w.handleEnvelope(ctx, tm); err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			w.log.Warn("worker %s: %v", w.service, err)
		}
	}
}

// handleEnvelope dispatches CONNECT into a bounded in-session loop, or
// processes a single stateless REQUEST/DISCONNECT directly.
func (w *Worker) handleEnvelope(ctx context.Context, tm *osrfmsg.TransportMessage) error {
	clientAddr, err := addr.Parse(tm.From)
	if err != nil {
		w.log.Warn("worker %s: malformed sender address %q", w.service, tm.From)
		return nil
	}

	srv := session.NewServer(w.log, w.busConn, w.service, tm.Thread, clientAddr)
	connected := false

	for _, m := range tm.Body {
		switch m.Type {
		case osrfmsg.TypeConnect:
			if connected {
				srv.BeginRequest(m.ThreadTrace, false)
				_ = srv.RespondError(ctx, fabricerr.CodeBadRequest, "already connected")
				continue
			}
			connected = true
			srv.BeginRequest(m.ThreadTrace, false)
			if err := w.sendStatus(ctx, srv, fabricerr.CodeOK); err != nil {
				return err
			}
		case osrfmsg.TypeDisconnect:
			return nil
		case osrfmsg.TypeRequest:
			if err := w.dispatch(ctx, srv, m); err != nil {
				return err
			}
		default:
			w.log.Warn("worker %s: unexpected message type %s", w.service, m.Type)
		}
	}

	if !connected {
		return nil
	}
	return w.runSession(ctx, srv)
}

// runSession keeps receiving on this worker's own address, at the
// keepalive timeout, until DISCONNECT, a protocol timeout, or MaxRequests.
func (w *Worker) runSession(ctx context.Context, srv *session.Server) error {
	if w.cfg.MaxRequests > 0 && w.requestsServed.Add(1) > int64(w.cfg.MaxRequests) {
		return errStopped
	}

	for {
		tm, err := w.busConn.Recv(ctx, w.cfg.Keepalive, nil)
		if err != nil {
			return fabricerr.Transport("worker.session", err)
		}
		if tm == nil {
			srv.BeginRequest(0, false)
			_ = w.sendStatus(ctx, srv, fabricerr.CodeTimeout)
			return nil
		}

		for _, m := range tm.Body {
			switch m.Type {
			case osrfmsg.TypeDisconnect:
				return nil
			case osrfmsg.TypeRequest:
				if err := w.dispatch(ctx, srv, m); err != nil {
					return err
				}
			case osrfmsg.TypeConnect:
				srv.BeginRequest(m.ThreadTrace, false)
				_ = srv.RespondError(ctx, fabricerr.CodeBadRequest, "already connected")
			default:
				w.log.Warn("worker %s: unexpected message type %s", w.service, m.Type)
			}
		}
	}
}

// dispatch resolves method, validates arity, invokes the handler, and
// makes sure a terminating Complete is always sent.
func (w *Worker) dispatch(ctx context.Context, srv *session.Server, m osrfmsg.Message) error {
	call, ok := m.Payload.(osrfmsg.MethodCall)
	if !ok {
		return nil
	}

	method, isAtomic := resolveMethodName(call.Method)
	srv.BeginRequest(m.ThreadTrace, isAtomic)

	reg, ok := w.handlers[method]
	if !ok {
		return srv.RespondError(ctx, fabricerr.CodeNotFound, "method %s not found", call.Method)
	}
	if err := reg.Arity.Check(len(call.Params)); err != nil {
		return srv.RespondError(ctx, fabricerr.CodeBadRequest, "%s: %v", call.Method, err)
	}

	if err := reg.Handler(ctx, srv, call.Params); err != nil {
		_ = srv.RespondError(ctx, fabricerr.CodeInternalServerErr, "%v", err)
		return nil
	}
	if !srv.RespondedComplete() {
		return srv.SendComplete(ctx)
	}
	return nil
}

// resolveMethodName strips a ".atomic" suffix, reporting whether the call
// should be dispatched in atomic mode
func resolveMethodName(method string) (string, bool) {
	const suffix = ".atomic"
	if strings.HasSuffix(method, suffix) {
		return strings.TrimSuffix(method, suffix), true
	}
	return method, false
}

func (w *Worker) sendStatus(ctx context.Context, srv *session.Server, code fabricerr.Code) error {
	return srv.Status(ctx, code, "%s", code.Label())
}
