package router

import (
	"context"
	"sort"

	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/osrfmsg"
	"github.com/kcls/osrfgo/session"
	"github.com/kcls/osrfgo/worker"
)

// internalServiceName is the service name the router's own introspection
// RPCs are dispatched under
const internalServiceName = "opensrf.router"

func (r *Router) registerInfoHandlers() map[string]worker.Registration {
	return map[string]worker.Registration{
		"opensrf.router.info.class.list": {
			Handler: r.classList,
			Arity:   worker.Zero(),
			Summary: "lists service names registered on the primary domain",
		},
		"opensrf.router.info.summarize": {
			Handler: r.summarize,
			Arity:   worker.Zero(),
			Summary: "returns the full routing table as structured data",
		},
	}
}

func (r *Router) classList(ctx context.Context, s *session.Server, params []osrfmsg.Value) error {
	var names []string
	if rd, ok := r.domains.Load(r.cfg.Domain); ok {
		names = rd.classList()
	}
	v, err := osrfmsg.NewValue(names)
	if err != nil {
		return err
	}
	return s.RespondComplete(ctx, v)
}

func (r *Router) summarize(ctx context.Context, s *session.Server, params []osrfmsg.Value) error {
	var summaries []domainSummary
	r.domains.Range(func(domain string, rd *Routerdomain) bool {
		summaries = append(summaries, rd.summarize())
		return true
	})
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Domain == r.cfg.Domain {
			return true
		}
		if summaries[j].Domain == r.cfg.Domain {
			return false
		}
		return summaries[i].Domain < summaries[j].Domain
	})

	v, err := osrfmsg.NewValue(summaries)
	if err != nil {
		return err
	}
	return s.RespondComplete(ctx, v)
}

// handleInternalRPC dispatches a REQUEST addressed to the router's own
// introspection service through the same handler-table/arity-check
// machinery worker.Worker uses, per the "same dispatch code path a
// regular service worker uses". CONNECT is rejected: entering a bounded
// in-session wait here would block the router's single main loop, so the
// introspection RPCs are reachable only as stateless, disconnected calls.
func (r *Router) handleInternalRPC(ctx context.Context, tm *osrfmsg.TransportMessage) {
	fromAddr, err := parseFrom(tm)
	if err != nil {
		r.log.Warn("router: %v", err)
		return
	}

	srv := session.NewServer(r.log, r.busConn, internalServiceName, tm.Thread, fromAddr)

	for _, m := range tm.Body {
		switch m.Type {
		case osrfmsg.TypeConnect:
			srv.BeginRequest(m.ThreadTrace, false)
			_ = srv.RespondError(ctx, fabricerr.CodeBadRequest, "opensrf.router does not support CONNECT")
		case osrfmsg.TypeDisconnect:
			return
		case osrfmsg.TypeRequest:
			r.dispatchInternal(ctx, srv, m)
		default:
			r.log.Warn("router: unexpected message type %s addressed to %s", m.Type, internalServiceName)
		}
	}
}

func (r *Router) dispatchInternal(ctx context.Context, srv *session.Server, m osrfmsg.Message) {
	call, ok := m.Payload.(osrfmsg.MethodCall)
	if !ok {
		return
	}

	srv.BeginRequest(m.ThreadTrace, false)

	reg, ok := r.infoHandlers[call.Method]
	if !ok {
		_ = srv.RespondError(ctx, fabricerr.CodeNotFound, "method %s not found", call.Method)
		return
	}
	if err := reg.Arity.Check(len(call.Params)); err != nil {
		_ = srv.RespondError(ctx, fabricerr.CodeBadRequest, "%s: %v", call.Method, err)
		return
	}
	if err := reg.Handler(ctx, srv, call.Params); err != nil {
		_ = srv.RespondError(ctx, fabricerr.CodeInternalServerErr, "%v", err)
		return
	}
	if !srv.RespondedComplete() {
		_ = srv.SendComplete(ctx)
	}
}
