// Package router implements the per-domain dispatcher: API routing to
// registered service instances, register/unregister command handling, and
// the opensrf.router.info.* introspection RPCs.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/metrics"
	"github.com/kcls/osrfgo/osrfmsg"
	"github.com/kcls/osrfgo/worker"
)

// Config describes one domain's router task.
type Config struct {
	// Username is the bus username the router registers as, conventionally
	// "router".
	Username string
	// Domain is the bus domain this router owns as its primary domain.
	Domain string

	// TrustedClientDomains lists domains permitted to route API calls
	// through this router.
	TrustedClientDomains []string
	// TrustedServerDomains lists domains permitted to register service
	// instances with this router, and to receive forwarded traffic.
	TrustedServerDomains []string

	// PollInterval bounds each recv on the router's own address, so
	// signals can be observed between polls. Spec default ~5s.
	PollInterval time.Duration

	Redis           bus.RedisConfig
	ConnectAttempts int

	// Metrics publishes route_count and per-domain registration counts as
	// Prometheus gauges/counters. A nil Metrics disables emission, so
	// RunSupervised's restart loop is safe to call New repeatedly without
	// re-registering collectors — pass one explicit Collector, built once,
	// to actually publish.
	Metrics *metrics.Collector
}

// Router is the per-domain dispatcher: one primary bus connection plus a
// concurrent table of every domain (this one and any remote domain a
// service has registered from) it knows how to route to.
type Router struct {
	log  logger.Logger
	cfg  Config
	self addr.Address

	busConn *bus.Client
	metrics *metrics.Scope

	domains      *xsync.MapOf[string, *Routerdomain]
	infoHandlers map[string]worker.Registration

	domainOrderMu sync.Mutex
	domainOrder   []string // remote domains only, in registration order
}

// New builds a Router for cfg. It does not open a bus connection; Run does
// that, so the supervisor loop (see supervisor.go) can reconnect a fresh
// Router on broker failure without New itself needing retry logic.
func New(log logger.Logger, cfg Config) (*Router, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("router: config missing domain")
	}
	username := cfg.Username
	if username == "" {
		username = "router"
		cfg.Username = username
	}

	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector(log, metrics.CollectorConfig{Enabled: false})
	}

	r := &Router{
		log:     log,
		cfg:     cfg,
		self:    addr.Router(username, cfg.Domain),
		metrics: collector.Scope(metrics.Tags{"domain": cfg.Domain}),
		domains: xsync.NewMapOf[*Routerdomain](),
	}
	r.infoHandlers = r.registerInfoHandlers()
	return r, nil
}

// Run connects to the primary domain's broker and services it until ctx is
// canceled (clean exit, nil error) or an unrecoverable broker error occurs
// (non-nil error, for the supervisor to restart).
func (r *Router) Run(ctx context.Context) error {
	busConn, err := bus.Connect(ctx, bus.Config{
		Redis:           r.cfg.Redis,
		Domain:          r.cfg.Domain,
		Self:            r.self,
		ConnectAttempts: r.cfg.ConnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("router: connect domain %s: %w", r.cfg.Domain, err)
	}
	r.busConn = busConn
	defer busConn.Close()

	// The primary Routerdomain always exists and is never removed.
	r.findOrCreateDomain(r.cfg.Domain)

	poll := r.cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tm, err := busConn.Recv(ctx, poll, nil)
		if err != nil {
			return fabricerr.Transport("router.run", err)
		}
		if tm == nil {
			continue
		}
		r.handleEnvelope(ctx, tm)
	}
}

// handleEnvelope classifies one incoming envelope by its recipient address,
// main-loop classification.
func (r *Router) handleEnvelope(ctx context.Context, tm *osrfmsg.TransportMessage) {
	to, err := addr.Parse(tm.To)
	if err != nil {
		r.log.Warn("router: malformed recipient %q: %v", tm.To, err)
		return
	}

	switch {
	case to.IsRouter():
		r.handleCommand(ctx, tm)
	case to.IsService() && to.Service == internalServiceName:
		r.handleInternalRPC(ctx, tm)
	case to.IsService():
		r.routeAPI(ctx, tm, to)
	default:
		r.log.Warn("router: protocol error: recipient %q is neither router nor service", tm.To)
	}
}

// routeAPI implements API routing: the recipient
// names a service (bare or domain-qualified); this picks the next instance
// by round robin, preferring the primary domain, and bounces
// STATUS=ServiceNotFound when nothing is registered anywhere.
func (r *Router) routeAPI(ctx context.Context, tm *osrfmsg.TransportMessage, to addr.Address) {
	fromAddr, err := parseFrom(tm)
	if err != nil {
		r.log.Warn("router: %v", err)
		return
	}
	if !contains(r.cfg.TrustedClientDomains, fromAddr.Domain) {
		r.bounce(ctx, tm, fabricerr.CodeServiceNotFound, "Service %s not found", to.Service)
		return
	}

	primary, _ := r.domains.Load(r.cfg.Domain)
	if primary != nil {
		if se, ok := primary.find(to.Service); ok {
			if inst, ok := se.pick(); ok {
				// Step 2 of primary-domain API routing: increment route
				// counters before forwarding.
				primary.recordRoute()
				r.metrics.Count("route_count", 1, metrics.Tags{"service": to.Service})
				r.forward(ctx, tm, r.busConn, inst)
				return
			}
		}
	}

	for _, domain := range r.remoteDomainOrder() {
		if !contains(r.cfg.TrustedServerDomains, domain) {
			continue
		}
		rd, ok := r.domains.Load(domain)
		if !ok {
			continue
		}
		se, ok := rd.find(to.Service)
		if !ok {
			continue
		}
		inst, ok := se.pick()
		if !ok {
			continue
		}
		domainConn, err := r.busConn.DomainBus(ctx, domain)
		if err != nil {
			r.log.Warn("router: connecting to domain %s: %v", domain, err)
			continue
		}
		rd.recordRoute()
		r.metrics.Count("route_count", 1, metrics.Tags{"service": to.Service, "remote_domain": domain})
		r.forward(ctx, tm, domainConn, inst)
		return
	}

	r.bounce(ctx, tm, fabricerr.CodeServiceNotFound, "Service %s not found", to.Service)
}

// forward rewrites tm.To to the chosen instance's address and sends it on
// conn, the bus connection for whichever domain hosts that instance.
func (r *Router) forward(ctx context.Context, tm *osrfmsg.TransportMessage, conn *bus.Client, inst ServiceInstance) {
	tm.To = inst.Address
	if err := conn.SendRaw(ctx, inst.Address, tm); err != nil {
		r.log.Warn("router: forwarding to %s: %v", inst.Address, err)
	}
}

// handleCommand implements the router commands: register/unregister
// against the sender's RouterClass/domain.
func (r *Router) handleCommand(ctx context.Context, tm *osrfmsg.TransportMessage) {
	fromAddr, err := parseFrom(tm)
	if err != nil {
		r.log.Warn("router: %v", err)
		return
	}
	service := tm.RouterClass

	switch tm.RouterCommand {
	case "register":
		if !contains(r.cfg.TrustedServerDomains, fromAddr.Domain) {
			r.log.Warn("router: rejecting register from untrusted domain %s", fromAddr.Domain)
			r.bounce(ctx, tm, fabricerr.CodeForbidden, "domain %s is not a trusted server domain", fromAddr.Domain)
			return
		}
		if service == "" {
			r.bounce(ctx, tm, fabricerr.CodeBadRequest, "register command missing router_class")
			return
		}
		rd := r.findOrCreateDomain(fromAddr.Domain)
		se := rd.findOrCreate(service)
		if se.add(tm.From) {
			r.log.Debug("router: registered %s for %s on domain %s", tm.From, service, fromAddr.Domain)
			r.metrics.Gauge("registrations", float64(se.size()), metrics.Tags{"service": service, "registrant_domain": fromAddr.Domain})
		}
		// No reply on success, per the original fabric's register command.

	case "unregister":
		if service == "" {
			return
		}
		rd, ok := r.domains.Load(fromAddr.Domain)
		if !ok {
			return
		}
		se, ok := rd.find(service)
		if !ok {
			return
		}
		if se.remove(tm.From) {
			r.metrics.Gauge("registrations", float64(se.size()), metrics.Tags{"service": service, "registrant_domain": fromAddr.Domain})
			domainEmpty := rd.dropIfEmpty(service)
			if domainEmpty && fromAddr.Domain != r.cfg.Domain {
				r.domains.Delete(fromAddr.Domain)
				r.removeRemoteDomain(fromAddr.Domain)
			}
		}

	default:
		r.bounce(ctx, tm, fabricerr.CodeBadRequest, "unknown router_command %q", tm.RouterCommand)
	}
}

// findOrCreateDomain returns the Routerdomain for domain, creating it (and
// recording remote-domain registration order) on first use.
func (r *Router) findOrCreateDomain(domain string) *Routerdomain {
	if rd, ok := r.domains.Load(domain); ok {
		return rd
	}

	r.domainOrderMu.Lock()
	defer r.domainOrderMu.Unlock()

	if rd, ok := r.domains.Load(domain); ok {
		return rd
	}
	rd := newRouterdomain(domain)
	r.domains.Store(domain, rd)
	if domain != r.cfg.Domain {
		r.domainOrder = append(r.domainOrder, domain)
	}
	return rd
}

func (r *Router) remoteDomainOrder() []string {
	r.domainOrderMu.Lock()
	defer r.domainOrderMu.Unlock()
	out := make([]string, len(r.domainOrder))
	copy(out, r.domainOrder)
	return out
}

func (r *Router) removeRemoteDomain(domain string) {
	r.domainOrderMu.Lock()
	defer r.domainOrderMu.Unlock()
	for i, d := range r.domainOrder {
		if d == domain {
			r.domainOrder = append(r.domainOrder[:i], r.domainOrder[i+1:]...)
			return
		}
	}
}

// bounce synthesizes a STATUS reply for tm's sender. A bounce always goes
// out on the router's own primary connection: the sender reached the
// router by publishing to this same broker, so its reply queue is
// reachable here too, without needing a
// secondary DomainBus dial (that cost is paid only by a successful forward
// to a worker instance that lives on another domain's broker).
func (r *Router) bounce(ctx context.Context, tm *osrfmsg.TransportMessage, code fabricerr.Code, format string, args ...any) {
	fromAddr, err := parseFrom(tm)
	if err != nil {
		r.log.Warn("router: %v", err)
		return
	}
	msg := fabricerr.New(code, format, args...)
	reply := osrfmsg.NewTransportMessage(tm.From, r.self.String(), tm.Thread,
		osrfmsg.NewStatus(ctx, traceOf(tm), code, msg.Message))

	if err := r.busConn.SendTo(ctx, fromAddr, reply); err != nil {
		r.log.Warn("router: bouncing to %s: %v", tm.From, err)
	}
}

func parseFrom(tm *osrfmsg.TransportMessage) (addr.Address, error) {
	a, err := addr.Parse(tm.From)
	if err != nil {
		return addr.Address{}, fmt.Errorf("malformed sender %q: %w", tm.From, err)
	}
	return a, nil
}

// traceOf returns the thread_trace to stamp a synthesized reply with,
// taken from the first body message if any.
func traceOf(tm *osrfmsg.TransportMessage) int {
	if len(tm.Body) == 0 {
		return 0
	}
	return tm.Body[0].ThreadTrace
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
