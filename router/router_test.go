package router

import (
	"context"
	"io"
	"testing"

	"github.com/puzpuzpuz/xsync/v2"
	"github.com/stretchr/testify/require"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/metrics"
	"github.com/kcls/osrfgo/osrfmsg"
)

func testLogger() logger.Logger {
	return logger.NewConsoleLogger(logger.NewTextPrinter(io.Discard), func(int) {})
}

func newTestRouter(t *testing.T, broker *fakeBroker, cfg Config) *Router {
	t.Helper()
	self := addr.Router("router", cfg.Domain)
	collector := metrics.NewCollector(testLogger(), metrics.CollectorConfig{Enabled: false})
	r := &Router{
		log:     testLogger(),
		cfg:     cfg,
		self:    self,
		busConn: bus.NewClient(broker, self, cfg.Domain),
		metrics: collector.Scope(metrics.Tags{"domain": cfg.Domain}),
		domains: xsync.NewMapOf[*Routerdomain](),
	}
	r.infoHandlers = r.registerInfoHandlers()
	r.findOrCreateDomain(cfg.Domain)
	return r
}

func register(ctx context.Context, r *Router, service, fromAddr string) {
	tm := osrfmsg.NewTransportMessage(r.self.String(), fromAddr, "reg-thread")
	tm.RouterCommand = "register"
	tm.RouterClass = service
	r.handleEnvelope(ctx, tm)
}

func TestRouterRegisterThenRouteAPIRoundRobin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := newFakeBroker()
	cfg := Config{
		Domain:               "d",
		TrustedClientDomains: []string{"d"},
		TrustedServerDomains: []string{"d"},
	}
	r := newTestRouter(t, broker, cfg)

	workerA := addr.Client("svc", "d", "opensrf.settings")
	workerB := addr.Client("svc", "d", "opensrf.settings")
	register(ctx, r, "opensrf.settings", workerA.String())
	register(ctx, r, "opensrf.settings", workerB.String())

	client := addr.Client("user", "d", "opensrf.settings")
	req := osrfmsg.NewRequest(ctx, 1, "opensrf.system.echo", []osrfmsg.Value{mustVal(t, "hi")})

	for i, want := range []string{workerA.String(), workerB.String()} {
		tm := osrfmsg.NewTransportMessage(addr.BareService("opensrf.settings").String(), client.String(), "thread-1", req)
		r.handleEnvelope(ctx, tm)

		forwarded := broker.pop(t, want)
		require.NotNilf(t, forwarded, "round %d: expected a message queued at %s", i, want)
		require.Equal(t, want, forwarded.To)
		require.Equal(t, client.String(), forwarded.From)
	}
}

func TestRouterRegisterIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := newFakeBroker()
	cfg := Config{Domain: "d", TrustedServerDomains: []string{"d"}}
	r := newTestRouter(t, broker, cfg)

	workerAddr := addr.Client("svc", "d", "opensrf.settings")
	register(ctx, r, "opensrf.settings", workerAddr.String())
	register(ctx, r, "opensrf.settings", workerAddr.String())

	rd, ok := r.domains.Load("d")
	require.True(t, ok)
	se, ok := rd.find("opensrf.settings")
	require.True(t, ok)
	require.Equal(t, 1, se.size())
}

func TestRouterUnregisterRemovesInstance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := newFakeBroker()
	cfg := Config{
		Domain:               "d",
		TrustedClientDomains: []string{"d"},
		TrustedServerDomains: []string{"d"},
	}
	r := newTestRouter(t, broker, cfg)

	workerAddr := addr.Client("svc", "d", "opensrf.settings")
	register(ctx, r, "opensrf.settings", workerAddr.String())

	unreg := osrfmsg.NewTransportMessage(r.self.String(), workerAddr.String(), "unreg-thread")
	unreg.RouterCommand = "unregister"
	unreg.RouterClass = "opensrf.settings"
	r.handleEnvelope(ctx, unreg)

	client := addr.Client("user", "d", "opensrf.settings")
	tm := osrfmsg.NewTransportMessage(addr.BareService("opensrf.settings").String(), client.String(), "thread-2",
		osrfmsg.NewRequest(ctx, 1, "opensrf.system.echo", nil))
	r.handleEnvelope(ctx, tm)

	bounced := broker.pop(t, client.String())
	require.NotNil(t, bounced)
	status, ok := bounced.Body[0].Payload.(osrfmsg.Status)
	require.True(t, ok)
	require.Equal(t, fabricerr.CodeServiceNotFound, status.StatusCode)
}

func TestRouterServiceNotFoundBounces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := newFakeBroker()
	cfg := Config{Domain: "d", TrustedClientDomains: []string{"d"}}
	r := newTestRouter(t, broker, cfg)

	client := addr.Client("user", "d", "nope")
	tm := osrfmsg.NewTransportMessage(addr.BareService("nope").String(), client.String(), "thread-3",
		osrfmsg.NewRequest(ctx, 1, "nope.method", nil))
	r.handleEnvelope(ctx, tm)

	bounced := broker.pop(t, client.String())
	require.NotNil(t, bounced)
	status, ok := bounced.Body[0].Payload.(osrfmsg.Status)
	require.True(t, ok)
	require.Equal(t, fabricerr.CodeServiceNotFound, status.StatusCode)
	require.Contains(t, status.StatusLabel, "nope")
}

func TestRouterAPIFromUntrustedClientDomainBounces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := newFakeBroker()
	cfg := Config{Domain: "d", TrustedClientDomains: []string{"trusted-only"}}
	r := newTestRouter(t, broker, cfg)

	client := addr.Client("user", "untrusted", "opensrf.settings")
	tm := osrfmsg.NewTransportMessage(addr.BareService("opensrf.settings").String(), client.String(), "thread-4",
		osrfmsg.NewRequest(ctx, 1, "opensrf.system.echo", nil))
	r.handleEnvelope(ctx, tm)

	bounced := broker.pop(t, client.String())
	require.NotNil(t, bounced)
	status, ok := bounced.Body[0].Payload.(osrfmsg.Status)
	require.True(t, ok)
	require.Equal(t, fabricerr.CodeServiceNotFound, status.StatusCode)
}

func TestRouterRegisterFromUntrustedServerDomainRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := newFakeBroker()
	cfg := Config{Domain: "d", TrustedServerDomains: []string{"trusted-only"}}
	r := newTestRouter(t, broker, cfg)

	workerAddr := addr.Client("svc", "untrusted", "opensrf.settings")
	register(ctx, r, "opensrf.settings", workerAddr.String())

	rd, ok := r.domains.Load("untrusted")
	require.False(t, ok, "an untrusted domain's register must not create a Routerdomain")

	bounced := broker.pop(t, workerAddr.String())
	require.NotNil(t, bounced)
	status, ok := bounced.Body[0].Payload.(osrfmsg.Status)
	require.True(t, ok)
	require.Equal(t, fabricerr.CodeForbidden, status.StatusCode)
	_ = rd
}

func TestRouterInternalRPCClassList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := newFakeBroker()
	cfg := Config{Domain: "d", TrustedServerDomains: []string{"d"}}
	r := newTestRouter(t, broker, cfg)

	workerAddr := addr.Client("svc", "d", "opensrf.settings")
	register(ctx, r, "opensrf.settings", workerAddr.String())

	client := addr.Client("user", "d", "opensrf.router")
	req := osrfmsg.NewRequest(ctx, 1, "opensrf.router.info.class.list", nil)
	tm := osrfmsg.NewTransportMessage(addr.BareService(internalServiceName).String(), client.String(), "thread-5", req)
	r.handleEnvelope(ctx, tm)

	result := broker.pop(t, client.String())
	require.NotNil(t, result)
	payload, ok := result.Body[0].Payload.(osrfmsg.Result)
	require.True(t, ok)
	var names []string
	require.NoError(t, payload.Content.Decode(&names))
	require.Equal(t, []string{"opensrf.settings"}, names)

	complete := broker.pop(t, client.String())
	require.NotNil(t, complete)
	_, isStatus := complete.Body[0].Payload.(osrfmsg.Status)
	require.True(t, isStatus)
}

func TestRouterInternalRPCRejectsConnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := newFakeBroker()
	cfg := Config{Domain: "d"}
	r := newTestRouter(t, broker, cfg)

	client := addr.Client("user", "d", "opensrf.router")
	tm := osrfmsg.NewTransportMessage(addr.BareService(internalServiceName).String(), client.String(), "thread-6",
		osrfmsg.NewConnect(ctx, 1))
	r.handleEnvelope(ctx, tm)

	reply := broker.pop(t, client.String())
	require.NotNil(t, reply)
	status, ok := reply.Body[0].Payload.(osrfmsg.Status)
	require.True(t, ok)
	require.Equal(t, fabricerr.CodeBadRequest, status.StatusCode)
}
