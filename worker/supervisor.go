package worker

import (
	"context"
	"time"

	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/retry"
)

// reconnectBackoff is how long RunSupervised waits before reconnecting a
// Worker whose Run loop exited with a broker error. A var, not a const, so
// tests can shrink it.
var reconnectBackoff = 1 * time.Second

// busConnect is overridden in tests to dial an in-memory broker instead of
// Redis.
var busConnect = bus.Connect

// RunSupervised connects busCfg and runs a Worker for service until ctx is
// canceled, reconnecting after reconnectBackoff whenever the broker
// connection fails: exit the current loop, sleep a bounded backoff,
// reconnect, continue. A clean exit (ctx canceled, or Run returning nil —
// MaxRequests reached) is not retried. Mirrors router.RunSupervised's
// restart loop at the worker's own ~1s interval, and is where the worker
// side of a transient Redis hiccup gets the same resilience the router
// side already had.
func RunSupervised(ctx context.Context, log logger.Logger, busCfg bus.Config, service string, handlers map[string]Registration, cfg Config) error {
	r := retry.NewRetrier(
		retry.TryForever(),
		retry.WithStrategy(retry.Constant(reconnectBackoff)),
		retry.WithSleepFunc(func(d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		}),
	)

	return r.Do(func(r *retry.Retrier) error {
		if ctx.Err() != nil {
			r.Break()
			return nil
		}

		busConn, err := busConnect(ctx, busCfg)
		if err != nil {
			log.Warn("worker %s: connect: %v; reconnecting in %s", service, err, reconnectBackoff)
			return err
		}
		defer busConn.Close()

		w := New(log, busConn, service, handlers, cfg)
		err = w.Run(ctx)
		if err == nil || ctx.Err() != nil {
			r.Break()
			return nil
		}

		log.Warn("worker %s: %v; reconnecting in %s", service, err, reconnectBackoff)
		return err
	})
}
