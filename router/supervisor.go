package router

import (
	"context"
	"time"

	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/retry"
)

// restartBackoff is how long RunSupervised waits before recreating a
// Router whose main loop exited with an unrecoverable broker error.
const restartBackoff = 3 * time.Second

// RunSupervised runs one Router for cfg, restarting it after restartBackoff
// on any unrecoverable error, until ctx is canceled. A clean (intentional)
// exit — ctx canceled, or Run returning nil — is not restarted. Grounded on
// agent/agent_pool.go's runWorker/errCh supervisor loop, generalized from
// "N parallel AgentWorkers" to "N parallel per-domain Router loops" (one
// call to RunSupervised per configured domain). The restart backoff comes
// from retry.Retrier, the same policy worker.RunSupervised uses at its own
// interval.
func RunSupervised(ctx context.Context, log logger.Logger, cfg Config) error {
	r := retry.NewRetrier(
		retry.TryForever(),
		retry.WithStrategy(retry.Constant(restartBackoff)),
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

		rt, err := New(log, cfg)
		if err != nil {
			r.Break()
			return err
		}

		err = rt.Run(ctx)
		if err == nil || ctx.Err() != nil {
			r.Break()
			return nil
		}

		log.Warn("router %s: %v; restarting in %s", cfg.Domain, err, restartBackoff)
		return err
	})
}
