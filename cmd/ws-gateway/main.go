// Command osrf-ws-gateway is the WebSocket gateway edge: an accept loop
// bridging browser WS connections to the fabric bus through a size-bounded
// worker pool. Env var names
// (EG_WEBSOCKETS_*) are grounded on
// original_source/evergreen/src/bin/websockets.rs's own main(), which this
// binary's flag/env surface mirrors.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/gateway/pool"
	"github.com/kcls/osrfgo/gateway/ws"
	"github.com/kcls/osrfgo/internal/cmdutil"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/signalwatcher"
	"github.com/kcls/osrfgo/version"
)

// Config is this binary's full flag/env/config-file surface.
type Config struct {
	cmdutil.GlobalConfig

	RedisAddr     string `cli:"redis-addr" validate:"required"`
	RedisUsername string `cli:"redis-username"`
	RedisPassword string `cli:"redis-password"`
	RedisDB       int    `cli:"redis-db"`
	RedisTLS      bool   `cli:"redis-tls"`

	Domain           string `cli:"domain" validate:"required"`
	GatewayUsername  string `cli:"gateway-username"`
	RouterUsername   string `cli:"router-username"`
	RouterDomain     string `cli:"router-domain" validate:"required"`

	ListenAddress string `cli:"listen-address"`
	Port          int    `cli:"port"`
	StatusAddress string `cli:"status-address"`

	MinWorkers           int `cli:"min-workers"`
	MaxWorkers           int `cli:"max-workers"`
	MaxRequestsPerWorker int `cli:"max-requests-per-worker"`
	MaxParallel          int `cli:"max-parallel"`

	PollInterval time.Duration `cli:"poll-interval"`
}

func flags() []cli.Flag {
	return append(cmdutil.GlobalFlags(),
		cli.StringFlag{Name: "redis-addr", Value: "127.0.0.1:6379", EnvVar: "OSRF_REDIS_ADDR"},
		cli.StringFlag{Name: "redis-username", EnvVar: "OSRF_REDIS_USERNAME"},
		cli.StringFlag{Name: "redis-password", EnvVar: "OSRF_REDIS_PASSWORD"},
		cli.IntFlag{Name: "redis-db", EnvVar: "OSRF_REDIS_DB"},
		cli.BoolFlag{Name: "redis-tls", EnvVar: "OSRF_REDIS_TLS"},

		cli.StringFlag{Name: "domain", EnvVar: "EG_WEBSOCKETS_DOMAIN"},
		cli.StringFlag{Name: "gateway-username", Value: "ws-gateway", EnvVar: "EG_WEBSOCKETS_USERNAME"},
		cli.StringFlag{Name: "router-username", Value: "router", EnvVar: "EG_WEBSOCKETS_ROUTER_USERNAME"},
		cli.StringFlag{Name: "router-domain", EnvVar: "EG_WEBSOCKETS_ROUTER_DOMAIN"},

		cli.StringFlag{Name: "listen-address", Value: "0.0.0.0", EnvVar: "EG_WEBSOCKETS_ADDRESS"},
		cli.IntFlag{Name: "port", Value: 7682, EnvVar: "EG_WEBSOCKETS_PORT"},
		cli.StringFlag{Name: "status-address", Value: ":9682", Usage: "Address for the health/metrics/status server", EnvVar: "EG_WEBSOCKETS_STATUS_ADDRESS"},

		cli.IntFlag{Name: "min-workers", Value: pool.DefaultMinWorkers, EnvVar: "EG_WEBSOCKETS_MIN_WORKERS"},
		cli.IntFlag{Name: "max-workers", Value: pool.DefaultMaxWorkers, EnvVar: "EG_WEBSOCKETS_MAX_WORKERS"},
		cli.IntFlag{Name: "max-requests-per-worker", Usage: "Max sessions per pool worker before it retires", EnvVar: "EG_WEBSOCKETS_MAX_REQUESTS"},
		cli.IntFlag{Name: "max-parallel", Value: ws.DefaultMaxParallel, Usage: "Max in-flight fabric requests per WS session", EnvVar: "EG_WEBSOCKETS_MAX_PARALLEL"},

		cli.DurationFlag{Name: "poll-interval", Value: ws.DefaultPollInterval, EnvVar: "EG_WEBSOCKETS_POLL_INTERVAL"},
	)
}

func action(c *cli.Context) error {
	cfg, warnings, err := cmdutil.LoadConfig[Config](c)
	if err != nil {
		return err
	}

	l := cmdutil.CreateLogger(cfg.GlobalConfig)
	for _, w := range warnings {
		l.Warn("%s", w)
	}
	l.Notice("osrf-ws-gateway %s starting on %s:%d", version.Version(), cfg.ListenAddress, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := pool.New(l, pool.Config{
		MinWorkers:           cfg.MinWorkers,
		MaxWorkers:           cfg.MaxWorkers,
		MaxRequestsPerWorker: cfg.MaxRequestsPerWorker,
	})
	p.Start(ctx)
	p.StartStatusServer(ctx, l, cfg.StatusAddress)

	acceptor := pool.NewAcceptor(l, p, pool.AcceptorConfig{
		BusConfig: bus.Config{
			Redis: bus.RedisConfig{
				Addr:       cfg.RedisAddr,
				Username:   cfg.RedisUsername,
				Password:   cfg.RedisPassword,
				DB:         cfg.RedisDB,
				TLSEnabled: cfg.RedisTLS,
			},
			Domain: cfg.Domain,
			Self:   addr.Client(cfg.GatewayUsername, cfg.Domain, "ws-gateway"),
		},
		RouterAddr: addr.Router(cfg.RouterUsername, cfg.RouterDomain),
		Session: ws.Config{
			MaxParallel:  cfg.MaxParallel,
			PollInterval: cfg.PollInterval,
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/osrf-websocket-translator", acceptor)

	listenAddr := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port)
	srv := &http.Server{Addr: listenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		l.Info("ws gateway: listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	waitForShutdownOrError(l, cancel, errCh, func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	p.Wait()
	l.Notice("osrf-ws-gateway stopped")
	return nil
}

// waitForShutdownOrError blocks until either a terminal signal arrives or
// the listener reports a fatal error, then runs stop (closing the HTTP
// listener) and cancels ctx so in-flight sessions observe the shutdown
// flag at their next poll.
func waitForShutdownOrError(l logger.Logger, cancel context.CancelFunc, errCh <-chan error, stop func()) {
	sigDone := make(chan struct{})
	signalwatcher.Watch(func(sig signalwatcher.Signal) {
		l.Notice("received signal %s, shutting down", sig)
		close(sigDone)
	})

	select {
	case <-sigDone:
	case err := <-errCh:
		l.Error("ws gateway: listener error: %v", err)
	}
	stop()
	cancel()
}

func main() {
	app := cli.NewApp()
	app.Name = "osrf-ws-gateway"
	app.Version = version.Version()
	app.Usage = "Bridges browser WebSocket clients to the OpenSRF-style fabric"
	app.Flags = flags()
	app.Action = action
	app.ErrWriter = os.Stderr

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "osrf-ws-gateway: %v\n", err)
		os.Exit(1)
	}
}
