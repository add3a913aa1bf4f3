// Command osrf-http-gateway is the HTTP gateway edge: a
// single-request/single-response relay, GET or POST, with a bounded number
// of requests in flight at once. Grounded on cmd/router's
// own urfave/cli.App shape, and on gateway/http.Server for the relay
// itself; the env var naming (EG_HTTP_GATEWAY_*) follows the same
// per-binary-prefix convention original_source/evergreen/src/bin uses for
// its gateway binaries.
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
	gwhttp "github.com/kcls/osrfgo/gateway/http"
	"github.com/kcls/osrfgo/internal/cmdutil"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/pool"
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

	Domain          string `cli:"domain" validate:"required"`
	GatewayUsername string `cli:"gateway-username"`
	RouterUsername  string `cli:"router-username"`
	RouterDomain    string `cli:"router-domain" validate:"required"`

	ListenAddress string `cli:"listen-address"`
	Port          int    `cli:"port"`

	// MaxParallel bounds how many relayed requests may be in flight across
	// this process at once; excess requests block on a semaphore rather
	// than opening unbounded bus connections. Named after the max_parallel
	// knob every gateway binary exposes.
	MaxParallel int `cli:"max-parallel"`

	RequestTimeout time.Duration `cli:"request-timeout"`
}

func flags() []cli.Flag {
	return append(cmdutil.GlobalFlags(),
		cli.StringFlag{Name: "redis-addr", Value: "127.0.0.1:6379", EnvVar: "OSRF_REDIS_ADDR"},
		cli.StringFlag{Name: "redis-username", EnvVar: "OSRF_REDIS_USERNAME"},
		cli.StringFlag{Name: "redis-password", EnvVar: "OSRF_REDIS_PASSWORD"},
		cli.IntFlag{Name: "redis-db", EnvVar: "OSRF_REDIS_DB"},
		cli.BoolFlag{Name: "redis-tls", EnvVar: "OSRF_REDIS_TLS"},

		cli.StringFlag{Name: "domain", EnvVar: "EG_HTTP_GATEWAY_DOMAIN"},
		cli.StringFlag{Name: "gateway-username", Value: "http-gateway", EnvVar: "EG_HTTP_GATEWAY_USERNAME"},
		cli.StringFlag{Name: "router-username", Value: "router", EnvVar: "EG_HTTP_GATEWAY_ROUTER_USERNAME"},
		cli.StringFlag{Name: "router-domain", EnvVar: "EG_HTTP_GATEWAY_ROUTER_DOMAIN"},

		cli.StringFlag{Name: "listen-address", Value: "0.0.0.0", EnvVar: "EG_HTTP_GATEWAY_ADDRESS"},
		cli.IntFlag{Name: "port", Value: 7680, EnvVar: "EG_HTTP_GATEWAY_PORT"},
		cli.IntFlag{Name: "max-parallel", Value: 256, Usage: "Max relayed requests in flight at once", EnvVar: "EG_HTTP_GATEWAY_MAX_PARALLEL"},
		cli.DurationFlag{Name: "request-timeout", Value: gwhttp.DefaultRequestTimeout, EnvVar: "EG_HTTP_GATEWAY_REQUEST_TIMEOUT"},
	)
}

// throttle bounds concurrent in-flight requests to p's concurrency limit,
// giving every gateway binary the same request-concurrency knob even though
// gateway/http.Server itself has no pool concept.
func throttle(p *pool.Pool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := make(chan struct{})
		p.Spawn(func() {
			defer close(done)
			next.ServeHTTP(w, r)
		})
		<-done
	})
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
	l.Notice("osrf-http-gateway %s starting on %s:%d", version.Version(), cfg.ListenAddress, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// busCfg is a template: the server clones it with a fresh addr.Client
	// nonce and connects fresh for every relayed request, so concurrent
	// requests never share a reply queue.
	busCfg := bus.Config{
		Redis: bus.RedisConfig{
			Addr:       cfg.RedisAddr,
			Username:   cfg.RedisUsername,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			TLSEnabled: cfg.RedisTLS,
		},
		Domain: cfg.Domain,
		Self:   addr.Client(cfg.GatewayUsername, cfg.Domain, "http-gateway"),
	}

	srv := gwhttp.NewServer(l, busCfg, addr.Router(cfg.RouterUsername, cfg.RouterDomain), gwhttp.Config{
		RequestTimeout: cfg.RequestTimeout,
	})

	concurrencyLimit := cfg.MaxParallel
	if concurrencyLimit <= 0 {
		concurrencyLimit = pool.MaxConcurrencyLimit
	}

	listenAddr := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port)
	httpSrv := &http.Server{
		Addr:    listenAddr,
		Handler: throttle(pool.New(concurrencyLimit), srv.Router()),
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("http gateway: listening on %s", listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	waitForShutdownOrError(l, errCh, func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	})

	l.Notice("osrf-http-gateway stopped")
	return nil
}

// waitForShutdownOrError blocks until either a terminal signal arrives or
// the listener reports a fatal error, then runs stop to close the listener.
func waitForShutdownOrError(l logger.Logger, errCh <-chan error, stop func()) {
	sigDone := make(chan struct{})
	signalwatcher.Watch(func(sig signalwatcher.Signal) {
		l.Notice("received signal %s, shutting down", sig)
		close(sigDone)
	})

	select {
	case <-sigDone:
	case err := <-errCh:
		l.Error("http gateway: listener error: %v", err)
	}
	stop()
}

func main() {
	app := cli.NewApp()
	app.Name = "osrf-http-gateway"
	app.Version = version.Version()
	app.Usage = "Relays single-request/single-response HTTP calls into the fabric"
	app.Flags = flags()
	app.Action = action
	app.ErrWriter = os.Stderr

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "osrf-http-gateway: %v\n", err)
		os.Exit(1)
	}
}
