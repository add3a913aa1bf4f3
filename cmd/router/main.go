// Command osrf-router runs one Router per configured bus domain: each
// domain gets its own independent, supervised task with its own primary
// bus connection. Grounded on
// cmd/agent/agent.go's urfave/cli.App construction, generalized from one
// subcommand-per-agent-action to a single default action (there is only
// one thing an osrf-router binary does: run).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/internal/cmdutil"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/metrics"
	"github.com/kcls/osrfgo/router"
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

	// Domains lists every bus domain this process routers for. Falls
	// back to OSRF_ROUTER_DOMAIN (comma-separated),
	// or to the domains named by --domains / a config file.
	Domains []string `cli:"domains" normalize:"list" validate:"required"`
	// Username is the bus username every router registers as.
	Username string `cli:"username"`

	TrustedClientDomains []string `cli:"trusted-client-domains" normalize:"list"`
	TrustedServerDomains []string `cli:"trusted-server-domains" normalize:"list"`

	PollInterval    time.Duration `cli:"poll-interval"`
	ConnectAttempts int           `cli:"connect-attempts"`

	StatusAddress string `cli:"status-address"`
}

func flags() []cli.Flag {
	return append(cmdutil.GlobalFlags(),
		cli.StringFlag{Name: "redis-addr", Value: "127.0.0.1:6379", Usage: "Redis broker address", EnvVar: "OSRF_REDIS_ADDR"},
		cli.StringFlag{Name: "redis-username", EnvVar: "OSRF_REDIS_USERNAME"},
		cli.StringFlag{Name: "redis-password", EnvVar: "OSRF_REDIS_PASSWORD"},
		cli.IntFlag{Name: "redis-db", EnvVar: "OSRF_REDIS_DB"},
		cli.BoolFlag{Name: "redis-tls", Usage: "Require TLS when dialing Redis", EnvVar: "OSRF_REDIS_TLS"},
		cli.StringSliceFlag{Name: "domains", Value: &cli.StringSlice{}, Usage: "Bus domains to route for", EnvVar: "OSRF_ROUTER_DOMAIN"},
		cli.StringFlag{Name: "username", Value: "router", Usage: "Bus username routers register as", EnvVar: "OSRF_ROUTER_USERNAME"},
		cli.StringSliceFlag{Name: "trusted-client-domains", Value: &cli.StringSlice{}, EnvVar: "OSRF_ROUTER_TRUSTED_CLIENT_DOMAINS"},
		cli.StringSliceFlag{Name: "trusted-server-domains", Value: &cli.StringSlice{}, EnvVar: "OSRF_ROUTER_TRUSTED_SERVER_DOMAINS"},
		cli.DurationFlag{Name: "poll-interval", Value: 5 * time.Second, Usage: "How often the router main loop polls for shutdown", EnvVar: "OSRF_ROUTER_POLL_INTERVAL"},
		cli.IntFlag{Name: "connect-attempts", Value: 5, Usage: "Retries when first connecting to the broker", EnvVar: "OSRF_ROUTER_CONNECT_ATTEMPTS"},
		cli.StringFlag{Name: "status-address", Value: ":9683", Usage: "Address for the /metrics server", EnvVar: "OSRF_ROUTER_STATUS_ADDRESS"},
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
	l.Notice("osrf-router %s starting, domains=%v", version.Version(), cfg.Domains)

	ctx, cancel := context.WithCancel(context.Background())

	redisCfg := bus.RedisConfig{
		Addr:       cfg.RedisAddr,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		TLSEnabled: cfg.RedisTLS,
	}

	collector := metrics.NewCollector(l, metrics.CollectorConfig{Enabled: true})
	startMetricsServer(l, cfg.StatusAddress)

	var wg sync.WaitGroup
	for _, domain := range cfg.Domains {
		domain := domain
		rcfg := router.Config{
			Username:             cfg.Username,
			Domain:               domain,
			TrustedClientDomains: cfg.TrustedClientDomains,
			TrustedServerDomains: cfg.TrustedServerDomains,
			PollInterval:         cfg.PollInterval,
			Redis:                redisCfg,
			ConnectAttempts:      cfg.ConnectAttempts,
			Metrics:              collector,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := router.RunSupervised(ctx, l, rcfg); err != nil {
				l.Error("router for domain %s exited: %v", domain, err)
			}
		}()
	}

	waitForShutdown(l, cancel)
	wg.Wait()
	l.Notice("osrf-router stopped")
	return nil
}

// startMetricsServer exposes route_count and registration-count Prometheus
// metrics on addr, mirroring gateway/pool's own /metrics endpoint.
func startMetricsServer(l logger.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		l.Notice("Starting router metrics server on %v", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			l.Error("Could not start router metrics server: %v", err)
		}
	}()
}

// waitForShutdown blocks until a terminal signal arrives, then cancels ctx
// so every supervised Router can wind down.
func waitForShutdown(l logger.Logger, cancel context.CancelFunc) {
	done := make(chan struct{})
	signalwatcher.Watch(func(sig signalwatcher.Signal) {
		l.Notice("received signal %s, shutting down", sig)
		cancel()
		close(done)
	})
	<-done
}

func main() {
	app := cli.NewApp()
	app.Name = "osrf-router"
	app.Version = version.Version()
	app.Usage = "Runs the per-domain OpenSRF-style router fabric"
	app.Flags = flags()
	app.Action = action
	app.ErrWriter = os.Stderr

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "osrf-router: %v\n", err)
		os.Exit(1)
	}
}
