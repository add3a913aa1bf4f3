package pool

import (
	"context"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/status"
)

// StartStatusServer starts the pool's health/status/metrics server: a plain
// net/http.ServeMux serving a liveness root, a Prometheus /metrics endpoint,
// the generic status.Handle page, and a JSON summary of pool occupancy.
func (p *Pool) StartStatusServer(ctx context.Context, l logger.Logger, addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/", healthHandler(l))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", status.Handle)
	mux.HandleFunc("/status.json", p.statusJSONHandler(l))

	go func() {
		_, setStatus, done := status.AddSimpleItem(ctx, "Gateway pool health check server")
		defer done()
		setStatus("👂 Listening")

		l.Notice("Starting HTTP health check server on %v", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			l.Error("Could not start health check server: %v", err)
		}
	}()
}

func (p *Pool) statusJSONHandler(l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := json.NewEncoder(w).Encode(struct {
			Health        string `json:"health"`
			ActiveWorkers int    `json:"active_workers"`
			MinWorkers    int    `json:"min_workers"`
			MaxWorkers    int    `json:"max_workers"`
			QueueDepth    int    `json:"queue_depth"`
		}{
			Health:        "ok",
			ActiveWorkers: p.ActiveWorkers(),
			MinWorkers:    p.cfg.MinWorkers,
			MaxWorkers:    p.cfg.MaxWorkers,
			QueueDepth:    len(p.jobs),
		})
		if err != nil {
			l.Error("Could not encode status.json response: %v", err)
		}
	}
}

func healthHandler(l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l.Debug("gateway pool health check: %s %s", r.Method, r.URL.Path)
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("OK: osrfgo gateway pool is running"))
	}
}
