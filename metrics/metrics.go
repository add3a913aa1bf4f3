// Package metrics exposes a small tagged-scope surface over Prometheus
// counters/histograms — the same Collector/Scope/Tags API the original
// DataDog-backed collector offered, so callers never needed to change when
// the backend did.
package metrics

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kcls/osrfgo/logger"
)

// CollectorConfig tunes metric emission.
type CollectorConfig struct {
	// Enabled turns metric emission on. When false, Scope methods are
	// no-ops.
	Enabled bool
	// Registerer receives every metric this collector creates. A nil
	// Registerer falls back to prometheus.DefaultRegisterer, so its
	// metrics land on the same /metrics endpoint a status server wires up
	// via promhttp.Handler().
	Registerer prometheus.Registerer
}

// Collector lazily registers one CounterVec/HistogramVec per distinct
// metric name the first time it's used, since Prometheus (unlike the
// original DataDog client) requires a fixed label schema declared up
// front rather than accepting free-form per-call tags. Every metric this
// package creates carries a single "tags" label holding the sorted
// key:value tag string, which is the adapter between the two models.
type Collector struct {
	cfg    CollectorConfig
	logger logger.Logger
	reg    prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

func NewCollector(l logger.Logger, c CollectorConfig) *Collector {
	reg := c.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Collector{
		cfg:        c,
		logger:     l,
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (c *Collector) Start() error {
	if c.cfg.Enabled {
		c.logger.Info("Starting Prometheus metrics collection")
	}
	return nil
}

func (c *Collector) Stop() error {
	if c.cfg.Enabled {
		c.logger.Info("Stopping metrics collection")
	}
	return nil
}

// Scope returns a Scope with tags pre-applied to every metric it emits.
func (c *Collector) Scope(tags Tags) *Scope {
	return &Scope{Tags: tags, c: c}
}

type Scope struct {
	Tags Tags
	c    *Collector
}

// With returns a scope with more tags added.
func (s *Scope) With(tags Tags) *Scope {
	return &Scope{Tags: s.mergeTags(tags), c: s.c}
}

// Timing observes value (in seconds) in a histogram named name.
func (s *Scope) Timing(name string, value time.Duration, tags ...Tags) {
	if !s.c.cfg.Enabled {
		return
	}
	merged := s.mergeTags(tags...)
	s.c.logger.Debug("Metrics timing %s=%v %v", name, value, merged.StringSlice())
	s.c.histogramFor(name).WithLabelValues(merged.String()).Observe(value.Seconds())
}

// Count adds value to a counter named name.
func (s *Scope) Count(name string, value int64, tags ...Tags) {
	if !s.c.cfg.Enabled {
		return
	}
	merged := s.mergeTags(tags...)
	s.c.logger.Debug("Metrics count %s=%v %v", name, value, merged.StringSlice())
	s.c.counterFor(name).WithLabelValues(merged.String()).Add(float64(value))
}

// Gauge sets a gauge named name to value, for point-in-time counts like
// current registrations or requests in flight, which (unlike Count's
// monotonic counters) can go up or down.
func (s *Scope) Gauge(name string, value float64, tags ...Tags) {
	if !s.c.cfg.Enabled {
		return
	}
	merged := s.mergeTags(tags...)
	s.c.logger.Debug("Metrics gauge %s=%v %v", name, value, merged.StringSlice())
	s.c.gaugeFor(name).WithLabelValues(merged.String()).Set(value)
}

func (s *Scope) mergeTags(tagsSlice ...Tags) Tags {
	merged := Tags{}
	for k, v := range s.Tags {
		merged[formatName(k)] = formatName(v)
	}
	for _, tags := range tagsSlice {
		for k, v := range tags {
			merged[formatName(k)] = formatName(v)
		}
	}
	return merged
}

func (c *Collector) counterFor(name string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cv, ok := c.counters[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName(name),
		Help: "osrfgo " + name + " counter",
	}, []string{"tags"})
	c.reg.MustRegister(cv)
	c.counters[name] = cv
	return cv
}

func (c *Collector) gaugeFor(name string) *prometheus.GaugeVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gv, ok := c.gauges[name]; ok {
		return gv
	}
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricName(name),
		Help: "osrfgo " + name + " gauge",
	}, []string{"tags"})
	c.reg.MustRegister(gv)
	c.gauges[name] = gv
	return gv
}

func (c *Collector) histogramFor(name string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hv, ok := c.histograms[name]; ok {
		return hv
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName(name),
		Help:    "osrfgo " + name + " timing seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"tags"})
	c.reg.MustRegister(hv)
	c.histograms[name] = hv
	return hv
}

// Tags is a free-form set of metric tags, merged and sanitized before
// being folded into the single "tags" label Prometheus metrics carry.
type Tags map[string]string

func (tags Tags) StringSlice() []string {
	var out []string
	for k, v := range tags {
		if k != "" && v != "" {
			out = append(out, formatName(k)+":"+formatName(v))
		}
	}
	sort.Strings(out)
	return out
}

func (tags Tags) String() string {
	return strings.Join(tags.StringSlice(), ",")
}

// Prometheus metric names allow only [a-zA-Z0-9_:]; tag values are
// similarly restricted here to keep the two in lockstep.
var nameRegex = regexp.MustCompile(`[^_a-zA-Z0-9]+`)

func formatName(name string) string {
	return nameRegex.ReplaceAllString(name, "_")
}

func metricName(name string) string {
	return "osrfgo_" + formatName(name)
}
