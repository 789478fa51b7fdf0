// Package metrics exposes Prometheus metrics for pipeline stages.
package metrics

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdok/geopipe/processing"
)

type Config struct {
	Version string
}

type Provider struct {
	reg    *prometheus.Registry
	items  *prometheus.CounterVec
	errors *prometheus.CounterVec
	pulls  *prometheus.HistogramVec
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geopipe_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version"},
	)
	v := cfg.Version
	if v == "" {
		v = "dev"
	}
	build.WithLabelValues(v).Set(1)

	p := &Provider{
		reg: reg,
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geopipe_stage_items_total",
			Help: "Items yielded per pipeline stage.",
		}, []string{"stage"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geopipe_stage_errors_total",
			Help: "Failed pulls per pipeline stage.",
		}, []string{"stage"}),
		pulls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geopipe_stage_pull_seconds",
			Help:    "Time spent producing one item, upstream stages included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
	}
	reg.MustRegister(build, p.items, p.errors, p.pulls)
	return p
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

func (p *Provider) Gatherer() prometheus.Gatherer { return p.reg }

type instrumented[T any] struct {
	pipe   processing.Pipe[T]
	items  prometheus.Counter
	errors prometheus.Counter
	pulls  prometheus.Observer
}

// Instrument counts the items and errors of a stage. A nil provider returns
// pipe unchanged.
func Instrument[T any](p *Provider, stage string, pipe processing.Pipe[T]) processing.Pipe[T] {
	if p == nil {
		return pipe
	}
	i := &instrumented[T]{
		pipe:   pipe,
		items:  p.items.WithLabelValues(stage),
		errors: p.errors.WithLabelValues(stage),
		pulls:  p.pulls.WithLabelValues(stage),
	}
	if _, ok := pipe.(processing.Sized); ok {
		return &sizedInstrumented[T]{i}
	}
	return i
}

func (i *instrumented[T]) Next(ctx context.Context) (T, error) {
	start := time.Now()
	item, err := i.pipe.Next(ctx)
	switch {
	case err == nil:
		i.items.Inc()
		i.pulls.Observe(time.Since(start).Seconds())
	case !errors.Is(err, io.EOF):
		i.errors.Inc()
	}
	return item, err
}

type sizedInstrumented[T any] struct {
	*instrumented[T]
}

func (s *sizedInstrumented[T]) Len() int {
	return s.pipe.(processing.Sized).Len()
}
