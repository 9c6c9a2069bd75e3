package observability

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusFactory is a MetricFactory backed by a Prometheus registerer.
// Dotted metric names become underscore-separated; counters gain the
// conventional _total suffix.
type PrometheusFactory struct {
	reg     prometheus.Registerer
	buckets []float64

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

// PrometheusOption configures a PrometheusFactory.
type PrometheusOption func(*PrometheusFactory)

// WithBuckets sets the histogram buckets. Defaults to exponential buckets
// suited to token base-unit amounts.
func WithBuckets(buckets []float64) PrometheusOption {
	return func(f *PrometheusFactory) {
		f.buckets = buckets
	}
}

// NewPrometheusFactory creates a factory registering its metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusFactory(reg prometheus.Registerer, opts ...PrometheusOption) *PrometheusFactory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := &PrometheusFactory{
		reg:        reg,
		buckets:    prometheus.ExponentialBuckets(1, 10, 24),
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Counter implements MetricFactory. Repeated names return the same counter.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricName(name) + "_total",
		Help: "Count of " + name + " events.",
	})
	f.counters[name] = register(f.reg, c)
	return f.counters[name]
}

// Histogram implements MetricFactory. Repeated names return the same histogram.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricName(name),
		Help:    "Distribution of " + name + ".",
		Buckets: f.buckets,
	})
	f.histograms[name] = register(f.reg, h)
	return f.histograms[name]
}

// register adds c to reg, reusing a collector another factory already
// registered under the same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
