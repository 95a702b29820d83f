// Package telemetry provides structured logging and metrics emission for the
// mediation engine, following the same progressive-disclosure shape as the
// framework's original telemetry module: a handful of package-level functions
// cover almost every call site, with a Registry underneath doing the real work.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/learnobot/mediation/core"
)

// Config configures the metrics side of telemetry.
type Config struct {
	ServiceName       string
	CardinalityLimits map[string]int // per-label cap; defaults applied if nil
}

var (
	globalRegistry atomic.Value // *Registry
	initOnce       sync.Once
)

// Registry owns the OTel meter and the cardinality limiter guarding it.
type Registry struct {
	meter    metric.Meter
	limiter  *CardinalityLimiter
	logger   *TelemetryLogger
	counters sync.Map // name -> metric.Float64Counter
	hists    sync.Map // name -> metric.Float64Histogram
	gauges   sync.Map // name -> metric.Float64Gauge

	emitted  atomic.Int64
	dropped  atomic.Int64
}

// Initialize wires up the global registry. Safe to call multiple times;
// only the first call takes effect, matching the framework's singleton pattern.
func Initialize(cfg Config) error {
	var initErr error
	initOnce.Do(func() {
		if cfg.ServiceName == "" {
			cfg.ServiceName = "learnobot-mediation"
		}
		exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
		if err != nil {
			initErr = fmt.Errorf("telemetry: create stdout exporter: %w", err)
			return
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(60*time.Second))),
		)
		otel.SetMeterProvider(provider)

		limits := cfg.CardinalityLimits
		if limits == nil {
			limits = map[string]int{
				"session_id": 10000,
				"provider":   50,
				"strategy":   20,
				"error_type": 50,
			}
		}

		r := &Registry{
			meter:   provider.Meter(cfg.ServiceName),
			limiter: NewCardinalityLimiter(limits),
			logger:  NewTelemetryLogger(cfg.ServiceName),
		}
		globalRegistry.Store(r)
		r.logger.EnableMetrics()

		// Register the decoupled bridge so core components (logger included)
		// can emit framework metrics without importing this package.
		core.SetMetricsRegistry(&frameworkBridge{r: r})
	})
	return initErr
}

// frameworkBridge adapts Registry to core.MetricsRegistry so that
// core.ProductionLogger and friends can emit metrics without a direct
// dependency on the telemetry package (avoids an import cycle).
type frameworkBridge struct{ r *Registry }

func (b *frameworkBridge) Counter(name string, labels ...string) {
	Counter(name, labels...)
}

func (b *frameworkBridge) Histogram(name string, value float64, labels ...string) {
	Histogram(name, value, labels...)
}

func (b *frameworkBridge) Gauge(name string, value float64, labels ...string) {
	Gauge(name, value, labels...)
}

func (b *frameworkBridge) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	baggage := b.GetBaggage(ctx)
	for k, v := range baggage {
		labels = append(labels, "trace_"+k, v)
	}
	Counter(name, labels...)
}

func (b *frameworkBridge) GetBaggage(ctx context.Context) map[string]string {
	return Baggage(ctx)
}

type baggageKey struct{}

// WithBaggage attaches request-correlation fields (e.g. request_id, session_id)
// to a context so ProductionLogger can surface them alongside JSON log lines.
func WithBaggage(ctx context.Context, fields map[string]string) context.Context {
	return context.WithValue(ctx, baggageKey{}, fields)
}

// Baggage reads back the fields attached by WithBaggage, or an empty map.
func Baggage(ctx context.Context) map[string]string {
	if v, ok := ctx.Value(baggageKey{}).(map[string]string); ok {
		return v
	}
	return map[string]string{}
}

func (r *Registry) counter(name string) metric.Float64Counter {
	if c, ok := r.counters.Load(name); ok {
		return c.(metric.Float64Counter)
	}
	c, err := r.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	actual, _ := r.counters.LoadOrStore(name, c)
	return actual.(metric.Float64Counter)
}

func (r *Registry) histogram(name string) metric.Float64Histogram {
	if h, ok := r.hists.Load(name); ok {
		return h.(metric.Float64Histogram)
	}
	h, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	actual, _ := r.hists.LoadOrStore(name, h)
	return actual.(metric.Float64Histogram)
}

func (r *Registry) gauge(name string) metric.Float64Gauge {
	if g, ok := r.gauges.Load(name); ok {
		return g.(metric.Float64Gauge)
	}
	g, err := r.meter.Float64Gauge(name)
	if err != nil {
		return nil
	}
	actual, _ := r.gauges.LoadOrStore(name, g)
	return actual.(metric.Float64Gauge)
}

func (r *Registry) attrs(name string, labels map[string]string) []labelPair {
	out := make([]labelPair, 0, len(labels))
	for k, v := range labels {
		if r.limiter != nil {
			v = r.limiter.CheckAndLimit(name, k, v)
		}
		out = append(out, labelPair{k, v})
	}
	return out
}

type labelPair struct{ key, value string }

func toOtel(pairs []labelPair) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(pairs))
	for i, p := range pairs {
		out[i] = attribute.String(p.key, p.value)
	}
	return out
}

// Counter increments a counter metric by 1. Example:
// Counter("turns.total", "mode", "practice", "strategy", "guided_reading").
func Counter(name string, labels ...string) {
	r := current()
	if r == nil {
		return
	}
	c := r.counter(name)
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(toOtel(r.attrs(name, parseLabels(labels...)))...))
	r.emitted.Add(1)
}

// Histogram records a distribution value, e.g. provider call latency in ms.
func Histogram(name string, value float64, labels ...string) {
	r := current()
	if r == nil {
		return
	}
	h := r.histogram(name)
	if h == nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toOtel(r.attrs(name, parseLabels(labels...)))...))
	r.emitted.Add(1)
}

// Gauge records a point-in-time value, e.g. active session count.
func Gauge(name string, value float64, labels ...string) {
	r := current()
	if r == nil {
		return
	}
	g := r.gauge(name)
	if g == nil {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(toOtel(r.attrs(name, parseLabels(labels...)))...))
	r.emitted.Add(1)
}

// Duration is a convenience wrapper recording milliseconds elapsed since start.
func Duration(name string, start time.Time, labels ...string) {
	Histogram(name, float64(time.Since(start).Milliseconds()), labels...)
}

// RecordError increments name with an error_type label, for uniform error metrics.
func RecordError(name, errorType string, labels ...string) {
	Counter(name, append(append([]string{}, labels...), "error_type", errorType)...)
}

func current() *Registry {
	v := globalRegistry.Load()
	if v == nil {
		return nil
	}
	return v.(*Registry)
}

func parseLabels(labels ...string) map[string]string {
	m := make(map[string]string, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		m[labels[i]] = labels[i+1]
	}
	return m
}

// Shutdown flushes and disables the global registry.
func Shutdown(ctx context.Context) error {
	r := current()
	if r == nil {
		return nil
	}
	core.SetMetricsRegistry(nil)
	globalRegistry.Store((*Registry)(nil))
	if mp, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider); ok {
		return mp.ForceFlush(ctx)
	}
	return nil
}
