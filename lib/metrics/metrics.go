// Package metrics provides simple metrics collection for the gateway daemon.
// Supports Prometheus exposition format for monitoring integration.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencyBuckets are histogram buckets, in seconds, suited to
// network round trips between a few milliseconds and tens of seconds.
var DefaultLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// metric is implemented by every exposable metric family.
type metric interface {
	writeTo(w io.Writer)
}

func writeHeader(w io.Writer, name, help, typ string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value uint64
	name  string
	help  string
}

// NewCounter creates and registers a counter.
func NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	defaultRegistry.register(name, c)
	return c
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) writeTo(w io.Writer) {
	writeHeader(w, c.name, c.help, "counter")
	fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value int64
	name  string
	help  string
}

// NewGauge creates and registers a gauge.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{name: name, help: help}
	defaultRegistry.register(name, g)
	return g
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// SetBool sets the gauge to 1 for true and 0 for false.
func (g *Gauge) SetBool(v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

func (g *Gauge) writeTo(w io.Writer) {
	writeHeader(w, g.name, g.help, "gauge")
	fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
}

// labelEscaper escapes label values per the exposition format.
var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// vec is a family of children partitioned by the value of one label.
type vec[T any] struct {
	name     string
	help     string
	label    string
	mu       sync.RWMutex
	children map[string]*T
}

func (v *vec[T]) with(value string, mk func() *T) *T {
	v.mu.RLock()
	child, ok := v.children[value]
	v.mu.RUnlock()
	if ok {
		return child
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if child, ok := v.children[value]; ok {
		return child
	}
	child = mk()
	v.children[value] = child
	return child
}

func (v *vec[T]) delete(value string) {
	v.mu.Lock()
	delete(v.children, value)
	v.mu.Unlock()
}

// each visits children in label order.
func (v *vec[T]) each(fn func(value string, child *T)) {
	v.mu.RLock()
	values := make([]string, 0, len(v.children))
	for value := range v.children {
		values = append(values, value)
	}
	v.mu.RUnlock()
	sort.Strings(values)

	for _, value := range values {
		v.mu.RLock()
		child, ok := v.children[value]
		v.mu.RUnlock()
		if ok {
			fn(value, child)
		}
	}
}

func (v *vec[T]) series(value string) string {
	return fmt.Sprintf(`%s{%s="%s"}`, v.name, v.label, labelEscaper.Replace(value))
}

// CounterVec is a counter per label value, e.g. failures per gateway.
type CounterVec struct {
	vec[Counter]
}

// NewCounterVec creates and registers a counter family keyed by label.
func NewCounterVec(name, help, label string) *CounterVec {
	cv := &CounterVec{vec[Counter]{name: name, help: help, label: label, children: make(map[string]*Counter)}}
	defaultRegistry.register(name, cv)
	return cv
}

// With returns the counter for a label value, creating it on first use.
func (cv *CounterVec) With(value string) *Counter {
	return cv.with(value, func() *Counter { return &Counter{name: cv.name} })
}

// Delete drops the series for a label value.
func (cv *CounterVec) Delete(value string) {
	cv.delete(value)
}

func (cv *CounterVec) writeTo(w io.Writer) {
	writeHeader(w, cv.name, cv.help, "counter")
	cv.each(func(value string, c *Counter) {
		fmt.Fprintf(w, "%s %d\n", cv.series(value), c.Value())
	})
}

// GaugeVec is a gauge per label value, e.g. liveness per gateway.
type GaugeVec struct {
	vec[Gauge]
}

// NewGaugeVec creates and registers a gauge family keyed by label.
func NewGaugeVec(name, help, label string) *GaugeVec {
	gv := &GaugeVec{vec[Gauge]{name: name, help: help, label: label, children: make(map[string]*Gauge)}}
	defaultRegistry.register(name, gv)
	return gv
}

// With returns the gauge for a label value, creating it on first use.
func (gv *GaugeVec) With(value string) *Gauge {
	return gv.with(value, func() *Gauge { return &Gauge{name: gv.name} })
}

// Delete drops the series for a label value.
func (gv *GaugeVec) Delete(value string) {
	gv.delete(value)
}

func (gv *GaugeVec) writeTo(w io.Writer) {
	writeHeader(w, gv.name, gv.help, "gauge")
	gv.each(func(value string, g *Gauge) {
		fmt.Fprintf(w, "%s %d\n", gv.series(value), g.Value())
	})
}

// Histogram tracks the distribution of values.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// NewHistogram creates and registers a histogram with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	defaultRegistry.register(name, h)
	return h
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) writeTo(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	writeHeader(w, h.name, h.help, "histogram")
	for i, b := range h.buckets {
		fmt.Fprintf(w, "%s_bucket{le=\"%g\"} %d\n", h.name, b, h.counts[i])
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(w, "%s_sum %g\n", h.name, h.sum)
	fmt.Fprintf(w, "%s_count %d\n", h.name, h.count)
}

// Timer measures the duration of an operation into a histogram.
type Timer struct {
	h     *Histogram
	start time.Time
}

// NewTimer starts a timer that reports to h.
func NewTimer(h *Histogram) *Timer {
	return &Timer{h: h, start: time.Now()}
}

// ObserveDuration records the elapsed time in seconds and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	if t.h != nil {
		t.h.Observe(d.Seconds())
	}
	return d
}

// Registry holds metric families by name.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// defaultRegistry is the global metric registry.
var defaultRegistry = &Registry{
	metrics: make(map[string]metric),
}

// register adds m under name. A later registration with the same name wins.
func (r *Registry) register(name string, m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = m
}

// Expose returns all metrics in Prometheus exposition format, sorted by name.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		r.metrics[name].writeTo(&sb)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Handler returns an http.Handler that exposes the default registry.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		io.WriteString(w, defaultRegistry.Expose())
	})
}

// Daemon-wide metrics
var (
	GatewaysConfigured = NewGauge("gatewayd_gateways_configured", "Number of gateways in the configuration")
	GatewaysOnline     = NewGauge("gatewayd_gateways_online", "Number of gateways that answered the last poll")
	GatewayUp          = NewGaugeVec("gatewayd_gateway_up", "Whether the gateway answered its last poll (1) or not (0)", "gateway")

	PollRoundsTotal = NewCounter("gatewayd_poll_rounds_total", "Total poll rounds completed")
	PollFailures    = NewCounterVec("gatewayd_poll_failures_total", "Failed gateway polls", "gateway")
	PollLatency     = NewHistogram("gatewayd_poll_duration_seconds", "Time spent polling a single gateway", DefaultLatencyBuckets)

	RPCCallsTotal       = NewCounter("gatewayd_rpc_calls_total", "Total on-demand gateway RPC calls")
	RateLimitRejections = NewCounter("gatewayd_ratelimit_rejections_total", "Total requests rejected by rate limiting")

	StartTime = NewGauge("gatewayd_start_time_seconds", "Unix timestamp when the daemon started")
)

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
