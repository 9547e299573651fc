// Package metrics renders a small set of collectors in the Prometheus text format.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	writePrometheus(*strings.Builder)
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{
		collectors: map[string]collector{},
	}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		name := item.name()
		if _, exists := r.collectors[name]; exists {
			panic("metrics collector already registered: " + name)
		}
		r.collectors[name] = item
	}
}

// Render writes every collector, sorted by name.
func (r *Registry) Render() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	collectors := make([]collector, 0, len(names))
	for _, name := range names {
		collectors = append(collectors, r.collectors[name])
	}
	r.mu.RUnlock()

	var sb strings.Builder
	for _, c := range collectors {
		c.writePrometheus(&sb)
	}
	return sb.String()
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

// RegisterRuntime adds process uptime and goroutine gauges.
func RegisterRuntime(r *Registry) {
	start := time.Now()
	r.MustRegister(
		NewGaugeFunc(Opts{Name: "process_uptime_seconds", Help: "Seconds since process start."}, func() float64 {
			return time.Since(start).Seconds()
		}),
		NewGaugeFunc(Opts{Name: "go_goroutines", Help: "Number of goroutines."}, func() float64 {
			return float64(runtime.NumGoroutine())
		}),
	)
}

type Gauge struct {
	opts  Opts
	mu    sync.RWMutex
	value float64
}

func NewGauge(opts Opts) *Gauge {
	return &Gauge{opts: opts}
}

func (g *Gauge) name() string { return g.opts.Name }

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

func (g *Gauge) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	fmt.Fprintf(sb, "%s %s\n", g.opts.Name, floatToString(g.Value()))
}

type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) name() string { return g.opts.Name }

func (g *GaugeFunc) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	v := 0.0
	if g.fn != nil {
		v = g.fn()
	}
	fmt.Fprintf(sb, "%s %s\n", g.opts.Name, floatToString(v))
}

// series holds labelled values shared by the vector collectors.
type series struct {
	labelNames []string

	mu     sync.RWMutex
	values map[string]float64
}

func (s *series) init(labelNames []string) {
	s.labelNames = make([]string, len(labelNames))
	copy(s.labelNames, labelNames)
	s.values = map[string]float64{}
}

func (s *series) update(labelValues []string, fn func(float64) float64) {
	if len(labelValues) != len(s.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")
	s.mu.Lock()
	s.values[key] = fn(s.values[key])
	s.mu.Unlock()
}

func (s *series) get(labelValues []string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[strings.Join(labelValues, "\xff")]
}

func (s *series) write(sb *strings.Builder, name string) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	values := make(map[string]float64, len(keys))
	for _, key := range keys {
		values[key] = s.values[key]
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	for _, key := range keys {
		labelValues := strings.Split(key, "\xff")
		sb.WriteString(name)
		if len(s.labelNames) > 0 {
			sb.WriteString("{")
			for idx, labelName := range s.labelNames {
				if idx > 0 {
					sb.WriteString(",")
				}
				sb.WriteString(labelName)
				sb.WriteString(`="`)
				sb.WriteString(escapeLabelValue(labelValues[idx]))
				sb.WriteString(`"`)
			}
			sb.WriteString("}")
		}
		sb.WriteString(" ")
		sb.WriteString(floatToString(values[key]))
		sb.WriteString("\n")
	}
}

type CounterVec struct {
	opts Opts
	series
}

func NewCounterVec(opts Opts, labelNames []string) *CounterVec {
	c := &CounterVec{opts: opts}
	c.init(labelNames)
	return c
}

func (c *CounterVec) name() string { return c.opts.Name }

func (c *CounterVec) WithLabelValues(values ...string) *Counter {
	return &Counter{parent: c, labelValues: values}
}

func (c *CounterVec) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, c.opts.Name, "counter", c.opts.Help)
	c.write(sb, c.opts.Name)
}

type Counter struct {
	parent      *CounterVec
	labelValues []string
}

func (c *Counter) Add(v float64) {
	if c == nil || c.parent == nil || v < 0 {
		return
	}
	c.parent.update(c.labelValues, func(old float64) float64 { return old + v })
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Value() float64 {
	if c == nil || c.parent == nil {
		return 0
	}
	return c.parent.get(c.labelValues)
}

// GaugeVec is a gauge per label set, e.g. one series per connection state.
type GaugeVec struct {
	opts Opts
	series
}

func NewGaugeVec(opts Opts, labelNames []string) *GaugeVec {
	g := &GaugeVec{opts: opts}
	g.init(labelNames)
	return g
}

func (g *GaugeVec) name() string { return g.opts.Name }

func (g *GaugeVec) Set(v float64, labelValues ...string) {
	g.update(labelValues, func(float64) float64 { return v })
}

func (g *GaugeVec) Value(labelValues ...string) float64 {
	return g.get(labelValues)
}

func (g *GaugeVec) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	g.write(sb, g.opts.Name)
}

func writeMetricHead(sb *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, metricType)
}

func floatToString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}
