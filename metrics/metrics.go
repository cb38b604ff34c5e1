// Package metrics is a small Counter/Gauge/Timer/Registry instrumentation
// layer, shaped after the teacher's own github.com/ethereum/go-ethereum/
// metrics package (see metrics/counter_test.go, metrics/gauge_test.go,
// metrics/timer_test.go, metrics/registry_test.go in the retrieval pack),
// used for the §4.4 Observables: query duration, cache statistics, upload
// duration. None of these are part of the correctness contract — a nil
// Registry silently drops every update.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically-adjustable named integer.
type Counter interface {
	Inc(delta int64)
	Snapshot() int64
}

type counter struct{ v int64 }

func (c *counter) Inc(delta int64)  { atomic.AddInt64(&c.v, delta) }
func (c *counter) Snapshot() int64 { return atomic.LoadInt64(&c.v) }

// Gauge holds the most recently set value.
type Gauge interface {
	Update(v int64)
	Snapshot() int64
}

type gauge struct{ v int64 }

func (g *gauge) Update(v int64)   { atomic.StoreInt64(&g.v, v) }
func (g *gauge) Snapshot() int64 { return atomic.LoadInt64(&g.v) }

// Timer records a stream of durations and reports count and total.
type Timer interface {
	Update(d time.Duration)
	Snapshot() (count int64, total time.Duration)
}

type timer struct {
	mu    sync.Mutex
	count int64
	total time.Duration
}

func (t *timer) Update(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.total += d
}

func (t *timer) Snapshot() (int64, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count, t.total
}

// Registry is a named set of Counters, Gauges and Timers, analogous to the
// teacher's metrics.Registry.
type Registry struct {
	mu       sync.Mutex
	counters map[string]Counter
	gauges   map[string]Gauge
	timers   map[string]Timer
}

// NewRegistry returns an empty Registry. A nil *Registry is valid and every
// method on it is a safe no-op, so components can take a *Registry
// parameter and callers that don't care about metrics can pass nil.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]Counter),
		gauges:   make(map[string]Gauge),
		timers:   make(map[string]Timer),
	}
}

// GetOrRegisterCounter returns the named counter, creating it on first use.
func (r *Registry) GetOrRegisterCounter(name string) Counter {
	if r == nil {
		return &counter{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &counter{}
	r.counters[name] = c
	return c
}

// GetOrRegisterGauge returns the named gauge, creating it on first use.
func (r *Registry) GetOrRegisterGauge(name string) Gauge {
	if r == nil {
		return &gauge{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &gauge{}
	r.gauges[name] = g
	return g
}

// GetOrRegisterTimer returns the named timer, creating it on first use.
func (r *Registry) GetOrRegisterTimer(name string) Timer {
	if r == nil {
		return &timer{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[name]; ok {
		return t
	}
	t := &timer{}
	r.timers[name] = t
	return t
}

// Each calls f once per registered counter, gauge and timer, under the
// registry lock. Used by the Prometheus exporter to snapshot everything
// atomically with respect to concurrent registrations.
func (r *Registry) Each(f func(name string, metric any)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.counters {
		f(name, c)
	}
	for name, g := range r.gauges {
		f(name, g)
	}
	for name, t := range r.timers {
		f(name, t)
	}
}
