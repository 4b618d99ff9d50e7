// Package observability records per-route request metrics.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PerformanceMonitor aggregates request metrics per route with atomics; it
// is safe for concurrent use by every worker.
type PerformanceMonitor struct {
	enabled  atomic.Bool
	handlers sync.Map // route key -> *HandlerMetrics
	global   struct {
		totalRequests atomic.Uint64
		totalErrors   atomic.Uint64
		totalDuration atomic.Uint64
	}
}

// latency bucket upper bounds in milliseconds; the last bucket is open
var bucketBounds = [...]uint64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}

// HandlerMetrics stores per-route metrics
type HandlerMetrics struct {
	Name           string
	Count          atomic.Uint64
	Errors         atomic.Uint64
	TotalDuration  atomic.Uint64
	MinDuration    atomic.Uint64
	MaxDuration    atomic.Uint64
	latencyBuckets [len(bucketBounds) + 1]atomic.Uint64
}

// Bottleneck represents a performance issue
type Bottleneck struct {
	Type     string `json:"type"`
	Location string `json:"location"`
	Severity int    `json:"severity"`
	Details  string `json:"details"`
}

// NewPerformanceMonitor creates a monitor
func NewPerformanceMonitor() *PerformanceMonitor {
	pm := &PerformanceMonitor{}
	pm.enabled.Store(true)
	return pm
}

// SetEnabled turns recording on or off.
func (pm *PerformanceMonitor) SetEnabled(on bool) {
	pm.enabled.Store(on)
}

// RecordRequest records one finished request for route.
func (pm *PerformanceMonitor) RecordRequest(route string, duration time.Duration, isError bool) {
	if !pm.enabled.Load() {
		return
	}

	val, ok := pm.handlers.Load(route)
	if !ok {
		val, _ = pm.handlers.LoadOrStore(route, &HandlerMetrics{Name: route})
	}
	metrics := val.(*HandlerMetrics)

	metrics.Count.Add(1)
	if isError {
		metrics.Errors.Add(1)
		pm.global.totalErrors.Add(1)
	}

	durationNs := uint64(duration.Nanoseconds())
	metrics.TotalDuration.Add(durationNs)
	updateMinMax(metrics, durationNs)
	metrics.latencyBuckets[bucketFor(durationNs)].Add(1)

	pm.global.totalRequests.Add(1)
	pm.global.totalDuration.Add(durationNs)
}

func updateMinMax(m *HandlerMetrics, d uint64) {
	for {
		min := m.MinDuration.Load()
		if min != 0 && d >= min {
			break
		}
		if m.MinDuration.CompareAndSwap(min, d) {
			break
		}
	}
	for {
		max := m.MaxDuration.Load()
		if d <= max {
			break
		}
		if m.MaxDuration.CompareAndSwap(max, d) {
			break
		}
	}
}

func bucketFor(durationNs uint64) int {
	ms := durationNs / uint64(time.Millisecond)
	for i, bound := range bucketBounds {
		if ms < bound {
			return i
		}
	}
	return len(bucketBounds)
}

// RouteSnapshot is a point-in-time copy of one route's metrics.
type RouteSnapshot struct {
	Route   string        `json:"route"`
	Count   uint64        `json:"count"`
	Errors  uint64        `json:"errors"`
	Avg     time.Duration `json:"avg"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Buckets []uint64      `json:"latency_buckets_ms"`
}

// Snapshot contains totals and per-route metrics sorted by route.
type Snapshot struct {
	Requests uint64          `json:"requests"`
	Errors   uint64          `json:"errors"`
	Avg      time.Duration   `json:"avg"`
	Routes   []RouteSnapshot `json:"routes"`
}

// Snapshot copies the current metrics.
func (pm *PerformanceMonitor) Snapshot() Snapshot {
	s := Snapshot{
		Requests: pm.global.totalRequests.Load(),
		Errors:   pm.global.totalErrors.Load(),
	}
	if s.Requests > 0 {
		s.Avg = time.Duration(pm.global.totalDuration.Load() / s.Requests)
	}

	pm.handlers.Range(func(_, value any) bool {
		m := value.(*HandlerMetrics)
		rs := RouteSnapshot{
			Route:  m.Name,
			Count:  m.Count.Load(),
			Errors: m.Errors.Load(),
			Min:    time.Duration(m.MinDuration.Load()),
			Max:    time.Duration(m.MaxDuration.Load()),
		}
		if rs.Count > 0 {
			rs.Avg = time.Duration(m.TotalDuration.Load() / rs.Count)
		}
		rs.Buckets = make([]uint64, len(m.latencyBuckets))
		for i := range m.latencyBuckets {
			rs.Buckets[i] = m.latencyBuckets[i].Load()
		}
		s.Routes = append(s.Routes, rs)
		return true
	})
	sort.Slice(s.Routes, func(i, j int) bool { return s.Routes[i].Route < s.Routes[j].Route })
	return s
}

// Bottlenecks lists routes with high average latency or error rate.
func (pm *PerformanceMonitor) Bottlenecks() []Bottleneck {
	var bottlenecks []Bottleneck

	for _, r := range pm.Snapshot().Routes {
		if r.Count == 0 {
			continue
		}

		// High latency
		if r.Avg > 100*time.Millisecond {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:     "latency",
				Location: r.Route,
				Severity: 8,
				Details:  fmt.Sprintf("High latency (%v avg)", r.Avg),
			})
		}

		// High error rate
		if rate := float64(r.Errors) / float64(r.Count); r.Errors > 0 && rate > 0.05 {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:     "errors",
				Location: r.Route,
				Severity: 10,
				Details:  fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}

	return bottlenecks
}
