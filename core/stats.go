package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/searchktools/flash/core/observability"
	"github.com/searchktools/flash/core/pools"
)

type engineCounters struct {
	accepted       atomic.Uint64
	rejected       atomic.Uint64
	closed         atomic.Uint64
	active         atomic.Int64
	requests       atomic.Uint64
	protocolErrors atomic.Uint64
	timeouts       atomic.Uint64
	handlerErrors  atomic.Uint64
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Connections ConnectionStats            `json:"connections"`
	Requests    RequestStats               `json:"requests"`
	Workers     pools.WorkerPoolStats      `json:"workers"`
	Contexts    pools.SmartPoolStats       `json:"context_pool"`
	Conns       pools.SmartPoolStats       `json:"conn_pool"`
	Routes      observability.Snapshot     `json:"routes"`
	Bottlenecks []observability.Bottleneck `json:"bottlenecks,omitempty"`
	Runtime     pools.GCStats              `json:"runtime"`
}

// ConnectionStats counts accepted connections.
type ConnectionStats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Closed   uint64 `json:"closed"`
	Active   int64  `json:"active"`
}

// RequestStats counts request turns.
type RequestStats struct {
	Served         uint64 `json:"served"`
	ProtocolErrors uint64 `json:"protocol_errors"`
	Timeouts       uint64 `json:"timeouts"`
	HandlerErrors  uint64 `json:"handler_errors"`
}

// Stats returns the current engine statistics.
func (e *Engine) Stats() Stats {
	stats := Stats{
		Connections: ConnectionStats{
			Accepted: e.stats.accepted.Load(),
			Rejected: e.stats.rejected.Load(),
			Closed:   e.stats.closed.Load(),
			Active:   e.stats.active.Load(),
		},
		Requests: RequestStats{
			Served:         e.stats.requests.Load(),
			ProtocolErrors: e.stats.protocolErrors.Load(),
			Timeouts:       e.stats.timeouts.Load(),
			HandlerErrors:  e.stats.handlerErrors.Load(),
		},
		Contexts: e.contextPool.Stats(),
		Conns:    e.connPool.Stats(),
		Routes:   e.monitor.Snapshot(),
		Runtime:  pools.GetGCStats(),
	}
	stats.Bottlenecks = e.monitor.Bottlenecks()

	e.mu.Lock()
	pool := e.workerPool
	e.mu.Unlock()
	if pool != nil {
		stats.Workers = pool.Stats()
	}
	return stats
}

// StatsJSON returns engine statistics as JSON string
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns engine statistics as human-readable text
func (e *Engine) StatsText() string {
	stats := e.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, `Server Statistics
=================

Connections:
  Accepted: %d
  Rejected: %d
  Active:   %d

Requests:
  Served:          %d
  Protocol errors: %d
  Timeouts:        %d
  Handler errors:  %d

Workers:
  %s

Context Pool:
  Gets:     %d
  Hit Rate: %.2f%%

Runtime:
  Goroutines: %d
  Heap:       %d bytes
  GC cycles:  %d (last pause %s)
`,
		stats.Connections.Accepted, stats.Connections.Rejected, stats.Connections.Active,
		stats.Requests.Served, stats.Requests.ProtocolErrors, stats.Requests.Timeouts, stats.Requests.HandlerErrors,
		stats.Workers,
		stats.Contexts.Gets, stats.Contexts.HitRate*100,
		stats.Runtime.NumGoroutine, stats.Runtime.AllocBytes, stats.Runtime.NumGC, stats.Runtime.LastPause,
	)

	if len(stats.Routes.Routes) > 0 {
		b.WriteString("\nRoutes:\n")
		for _, r := range stats.Routes.Routes {
			fmt.Fprintf(&b, "  %-32s count=%d errors=%d avg=%s max=%s\n", r.Route, r.Count, r.Errors, r.Avg, r.Max)
		}
	}
	if len(stats.Bottlenecks) > 0 {
		b.WriteString("\nBottlenecks:\n")
		for _, bn := range stats.Bottlenecks {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", bn.Type, bn.Location, bn.Details)
		}
	}
	return b.String()
}

// Monitor returns the per-route performance monitor.
func (e *Engine) Monitor() *observability.PerformanceMonitor {
	return e.monitor
}
