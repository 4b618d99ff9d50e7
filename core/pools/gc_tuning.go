package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig holds GC tuning parameters applied at server start
type GCConfig struct {
	// GCPercent sets the garbage collection target percentage.
	// 0 leaves the runtime default.
	GCPercent int

	// MemoryLimit sets the soft memory limit in bytes. 0 = no limit.
	MemoryLimit int64
}

// ApplyGCConfig applies GC tuning and returns the previous GC percent.
func ApplyGCConfig(cfg GCConfig) int {
	prev := -1
	if cfg.GCPercent > 0 {
		prev = debug.SetGCPercent(cfg.GCPercent)
	}

	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	return prev
}

// GCStats holds garbage collection statistics
type GCStats struct {
	NumGC        uint32        `json:"num_gc"`
	LastPause    time.Duration `json:"last_pause"`
	AllocBytes   uint64        `json:"alloc_bytes"`
	Sys          uint64        `json:"sys_bytes"`
	NumGoroutine int           `json:"goroutines"`
}

// GetGCStats returns current GC statistics
func GetGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		AllocBytes:   ms.Alloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}
	if ms.NumGC > 0 {
		stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
	}

	return stats
}
