package pools

import (
	"sync"
	"sync/atomic"
	"time"
)

// SmartPool is a typed object pool with warmup and statistics. The server
// uses it for per-turn execution contexts and per-connection state.
type SmartPool[T any] struct {
	pool      sync.Pool
	newFunc   func() T
	resetFunc func(T)

	// Statistics
	gets      atomic.Uint64
	puts      atomic.Uint64
	news      atomic.Uint64
	startTime time.Time
}

// SmartPoolConfig configures a smart pool
type SmartPoolConfig[T any] struct {
	New        func() T
	Reset      func(T) // called on Put
	WarmupSize int     // Number of objects to pre-allocate
}

// NewSmartPool creates a new smart pool with configuration
func NewSmartPool[T any](config SmartPoolConfig[T]) *SmartPool[T] {
	sp := &SmartPool[T]{
		newFunc:   config.New,
		resetFunc: config.Reset,
		startTime: time.Now(),
	}

	sp.pool.New = func() any {
		sp.news.Add(1)
		return config.New()
	}

	// Warmup: pre-allocate objects
	for i := 0; i < config.WarmupSize; i++ {
		sp.pool.Put(sp.newFunc())
	}

	return sp
}

// Get acquires an object from the pool
func (sp *SmartPool[T]) Get() T {
	sp.gets.Add(1)
	return sp.pool.Get().(T)
}

// Put resets obj and returns it to the pool
func (sp *SmartPool[T]) Put(obj T) {
	sp.puts.Add(1)
	if sp.resetFunc != nil {
		sp.resetFunc(obj)
	}
	sp.pool.Put(obj)
}

// Stats returns pool statistics
func (sp *SmartPool[T]) Stats() SmartPoolStats {
	gets := sp.gets.Load()
	puts := sp.puts.Load()
	news := sp.news.Load()

	hitRate := 0.0
	if gets > 0 && gets > news {
		// objects served from the pool vs newly created
		hitRate = float64(gets-news) / float64(gets)
	}

	return SmartPoolStats{
		Gets:    gets,
		Puts:    puts,
		News:    news,
		HitRate: hitRate,
		Uptime:  time.Since(sp.startTime),
	}
}

// SmartPoolStats contains smart pool statistics
type SmartPoolStats struct {
	Gets    uint64        `json:"gets"`
	Puts    uint64        `json:"puts"`
	News    uint64        `json:"news"`
	HitRate float64       `json:"hit_rate"`
	Uptime  time.Duration `json:"uptime"`
}
