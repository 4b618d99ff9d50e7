package pools

import (
	"runtime/debug"
	"testing"
)

type item struct {
	n int
}

func TestSmartPool(t *testing.T) {
	resets := 0
	pool := NewSmartPool(SmartPoolConfig[*item]{
		New:        func() *item { return &item{} },
		Reset:      func(it *item) { it.n = 0; resets++ },
		WarmupSize: 2,
	})

	it := pool.Get()
	it.n = 7
	pool.Put(it)

	if resets != 1 {
		t.Errorf("Expected Reset on Put, got %d calls", resets)
	}
	if got := pool.Get(); got.n != 0 {
		t.Errorf("Pooled object should be reset, got n=%d", got.n)
	}

	stats := pool.Stats()
	if stats.Gets != 2 || stats.Puts != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestBytePool(t *testing.T) {
	bp := NewBytePool()

	buf := bp.Get(1000)
	if cap(*buf) != 2048 {
		t.Errorf("Expected the 2048 tier, got cap %d", cap(*buf))
	}
	bp.Put(buf)

	big := bp.Get(100000)
	if len(*big) != 100000 {
		t.Errorf("Expected direct allocation of 100000, got %d", len(*big))
	}
	bp.Put(big)
	bp.Put(nil)
}

func TestApplyGCConfig(t *testing.T) {
	prev := ApplyGCConfig(GCConfig{GCPercent: 150})
	defer debug.SetGCPercent(prev)

	if got := debug.SetGCPercent(150); got != 150 {
		t.Errorf("Expected GC percent 150, got %d", got)
	}
	if stats := GetGCStats(); stats.NumGoroutine == 0 {
		t.Error("Expected goroutine count")
	}
}

// BenchmarkBytePool 字节池基准测试
func BenchmarkBytePool(b *testing.B) {
	bp := NewBytePool()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := bp.Get(4096)
		bp.Put(buf)
	}
}
