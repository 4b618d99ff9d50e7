package pools

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrQueueFull is returned by TrySubmit when every queue slot is taken.
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task represents a unit of work
type Task func()

// WorkerPool runs tasks on a fixed set of goroutines fed from one bounded
// FIFO queue. A panicking task is recovered and reported; the worker keeps
// running.
type WorkerPool struct {
	numWorkers int
	tasks      chan Task

	// guards send on tasks against Close
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	onPanic func(v any)

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksRejected  atomic.Uint64
		tasksPanicked  atomic.Uint64
		busy           atomic.Int64
	}
}

// WorkerPoolConfig configures a pool.
type WorkerPoolConfig struct {
	Workers   int       // defaults to runtime.NumCPU()
	QueueSize int       // defaults to Workers * 64
	OnPanic   func(any) // observes recovered task panics
}

// NewWorkerPool creates a pool with numWorkers workers and the default queue
func NewWorkerPool(numWorkers int) *WorkerPool {
	return NewWorkerPoolWithConfig(WorkerPoolConfig{Workers: numWorkers})
}

// NewWorkerPoolWithConfig creates and starts a pool.
func NewWorkerPoolWithConfig(cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 64
	}

	pool := &WorkerPool{
		numWorkers: cfg.Workers,
		tasks:      make(chan Task, cfg.QueueSize),
		onPanic:    cfg.OnPanic,
	}

	pool.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go pool.worker()
	}

	return pool
}

// Submit enqueues task, blocking while the queue is full until a slot frees
// up or ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.WithStack(ErrPoolClosed)
	}

	select {
	case p.tasks <- task:
		p.stats.tasksSubmitted.Add(1)
		return nil
	default:
	}

	select {
	case p.tasks <- task:
		p.stats.tasksSubmitted.Add(1)
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "submit")
	}
}

// TrySubmit enqueues task without blocking. It fails with ErrQueueFull when
// no slot is free.
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.WithStack(ErrPoolClosed)
	}

	select {
	case p.tasks <- task:
		p.stats.tasksSubmitted.Add(1)
		return nil
	default:
		p.stats.tasksRejected.Add(1)
		return errors.WithStack(ErrQueueFull)
	}
}

// worker is the main loop for a worker goroutine
func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *WorkerPool) run(task Task) {
	p.stats.busy.Add(1)
	defer func() {
		p.stats.busy.Add(-1)
		p.stats.tasksCompleted.Add(1)
		if v := recover(); v != nil {
			p.stats.tasksPanicked.Add(1)
			if p.onPanic != nil {
				p.onPanic(v)
			}
		}
	}()
	task()
}

// Close stops accepting tasks, lets the workers drain the queue and waits
// for them to exit. A Submit blocked on a full queue holds Close back until
// it returns.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return // Already closed
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// Closed reports whether Close has been called.
func (p *WorkerPool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		QueueCapacity:  cap(p.tasks),
		QueueLength:    len(p.tasks),
		BusyWorkers:    int(p.stats.busy.Load()),
		TasksSubmitted: p.stats.tasksSubmitted.Load(),
		TasksCompleted: p.stats.tasksCompleted.Load(),
		TasksRejected:  p.stats.tasksRejected.Load(),
		TasksPanicked:  p.stats.tasksPanicked.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"workers"`
	QueueCapacity  int    `json:"queue_capacity"`
	QueueLength    int    `json:"queue_length"`
	BusyWorkers    int    `json:"busy_workers"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksRejected  uint64 `json:"tasks_rejected"`
	TasksPanicked  uint64 `json:"tasks_panicked"`
}

func (s WorkerPoolStats) String() string {
	return fmt.Sprintf("workers=%d busy=%d queue=%d/%d submitted=%d completed=%d rejected=%d",
		s.NumWorkers, s.BusyWorkers, s.QueueLength, s.QueueCapacity,
		s.TasksSubmitted, s.TasksCompleted, s.TasksRejected)
}
