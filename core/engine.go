package core

import (
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/searchktools/flash/config"
	"github.com/searchktools/flash/core/http"
	"github.com/searchktools/flash/core/middleware"
	"github.com/searchktools/flash/core/observability"
	"github.com/searchktools/flash/core/pools"
	"github.com/searchktools/flash/core/router"
)

// Engine is an HTTP/1.1 server: a listener feeding accepted connections to a
// fixed pool of workers, each running one connection's keep-alive loop at a
// time through the route table and middleware executor.
type Engine struct {
	cfg    config.Config
	log    zerolog.Logger
	server string

	table    *router.Table
	leading  []http.Handler
	trailing []http.Handler
	notFound []http.Handler
	executor *middleware.Executor
	monitor  *observability.PerformanceMonitor
	onError  func(err error, req *http.Request)

	// Fine-grained memory pools
	contextPool *pools.SmartPool[*http.Context]
	connPool    *pools.SmartPool[*conn]
	bytePool    *pools.BytePool
	workerPool  *pools.WorkerPool

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	listener   net.Listener
	conns      map[*conn]struct{}
	inShutdown atomic.Bool

	date  atomic.Pointer[cachedDate]
	stats engineCounters

	// 503 writers in flight; past rejectLimit connections are dropped
	rejecting   atomic.Int64
	rejectLimit int64

	logSet bool
}

type cachedDate struct {
	sec   int64
	value string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig copies cfg into the engine.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.cfg = *cfg
	}
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = logger
		e.logSet = true
	}
}

// WithServerName overrides the Server header value.
func WithServerName(name string) Option {
	return func(e *Engine) {
		e.server = name
	}
}

// NewEngine creates a new engine instance
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		cfg:      *config.Default(),
		server:   ServerName,
		table:    router.NewTable(),
		executor: middleware.NewExecutor(),
		monitor:  observability.NewPerformanceMonitor(),
		bytePool: pools.NewBytePool(),
		conns:    make(map[*conn]struct{}),

		rejectLimit: maxRejecting,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.logSet {
		e.log = e.cfg.NewLogger(os.Stderr)
	}
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	e.executor.OnError = e.reportError

	e.contextPool = pools.NewSmartPool(pools.SmartPoolConfig[*http.Context]{
		New:        func() *http.Context { return &http.Context{} },
		Reset:      func(c *http.Context) { c.Reset() },
		WarmupSize: e.cfg.Workers,
	})
	e.connPool = pools.NewSmartPool(pools.SmartPoolConfig[*conn]{
		New:   func() *conn { return newConn(e) },
		Reset: func(c *conn) { c.reset() },
	})
	return e
}

// Logger returns the engine logger.
func (e *Engine) Logger() zerolog.Logger {
	return e.log
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Handle registers handlers for method and pattern. Each handler may be an
// http.Handler, an http.ErrorHandler or a function accepted by http.Adapt.
func (e *Engine) Handle(method http.Method, pattern string, handlers ...any) error {
	hs, err := adaptAll(handlers)
	if err != nil {
		return &router.ConfigurationError{Method: method, Pattern: pattern, Reason: err.Error()}
	}
	return e.table.Register(method, pattern, hs...)
}

func (e *Engine) mustHandle(method http.Method, pattern string, handlers []any) {
	if err := e.Handle(method, pattern, handlers...); err != nil {
		panic(err)
	}
}

// GET registers a GET route. It panics on invalid registrations.
func (e *Engine) GET(pattern string, handlers ...any) {
	e.mustHandle(http.MethodGet, pattern, handlers)
}

// POST registers a POST route.
func (e *Engine) POST(pattern string, handlers ...any) {
	e.mustHandle(http.MethodPost, pattern, handlers)
}

// PUT registers a PUT route.
func (e *Engine) PUT(pattern string, handlers ...any) {
	e.mustHandle(http.MethodPut, pattern, handlers)
}

// PATCH registers a PATCH route.
func (e *Engine) PATCH(pattern string, handlers ...any) {
	e.mustHandle(http.MethodPatch, pattern, handlers)
}

// DELETE registers a DELETE route.
func (e *Engine) DELETE(pattern string, handlers ...any) {
	e.mustHandle(http.MethodDelete, pattern, handlers)
}

// HEAD registers a HEAD route. Without one, HEAD requests fall back to the
// GET route and the body is dropped.
func (e *Engine) HEAD(pattern string, handlers ...any) {
	e.mustHandle(http.MethodHead, pattern, handlers)
}

// OPTIONS registers an OPTIONS route.
func (e *Engine) OPTIONS(pattern string, handlers ...any) {
	e.mustHandle(http.MethodOptions, pattern, handlers)
}

// All registers the handlers for every method.
func (e *Engine) All(pattern string, handlers ...any) {
	for _, m := range http.Methods {
		e.mustHandle(m, pattern, handlers)
	}
}

// Use adds global handlers. Normal handlers run before every route chain in
// the order added; error handlers run after it. Use panics on a handler
// http.Adapt rejects, and with router.ErrTableSealed once serving started.
func (e *Engine) Use(handlers ...any) {
	hs, err := adaptAll(handlers)
	if err != nil {
		panic(errors.Wrap(err, "use"))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.table.Sealed() {
		panic(errors.Wrap(router.ErrTableSealed, "use"))
	}
	for _, h := range hs {
		if _, ok := http.AsErrorHandler(h); ok {
			e.trailing = append(e.trailing, h)
		} else {
			e.leading = append(e.leading, h)
		}
	}
}

// OnError installs a hook observing every error raised in a handler chain.
// It must be set before serving.
func (e *Engine) OnError(fn func(err error, req *http.Request)) {
	e.onError = fn
}

func (e *Engine) reportError(err error, req *http.Request) {
	e.stats.handlerErrors.Add(1)
	if e.onError != nil {
		e.onError(err, req)
	}
}

func adaptAll(handlers []any) ([]http.Handler, error) {
	out := make([]http.Handler, 0, len(handlers))
	for i, v := range handlers {
		h, err := http.Adapt(v)
		if err != nil {
			return nil, errors.Wrapf(err, "handler %d", i)
		}
		out = append(out, h)
	}
	return out, nil
}

// Run listens on addr and serves until Shutdown.
func (e *Engine) Run(addr string) error {
	ln, err := Listen(e.baseCtx, addr)
	if err != nil {
		return err
	}
	return e.Serve(ln)
}

// ListenAndServe listens on the configured host and port.
func (e *Engine) ListenAndServe() error {
	return e.Run(e.cfg.Addr())
}

// Serve accepts connections on ln until Shutdown. The route table is sealed
// on entry; registration afterwards fails. Serve always returns a non-nil
// error, ErrServerClosed after a graceful shutdown.
func (e *Engine) Serve(ln net.Listener) error {
	if err := e.start(ln); err != nil {
		ln.Close()
		return err
	}
	e.log.Info().
		Str("addr", ln.Addr().String()).
		Int("workers", e.cfg.Workers).
		Int("queue", e.cfg.QueueSize).
		Str("backpressure", e.cfg.Backpressure).
		Int("routes", e.table.Len()).
		Msg("server listening")

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if e.shuttingDown() {
				return errors.WithStack(ErrServerClosed)
			}
			var ne net.Error
			if (errors.As(err, &ne) && ne.Timeout()) || isTemporary(err) {
				backoff = nextBackoff(backoff)
				e.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept error")
				time.Sleep(backoff)
				continue
			}
			return errors.Wrap(err, "accept")
		}
		backoff = 0
		e.stats.accepted.Add(1)
		tuneConn(nc)
		e.dispatchConn(nc)
	}
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (e *Engine) start(ln net.Listener) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shuttingDown() {
		return errors.WithStack(ErrServerClosed)
	}
	if e.listener != nil {
		return errors.WithStack(ErrAlreadyServing)
	}
	e.listener = ln

	e.table.Seal()
	e.table.Compile(e.leading, e.trailing)
	e.notFound = make([]http.Handler, 0, len(e.leading)+len(e.trailing)+1)
	e.notFound = append(e.notFound, e.leading...)
	e.notFound = append(e.notFound, middleware.NotFound())
	e.notFound = append(e.notFound, e.trailing...)

	e.workerPool = pools.NewWorkerPoolWithConfig(pools.WorkerPoolConfig{
		Workers:   e.cfg.Workers,
		QueueSize: e.cfg.QueueSize,
		OnPanic: func(v any) {
			e.log.Error().Interface("panic", v).Msg("worker recovered from panic")
		},
	})
	return nil
}

// dispatchConn hands an accepted connection to the worker pool according to
// the backpressure policy.
func (e *Engine) dispatchConn(nc net.Conn) {
	c := e.connPool.Get()
	c.attach(nc)
	e.trackConn(c, true)

	var err error
	if e.cfg.Backpressure == config.BackpressureReject {
		err = e.workerPool.TrySubmit(c.serve)
	} else {
		err = e.workerPool.Submit(e.baseCtx, c.serve)
	}
	if err == nil {
		return
	}

	if errors.Cause(err) == pools.ErrQueueFull {
		e.stats.rejected.Add(1)
		if e.rejecting.Add(1) > e.rejectLimit {
			e.rejecting.Add(-1)
			e.log.Debug().Str("remote", c.remote).Msg("queue full, dropping connection")
			c.close()
			return
		}
		e.log.Debug().Str("remote", c.remote).Msg("queue full, rejecting connection")
		go func() {
			defer e.rejecting.Add(-1)
			c.reject()
		}()
		return
	}
	c.close()
}

func (e *Engine) trackConn(c *conn, add bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if add {
		e.conns[c] = struct{}{}
		e.stats.active.Add(1)
	} else if _, ok := e.conns[c]; ok {
		delete(e.conns, c)
		e.stats.active.Add(-1)
		e.stats.closed.Add(1)
	}
}

func (e *Engine) shuttingDown() bool {
	return e.inShutdown.Load()
}

// Addr returns the listener address, or nil before Serve.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Shutdown stops accepting, closes idle connections, lets in-flight
// requests finish and waits for the workers to drain. When ctx expires
// first the remaining connections are closed and ctx's error is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.inShutdown.Store(true)
	e.cancel()

	e.mu.Lock()
	ln := e.listener
	pool := e.workerPool
	e.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	e.closeIdle()

	done := make(chan struct{})
	go func() {
		if pool != nil {
			pool.Close()
		}
		close(done)
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			e.log.Info().Msg("server stopped")
			return nil
		case <-ctx.Done():
			e.closeAll()
			return errors.Wrap(ctx.Err(), "shutdown")
		case <-ticker.C:
			e.closeIdle()
		}
	}
}

// closeIdle wakes connections blocked waiting for a new request so they
// notice the shutdown.
func (e *Engine) closeIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.conns {
		if c.idle.Load() {
			c.wake()
		}
	}
}

func (e *Engine) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.conns {
		c.wake()
		c.abort()
	}
}

// match finds the route for req. HEAD falls back to GET.
func (e *Engine) match(req *http.Request) (*router.Route, map[string]string, bool) {
	route, params, ok := e.table.Match(req.Method(), req.Path())
	if !ok && req.Method() == http.MethodHead {
		route, params, ok = e.table.Match(http.MethodGet, req.Path())
	}
	return route, params, ok
}

// httpDate returns the Date header value, formatted at most once a second.
func (e *Engine) httpDate() string {
	now := time.Now()
	sec := now.Unix()
	if d := e.date.Load(); d != nil && d.sec == sec {
		return d.value
	}
	d := &cachedDate{sec: sec, value: now.UTC().Format(http.TimeFormat)}
	e.date.Store(d)
	return d.value
}
