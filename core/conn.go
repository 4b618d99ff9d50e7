package core

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/searchktools/flash/core/http"
)

// ConnState is the position of a connection in its request/response cycle.
type ConnState int32

// Connection states
const (
	StateAwaitingRequestLine ConnState = iota
	StateReadingHeaders
	StateReadingBody
	StateDispatching
	StateWritingResponse
	StateKeepAlive
	StateClosing
)

var connStateNames = [...]string{
	StateAwaitingRequestLine: "awaiting-request-line",
	StateReadingHeaders:      "reading-headers",
	StateReadingBody:         "reading-body",
	StateDispatching:         "dispatching",
	StateWritingResponse:     "writing-response",
	StateKeepAlive:           "keep-alive",
	StateClosing:             "closing",
}

func (s ConnState) String() string {
	if s >= 0 && int(s) < len(connStateNames) {
		return connStateNames[s]
	}
	return "unknown"
}

const (
	readBufferSize  = 8192
	writeBufferSize = 4096

	// bounds the drain after an error response so the client sees it
	// instead of a reset
	lingerTimeout = 500 * time.Millisecond
	lingerBytes   = 256 << 10
)

type turnResult int

const (
	turnKeep turnResult = iota
	turnClose
	turnLinger
)

// conn is the per-connection state driven by one worker at a time.
type conn struct {
	engine *Engine
	nc     net.Conn
	remote string
	log    zerolog.Logger

	parser *http.Parser
	bw     *bufio.Writer
	buf    *[]byte

	state  atomic.Int32
	idle   atomic.Bool // blocked waiting for the first byte of a request
	served int
}

func newConn(e *Engine) *conn {
	return &conn{
		engine: e,
		parser: http.NewParser(http.Limits{
			MaxHeaderBytes: e.cfg.MaxHeaderBytes,
			MaxBodyBytes:   e.cfg.MaxBodyBytes,
		}),
		bw:  bufio.NewWriterSize(nil, writeBufferSize),
		log: zerolog.Nop(),
	}
}

func (c *conn) attach(nc net.Conn) {
	c.nc = nc
	c.remote = nc.RemoteAddr().String()
	c.log = c.engine.log.With().Str("remote", c.remote).Logger()
	c.bw.Reset(nc)
	c.buf = c.engine.bytePool.Get(readBufferSize)
	c.setState(StateAwaitingRequestLine)
	c.idle.Store(true)
}

// reset prepares a closed conn for reuse.
func (c *conn) reset() {
	c.parser.Reset()
	c.bw.Reset(nil)
	c.engine.bytePool.Put(c.buf)
	c.buf = nil
	c.nc = nil
	c.remote = ""
	c.log = zerolog.Nop()
	c.served = 0
	c.idle.Store(false)
	c.setState(StateAwaitingRequestLine)
}

func (c *conn) setState(s ConnState) {
	c.state.Store(int32(s))
}

// State returns the current state.
func (c *conn) State() ConnState {
	return ConnState(c.state.Load())
}

// serve runs the keep-alive loop until the connection closes.
func (c *conn) serve() {
	if c.engine.shuttingDown() {
		c.close()
		return
	}
	for {
		switch c.turn() {
		case turnKeep:
			continue
		case turnLinger:
			c.lingerClose()
		default:
			c.close()
		}
		return
	}
}

// turn reads, dispatches and answers one request.
func (c *conn) turn() turnResult {
	e := c.engine
	if c.served > 0 {
		c.setState(StateKeepAlive)
	}

	var turnStart time.Time
	if c.parser.Buffered() > 0 {
		turnStart = time.Now()
	}

	for {
		req, err := c.parser.Next()
		if err == nil {
			return c.dispatch(req, turnStart)
		}
		if !errors.Is(err, http.ErrPartial) {
			return c.protocolFailure(err)
		}
		c.syncState()

		if c.parser.NeedsContinue() {
			c.bw.Write(http.ContinueLine)
		}
		if c.bw.Buffered() > 0 {
			if err := c.flush(); err != nil {
				return turnClose
			}
		}

		waiting := !c.parser.InProgress()
		deadline := time.Now().Add(e.cfg.IdleTimeout)
		if !waiting {
			if d := turnStart.Add(e.cfg.RequestTimeout); d.Before(deadline) {
				deadline = d
			}
		}
		c.idle.Store(waiting)
		c.nc.SetReadDeadline(deadline)
		// checked after the deadline is set so a concurrent wake is not lost
		if waiting && e.shuttingDown() {
			return turnClose
		}

		n, err := c.nc.Read(*c.buf)
		c.idle.Store(false)
		if n > 0 {
			if turnStart.IsZero() {
				turnStart = time.Now()
			}
			c.parser.Feed((*c.buf)[:n])
			continue
		}
		if err != nil {
			return c.readFailed(err)
		}
	}
}

func (c *conn) syncState() {
	switch c.parser.State() {
	case http.ParseRequestLine:
		if c.parser.InProgress() || c.served == 0 {
			c.setState(StateAwaitingRequestLine)
		}
	case http.ParseHeaders:
		c.setState(StateReadingHeaders)
	default:
		c.setState(StateReadingBody)
	}
}

func (c *conn) readFailed(err error) turnResult {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if !c.parser.InProgress() {
			// idle expiry or shutdown wake
			return turnClose
		}
		c.engine.stats.timeouts.Add(1)
		c.log.Debug().Str("state", c.State().String()).Msg("request read timed out")
		c.writeStatus(http.StatusRequestTimeout)
		return turnClose
	}
	if c.parser.InProgress() && errors.Cause(err) == io.EOF {
		c.log.Debug().Msg("connection closed mid-request")
	}
	return turnClose
}

func (c *conn) protocolFailure(err error) turnResult {
	status := http.StatusOf(err)
	c.engine.stats.protocolErrors.Add(1)
	c.log.Debug().Err(err).Int("status", status).Msg("malformed request")
	if c.writeStatus(status) != nil {
		return turnClose
	}
	return turnLinger
}

// writeStatus answers with a bare status response and Connection: close.
func (c *conn) writeStatus(code int, extra ...string) error {
	c.setState(StateWritingResponse)
	c.setWriteDeadline()
	if err := http.WriteStatus(c.bw, code, c.writeOptions(true), extra...); err != nil {
		return err
	}
	return c.flush()
}

func (c *conn) dispatch(req *http.Request, turnStart time.Time) turnResult {
	e := c.engine
	c.setState(StateDispatching)
	if turnStart.IsZero() {
		turnStart = time.Now()
	}

	req.SetRemoteAddr(c.remote)
	ctx, cancel := context.WithDeadline(context.Background(), turnStart.Add(e.cfg.RequestTimeout))
	defer cancel()
	req.WithContext(ctx)

	logger := c.log
	res := http.NewResponse()
	res.SetMisuseHandler(func(err error) {
		logger.Warn().Err(err).
			Str("method", req.Method().String()).
			Str("path", req.Path()).
			Msg("write after response ended")
	})

	routeKey := notFoundRoute
	chain := e.notFound
	if route, params, ok := e.match(req); ok {
		chain = route.Chain()
		routeKey = route.Key()
		req.SetParams(params)
	}

	hctx := e.contextPool.Get()
	hctx.Init(req, res, chain, logger)
	start := time.Now()
	runErr := e.executor.Run(hctx)
	elapsed := time.Since(start)
	e.contextPool.Put(hctx)

	closeAfter := !req.KeepAlive() || !e.cfg.KeepAlive || e.shuttingDown()
	stalled := false
	if runErr != nil {
		closeAfter = true
		stalled = res.Seal()
		e.stats.timeouts.Add(1)
		logger.Error().Err(runErr).
			Str("method", req.Method().String()).
			Str("path", req.Path()).
			Dur("elapsed", elapsed).
			Msg("handler chain did not finish in time")
	}
	c.served++
	e.stats.requests.Add(1)

	c.setState(StateWritingResponse)
	c.setWriteDeadline()
	opts := c.writeOptions(closeAfter)
	opts.HeadOnly = req.Method() == http.MethodHead
	opts.Proto = req.Proto()

	var err error
	status := res.StatusCode()
	if stalled {
		status = http.StatusInternalServerError
		err = http.WriteStatus(c.bw, status, opts)
	} else {
		err = res.Serialize(c.bw, opts)
	}
	res.Release()
	e.monitor.RecordRequest(routeKey, elapsed, status >= 500)

	if err != nil {
		return turnClose
	}
	if closeAfter {
		c.flush()
		return turnClose
	}
	// pipelined requests are answered in one flush
	if c.parser.Buffered() == 0 {
		if err := c.flush(); err != nil {
			return turnClose
		}
	}
	return turnKeep
}

func (c *conn) writeOptions(closeAfter bool) http.WriteOptions {
	return http.WriteOptions{
		Server: c.engine.server,
		Date:   c.engine.httpDate(),
		Close:  closeAfter,
	}
}

func (c *conn) setWriteDeadline() {
	if d := c.engine.cfg.WriteTimeout; d > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(d))
	}
}

func (c *conn) flush() error {
	if err := c.bw.Flush(); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
		return errors.WithStack(err)
	}
	return nil
}

// reject answers 503 without reading the request. Called off the worker
// pool when the queue is full.
func (c *conn) reject() {
	if c.writeStatus(http.StatusServiceUnavailable, http.HeaderRetryAfter, "1") != nil {
		c.close()
		return
	}
	c.lingerClose()
}

// lingerClose half-closes the connection and discards pending input for a
// short while before closing.
func (c *conn) lingerClose() {
	c.setState(StateClosing)
	if tc, ok := c.nc.(interface{ CloseWrite() error }); ok {
		tc.CloseWrite()
		c.nc.SetReadDeadline(time.Now().Add(lingerTimeout))
		io.Copy(io.Discard, io.LimitReader(c.nc, lingerBytes))
	}
	c.close()
}

// wake interrupts a blocked read.
func (c *conn) wake() {
	c.nc.SetReadDeadline(time.Now())
}

// abort closes the socket from another goroutine; the owner notices on its
// next read or write.
func (c *conn) abort() {
	c.nc.Close()
}

func (c *conn) close() {
	c.setState(StateClosing)
	c.idle.Store(false)
	c.nc.Close()
	c.engine.trackConn(c, false)
	c.engine.connPool.Put(c)
}
