// Package middleware runs handler chains with Express semantics: each
// handler either ends the response, passes control with next, or switches
// the chain into error mode with fail.
package middleware

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/searchktools/flash/core/http"
)

// ErrChainStalled is returned when a handler neither ended the response nor
// continued before the turn deadline.
var ErrChainStalled = errors.New("handler chain stalled")

// Executor drives handler chains. One Executor is shared by all workers; it
// keeps no per-request state.
type Executor struct {
	// OnError observes every error raised through fail, including panics,
	// whether or not an error handler deals with it.
	OnError func(err error, req *http.Request)
}

// NewExecutor returns an executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// invocation is the continuation state of one handler call. The first of
// next or fail wins; later calls are reported and ignored.
type invocation struct {
	mu     sync.Mutex
	called bool
	err    error
	done   chan struct{}
	log    zerolog.Logger
}

func (inv *invocation) next() {
	inv.resolve(nil, "next")
}

// fail(nil) behaves like next.
func (inv *invocation) fail(err error) {
	inv.resolve(err, "fail")
}

func (inv *invocation) resolve(err error, op string) {
	inv.mu.Lock()
	if inv.called {
		inv.mu.Unlock()
		inv.log.Warn().Err(http.ErrContinuationReused).Str("call", op).Msg("continuation called twice, ignoring")
		return
	}
	inv.called = true
	inv.err = err
	inv.mu.Unlock()
	close(inv.done)
}

func (inv *invocation) resolved() bool {
	called, _ := inv.result()
	return called
}

func (inv *invocation) result() (bool, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.called, inv.err
}

// Run executes c.Chain from c.Index. It returns nil once the response has
// ended or the chain was finished with a default response, and
// ErrChainStalled when the request context expires while a handler still
// holds the turn.
func (e *Executor) Run(c *http.Context) error {
	ctx := c.Context()
	res := c.Response

	for {
		if res.Ended() {
			return nil
		}
		h, eh, ok := e.advance(c)
		if !ok {
			e.finish(c)
			return nil
		}

		inv := &invocation{done: make(chan struct{}), log: c.Logger}
		e.invoke(c, h, eh, inv)

		select {
		case <-inv.done:
		case <-res.Done():
		case <-ctx.Done():
		}

		called, err := inv.result()
		switch {
		case err != nil:
			c.Err = err
			e.report(c, err)
		case called:
			// next() from an error handler resumes normal flow
			c.Err = nil
		case !res.Ended():
			return errors.Wrapf(ErrChainStalled, "handler %d of %d", c.Index, len(c.Chain))
		}
	}
}

// advance returns the next handler applicable to the current mode and moves
// the index past it.
func (e *Executor) advance(c *http.Context) (http.Handler, http.ErrorHandler, bool) {
	for c.Index < len(c.Chain) {
		h := c.Chain[c.Index]
		c.Index++
		eh, isErr := http.AsErrorHandler(h)
		switch {
		case c.Err == nil && !isErr:
			return h, nil, true
		case c.Err != nil && isErr:
			return nil, eh, true
		}
	}
	return nil, nil, false
}

func (e *Executor) invoke(c *http.Context, h http.Handler, eh http.ErrorHandler, inv *invocation) {
	defer func() {
		if v := recover(); v != nil {
			perr := &http.PanicError{Value: v, Stack: debug.Stack()}
			if inv.resolved() {
				c.Logger.Error().Interface("panic", v).Msg("handler panicked after continuing")
				e.report(c, perr)
				return
			}
			inv.fail(perr)
		}
	}()
	if eh != nil {
		eh.HandleError(c.Err, c.Request, c.Response, inv.next, inv.fail)
		return
	}
	h.Handle(c.Request, c.Response, inv.next, inv.fail)
}

func (e *Executor) report(c *http.Context, err error) {
	if e.OnError != nil {
		e.OnError(err, c.Request)
	}
}

// finish writes the default response for a chain that ran out of handlers.
func (e *Executor) finish(c *http.Context) {
	res := c.Response
	if res.Ended() {
		return
	}
	if c.Err != nil {
		code := http.StatusOf(c.Err)
		ev := c.Logger.Error()
		if code < 500 {
			ev = c.Logger.Debug()
		}
		ev.Err(c.Err).Int("status", code).Msg("unhandled error")
		writeError(res, code, errorMessage(c.Err, code))
		return
	}
	writeNotFound(c.Request, res)
}

// errorMessage exposes the message of a 4xx *http.Error; everything else
// gets the generic reason phrase.
func errorMessage(err error, code int) string {
	var he *http.Error
	if code < 500 && errors.As(err, &he) && he.Message != "" {
		return he.Message
	}
	if text := http.StatusText(code); text != "" {
		return text
	}
	return fmt.Sprintf("Error %d", code)
}

// writeError replaces any partial output with a text/plain response.
func writeError(res *http.Response, code int, message string) {
	if res.Reset() != nil || res.Status(code) != nil {
		return
	}
	res.Set(http.HeaderContentType, http.ContentTypeText)
	res.SendString(message)
}

func writeNotFound(req *http.Request, res *http.Response) {
	writeError(res, http.StatusNotFound, fmt.Sprintf("Cannot %s %s", req.Method(), req.Path()))
}

// NotFound is the terminal handler used when no route matches.
func NotFound() http.Handler {
	return http.HandlerFunc(func(req *http.Request, res *http.Response, _ http.Next, _ http.Fail) {
		writeNotFound(req, res)
	})
}
