package http

import (
	"context"

	"github.com/rs/zerolog"
)

// Context carries one request through its handler chain. It is owned by a
// single worker for the duration of the turn and recycled afterwards.
type Context struct {
	Request  *Request
	Response *Response

	// Chain is the compiled handler sequence; Index is the next position to
	// consider.
	Chain []Handler
	Index int

	// Err holds the error being propagated while the chain is in error mode.
	Err error

	Logger zerolog.Logger
}

// Init prepares c for a new turn.
func (c *Context) Init(req *Request, res *Response, chain []Handler, logger zerolog.Logger) {
	c.Request = req
	c.Response = res
	c.Chain = chain
	c.Index = 0
	c.Err = nil
	c.Logger = logger
}

// Reset clears references so a pooled Context does not pin a finished turn.
func (c *Context) Reset() {
	c.Request = nil
	c.Response = nil
	c.Chain = nil
	c.Index = 0
	c.Err = nil
	c.Logger = zerolog.Nop()
}

// Context returns the turn context of the request.
func (c *Context) Context() context.Context {
	if c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// Failed reports whether the chain is in error mode.
func (c *Context) Failed() bool {
	return c.Err != nil
}
