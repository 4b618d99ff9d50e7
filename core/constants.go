package core

import (
	"runtime"

	"github.com/pkg/errors"
)

// Version is the library version reported in the Server header.
const Version = "0.3.0"

// ServerName is the default Server header value.
var ServerName = "flash/" + Version + " (" + runtime.GOOS + ")"

// Error definitions
var (
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("flash: server closed")

	// ErrAlreadyServing is returned when Serve is called twice on one engine.
	ErrAlreadyServing = errors.New("flash: engine already serving")
)

// route key used for requests that matched nothing
const notFoundRoute = "NOT_FOUND"

// maxRejecting bounds the goroutines answering 503 under the reject policy.
const maxRejecting = 256
