package http

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrPartial means the parser needs more input before it can advance.
	ErrPartial = errors.New("partial request")

	// ErrResponseEnded is returned by every mutator of an ended response.
	ErrResponseEnded = errors.New("response already sent")

	// ErrContinuationReused is reported when a handler calls next or fail
	// after already continuing.
	ErrContinuationReused = errors.New("continuation already called")
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Error is a handler-raised error with a status code. For 4xx codes the
// message is shown to the client by the default error response.
type Error struct {
	Code    int
	Message string
	Err     error
}

// NewError returns an *Error with code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *Error) StatusCode() int {
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// ProtocolError is a framing failure. Status is the response sent before
// the connection is closed.
type ProtocolError struct {
	Status int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Status, e.Reason)
}

func (e *ProtocolError) StatusCode() int {
	return e.Status
}

func protocolError(status int, format string, args ...any) error {
	return errors.WithStack(&ProtocolError{Status: status, Reason: fmt.Sprintf(format, args...)})
}

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return StatusInternalServerError
}
