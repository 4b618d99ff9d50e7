package http

import (
	"github.com/pkg/errors"
)

// Next passes control to the next applicable handler.
type Next func()

// Fail switches the chain into error mode with err.
type Fail func(err error)

// Handler is a normal handler. It must eventually end the response, call
// next, or call fail.
type Handler interface {
	Handle(req *Request, res *Response, next Next, fail Fail)
}

// ErrorHandler runs only while the chain is carrying an error.
type ErrorHandler interface {
	HandleError(err error, req *Request, res *Response, next Next, fail Fail)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request, res *Response, next Next, fail Fail)

func (f HandlerFunc) Handle(req *Request, res *Response, next Next, fail Fail) {
	f(req, res, next, fail)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(err error, req *Request, res *Response, next Next, fail Fail)

func (f ErrorHandlerFunc) HandleError(err error, req *Request, res *Response, next Next, fail Fail) {
	f(err, req, res, next, fail)
}

// errorHandler lets an ErrorHandler sit in a []Handler. Its Handle is never
// called by the executor.
type errorHandler struct {
	ErrorHandler
}

func (errorHandler) Handle(*Request, *Response, Next, Fail) {}

// AsErrorHandler reports whether h is an error handler and unwraps it.
func AsErrorHandler(h Handler) (ErrorHandler, bool) {
	if eh, ok := h.(errorHandler); ok {
		return eh.ErrorHandler, true
	}
	return nil, false
}

// Adapt converts the accepted handler shapes into a Handler:
//
//	func(req, res)
//	func(req, res, next)
//	func(req, res, next, fail)
//	func(err, req, res, next)
//	func(err, req, res, next, fail)
//
// plus values already implementing Handler or ErrorHandler.
func Adapt(v any) (Handler, error) {
	switch h := v.(type) {
	case nil:
		return nil, errors.New("nil handler")
	case Handler:
		return h, nil
	case ErrorHandler:
		return errorHandler{h}, nil
	case func(*Request, *Response):
		return HandlerFunc(func(req *Request, res *Response, _ Next, _ Fail) {
			h(req, res)
		}), nil
	case func(*Request, *Response, Next):
		return HandlerFunc(func(req *Request, res *Response, next Next, _ Fail) {
			h(req, res, next)
		}), nil
	case func(*Request, *Response, Next, Fail):
		return HandlerFunc(h), nil
	case func(error, *Request, *Response, Next):
		return errorHandler{ErrorHandlerFunc(func(err error, req *Request, res *Response, next Next, _ Fail) {
			h(err, req, res, next)
		})}, nil
	case func(error, *Request, *Response, Next, Fail):
		return errorHandler{ErrorHandlerFunc(h)}, nil
	default:
		return nil, errors.Errorf("unsupported handler type %T", v)
	}
}

// MustAdapt is Adapt that panics on an unsupported shape.
func MustAdapt(v any) Handler {
	h, err := Adapt(v)
	if err != nil {
		panic(err)
	}
	return h
}
