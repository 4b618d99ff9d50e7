package http

import (
	"context"

	"github.com/pkg/errors"
	"github.com/searchktools/flash/core/codec"
)

// Request is one framed HTTP request. It is built by the parser once the
// request is complete and is read-only afterwards, except for the path
// parameters bound by the router and the parsed-body slot.
type Request struct {
	method     Method
	target     string
	path       string
	rawQuery   string
	proto      string
	header     Header
	body       []byte
	remoteAddr string
	keepAlive  bool

	query  map[string][]string
	params map[string]string

	parsed    any
	hasParsed bool

	ctx context.Context
}

// NewRequest builds a request outside the parser, mostly for tests and
// in-process dispatch.
func NewRequest(method Method, target string, header Header, body []byte) (*Request, error) {
	if !method.Valid() {
		return nil, errors.Errorf("invalid method %q", method)
	}
	if target == "" || (target[0] != '/' && target != "*") {
		return nil, errors.Errorf("invalid request target %q", target)
	}
	if header.values == nil {
		header = NewHeader()
	}
	r := &Request{
		method:    method,
		target:    target,
		proto:     "HTTP/1.1",
		header:    header,
		body:      body,
		keepAlive: true,
	}
	r.path, r.rawQuery = splitTarget(target)
	return r, nil
}

// Method returns the request method.
func (r *Request) Method() Method {
	return r.method
}

// URL returns the raw request target (path and query).
func (r *Request) URL() string {
	return r.target
}

// Path returns the path portion of the target, still percent-encoded.
func (r *Request) Path() string {
	return r.path
}

// Proto returns the protocol version, e.g. "HTTP/1.1".
func (r *Request) Proto() string {
	return r.proto
}

// RemoteAddr returns the peer address, if known.
func (r *Request) RemoteAddr() string {
	return r.remoteAddr
}

// SetRemoteAddr records the peer address of the connection the request
// arrived on.
func (r *Request) SetRemoteAddr(addr string) {
	r.remoteAddr = addr
}

// KeepAlive reports whether the client allows the connection to be reused.
func (r *Request) KeepAlive() bool {
	return r.keepAlive
}

// Header returns the request headers.
func (r *Request) Header() Header {
	return r.header
}

// Get returns a request header value (case-insensitive).
func (r *Request) Get(name string) string {
	return r.header.Get(name)
}

// Body returns the raw body bytes.
func (r *Request) Body() []byte {
	return r.body
}

// Param returns a path parameter bound by the matched route.
func (r *Request) Param(name string) string {
	return r.params[name]
}

// Params returns all bound path parameters.
func (r *Request) Params() map[string]string {
	return r.params
}

// SetParams binds the path parameters of the matched route. Called by the
// dispatcher once per turn.
func (r *Request) SetParams(params map[string]string) {
	r.params = params
}

// Query returns the first value of a query parameter.
func (r *Request) Query(name string) string {
	if vs := r.QueryValues()[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// QueryAll returns every value of a query parameter in arrival order.
func (r *Request) QueryAll(name string) []string {
	return r.QueryValues()[name]
}

// QueryValues returns the decoded query string. It is parsed on first use.
func (r *Request) QueryValues() map[string][]string {
	if r.query == nil {
		r.query = ParseQuery(r.rawQuery)
	}
	return r.query
}

// Context returns the turn context. Its deadline is the request timeout.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext sets the turn context.
func (r *Request) WithContext(ctx context.Context) {
	r.ctx = ctx
}

// ParsedBody returns the value stored in the parsed-body slot.
func (r *Request) ParsedBody() (any, bool) {
	return r.parsed, r.hasParsed
}

// SetParsedBody stores a decoded representation of the body.
func (r *Request) SetParsedBody(v any) {
	r.parsed = v
	r.hasParsed = true
}

// Bind decodes the body into v with the codec selected by Content-Type and
// stores v in the parsed-body slot.
func (r *Request) Bind(v any) error {
	c, err := codec.ForContentType(r.header.Get(HeaderContentType))
	if err != nil {
		return NewError(StatusBadRequest, err.Error())
	}
	return r.BindWith(c, v)
}

// BindWith decodes the body with c.
func (r *Request) BindWith(c codec.Codec, v any) error {
	if err := c.Decode(r.body, v); err != nil {
		return &Error{Code: StatusBadRequest, Message: "malformed " + c.Name() + " body", Err: err}
	}
	r.SetParsedBody(v)
	return nil
}
