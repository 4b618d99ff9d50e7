package http

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/searchktools/flash/core/codec"
	"github.com/valyala/bytebufferpool"
)

// Default content types, matching Express
const (
	ContentTypeHTML   = "text/html; charset=utf-8"
	ContentTypeText   = "text/plain; charset=utf-8"
	ContentTypeBinary = "application/octet-stream"
)

var responseBodyPool bytebufferpool.Pool

// Response is the outbound half of one request turn. Fields may be changed
// until the response ends; after that every mutator fails with
// ErrResponseEnded. The mutex only matters when a stalled handler keeps
// writing from another goroutine after the turn was abandoned.
type Response struct {
	mu       sync.Mutex
	status   int
	header   fieldList
	body     *bytebufferpool.ByteBuffer
	ended    bool
	done     chan struct{}
	locals   map[string]any
	onMisuse func(error)
}

// NewResponse returns a response with status 200.
func NewResponse() *Response {
	return &Response{
		status: StatusOK,
		done:   make(chan struct{}),
	}
}

// SetMisuseHandler installs fn to observe writes after the response ended.
func (r *Response) SetMisuseHandler(fn func(error)) {
	r.mu.Lock()
	r.onMisuse = fn
	r.mu.Unlock()
}

// misuse reports err and returns it. Caller holds r.mu.
func (r *Response) misuse(op string) error {
	err := errors.Wrap(ErrResponseEnded, op)
	if r.onMisuse != nil {
		r.onMisuse(err)
	}
	return err
}

// Status sets the status code.
func (r *Response) Status(code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("status")
	}
	if !ValidStatus(code) {
		return errors.Errorf("invalid status code %d", code)
	}
	r.status = code
	return nil
}

// StatusCode returns the current status code.
func (r *Response) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Set sets a header, replacing any previous value.
func (r *Response) Set(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("set header " + name)
	}
	r.header.set(name, value)
	return nil
}

// Append adds another line for a header, e.g. Set-Cookie.
func (r *Response) Append(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("append header " + name)
	}
	r.header.append(name, value)
	return nil
}

// Del removes a header.
func (r *Response) Del(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("delete header " + name)
	}
	r.header.del(name)
	return nil
}

// Get returns a header value.
func (r *Response) Get(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.get(name)
}

// Type sets Content-Type.
func (r *Response) Type(contentType string) error {
	return r.Set(HeaderContentType, contentType)
}

// Write appends to the body without ending the response.
func (r *Response) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return 0, r.misuse("write")
	}
	return r.buffer().Write(p)
}

// WriteString appends s to the body without ending the response.
func (r *Response) WriteString(s string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return 0, r.misuse("write")
	}
	return r.buffer().WriteString(s)
}

// Send appends body and ends the response. Content-Type defaults to
// application/octet-stream.
func (r *Response) Send(body []byte) error {
	return r.send(ContentTypeBinary, body)
}

// SendString appends s and ends the response. Content-Type defaults to
// text/html.
func (r *Response) SendString(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("send")
	}
	r.defaultType(ContentTypeHTML)
	r.buffer().WriteString(s)
	r.end()
	return nil
}

// SendStatus sets the status and sends its reason phrase as the body.
func (r *Response) SendStatus(code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("send status")
	}
	if !ValidStatus(code) {
		return errors.Errorf("invalid status code %d", code)
	}
	r.status = code
	text := StatusText(code)
	if text == "" {
		text = strconv.Itoa(code)
	}
	r.header.set(HeaderContentType, ContentTypeText)
	r.buffer().WriteString(text)
	r.end()
	return nil
}

// JSON encodes v as JSON and ends the response.
func (r *Response) JSON(v any) error {
	return r.Encode(codec.JSON, v)
}

// Encode encodes v with c and ends the response.
func (r *Response) Encode(c codec.Codec, v any) error {
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	return r.send(c.ContentType(), data)
}

// Redirect sets Location and a 3xx status, then ends the response.
func (r *Response) Redirect(code int, location string) error {
	if code < 300 || code > 399 {
		return errors.Errorf("invalid redirect status %d", code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("redirect")
	}
	r.status = code
	r.header.set(HeaderLocation, location)
	r.defaultType(ContentTypeText)
	r.buffer().WriteString(StatusText(code) + ". Redirecting to " + location)
	r.end()
	return nil
}

// End ends the response with whatever body has been written.
func (r *Response) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("end")
	}
	r.end()
	return nil
}

// Reset discards the status, headers and body written so far. Locals are
// kept.
func (r *Response) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("reset")
	}
	r.status = StatusOK
	r.header.reset()
	if r.body != nil {
		r.body.Reset()
	}
	return nil
}

// Ended reports whether the response is final.
func (r *Response) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// Done is closed when the response ends.
func (r *Response) Done() <-chan struct{} {
	return r.done
}

// Seal ends the response without reporting misuse. It returns false if the
// response had already ended.
func (r *Response) Seal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return false
	}
	r.end()
	return true
}

// Body returns the buffered body bytes.
func (r *Response) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.body == nil {
		return nil
	}
	return r.body.B
}

// Locals holds values passed between handlers of one request.
func (r *Response) Locals() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locals == nil {
		r.locals = make(map[string]any)
	}
	return r.locals
}

// Release returns the body buffer to the pool. The response must not be
// used afterwards.
func (r *Response) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.body != nil {
		responseBodyPool.Put(r.body)
		r.body = nil
	}
}

func (r *Response) send(contentType string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return r.misuse("send")
	}
	r.defaultType(contentType)
	r.buffer().Write(body)
	r.end()
	return nil
}

func (r *Response) defaultType(contentType string) {
	if _, ok := r.header.get(HeaderContentType); !ok {
		r.header.set(HeaderContentType, contentType)
	}
}

func (r *Response) buffer() *bytebufferpool.ByteBuffer {
	if r.body == nil {
		r.body = responseBodyPool.Get()
	}
	return r.body
}

func (r *Response) end() {
	r.ended = true
	close(r.done)
}
