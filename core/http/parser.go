package http

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"
)

// Parser limits
const (
	DefaultMaxLineBytes   = 8 << 10
	DefaultMaxHeaderBytes = 64 << 10
	DefaultMaxBodyBytes   = 1 << 20
)

// ParseState is the framing position of the parser.
type ParseState int

const (
	ParseRequestLine ParseState = iota
	ParseHeaders
	ParseBody
	ParseChunkSize
	ParseChunkData
	ParseTrailers
)

func (s ParseState) String() string {
	switch s {
	case ParseRequestLine:
		return "request-line"
	case ParseHeaders:
		return "headers"
	case ParseBody:
		return "body"
	case ParseChunkSize:
		return "chunk-size"
	case ParseChunkData:
		return "chunk-data"
	case ParseTrailers:
		return "trailers"
	}
	return "unknown"
}

// Limits bounds what the parser buffers for one request.
type Limits struct {
	MaxLineBytes   int
	MaxHeaderBytes int
	MaxBodyBytes   int
}

func (l Limits) withDefaults() Limits {
	if l.MaxLineBytes <= 0 {
		l.MaxLineBytes = DefaultMaxLineBytes
	}
	if l.MaxHeaderBytes <= 0 {
		l.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if l.MaxBodyBytes <= 0 {
		l.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return l
}

var requestBodyPool bytebufferpool.Pool

// Parser frames requests out of a byte stream. Input arrives through Feed in
// whatever pieces the transport delivers; Next advances only when a complete
// unit (line, header block, body) is buffered and returns ErrPartial
// otherwise. A Parser belongs to one connection.
type Parser struct {
	limits Limits

	buf []byte
	off int

	state       ParseState
	req         *Request
	headerBytes int
	remaining   int
	body        *bytebufferpool.ByteBuffer
	expect      bool
}

// NewParser returns a parser with the given limits. Zero fields take the
// package defaults.
func NewParser(limits Limits) *Parser {
	return &Parser{limits: limits.withDefaults()}
}

// Feed appends transport input.
func (p *Parser) Feed(data []byte) {
	if p.off > 0 && p.off >= len(p.buf)/2 {
		n := copy(p.buf, p.buf[p.off:])
		p.buf = p.buf[:n]
		p.off = 0
	}
	p.buf = append(p.buf, data...)
}

// Buffered returns the number of unconsumed input bytes.
func (p *Parser) Buffered() int {
	return len(p.buf) - p.off
}

// State returns the current framing state.
func (p *Parser) State() ParseState {
	return p.state
}

// InProgress reports whether part of a request has been received.
func (p *Parser) InProgress() bool {
	return p.state != ParseRequestLine || p.Buffered() > 0
}

// NeedsContinue reports whether the client sent Expect: 100-continue and is
// waiting for the interim response before sending the body. It is true at
// most once per request.
func (p *Parser) NeedsContinue() bool {
	if p.expect && p.state != ParseRequestLine && p.state != ParseHeaders && p.Buffered() == 0 {
		p.expect = false
		return true
	}
	return false
}

// Reset drops all buffered input and any partial request.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.off = 0
	p.resetTurn()
}

func (p *Parser) resetTurn() {
	p.state = ParseRequestLine
	p.req = nil
	p.headerBytes = 0
	p.remaining = 0
	p.expect = false
	if p.body != nil {
		requestBodyPool.Put(p.body)
		p.body = nil
	}
}

// Next returns the next complete request. It returns ErrPartial when more
// input is needed and a *ProtocolError (wrapped) when the input cannot be
// framed; after a protocol error the stream is unusable.
func (p *Parser) Next() (*Request, error) {
	for {
		var err error
		switch p.state {
		case ParseRequestLine:
			err = p.readRequestLine()
		case ParseHeaders:
			err = p.readHeaderLine()
		case ParseBody:
			err = p.readFixedBody()
		case ParseChunkSize:
			err = p.readChunkSize()
		case ParseChunkData:
			err = p.readChunkData()
		case ParseTrailers:
			err = p.readTrailerLine()
		}
		if err != nil {
			return nil, err
		}
		if p.req != nil && p.state == ParseRequestLine {
			req := p.req
			p.req = nil
			return req, nil
		}
	}
}

// line returns the next LF-terminated line without its CR/LF. limit bounds
// the line length; over it the parser fails with tooLong.
func (p *Parser) line(limit, tooLong int) ([]byte, error) {
	rest := p.buf[p.off:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		if len(rest) > limit {
			return nil, protocolError(tooLong, "line exceeds %d bytes", limit)
		}
		return nil, ErrPartial
	}
	if i > limit {
		return nil, protocolError(tooLong, "line exceeds %d bytes", limit)
	}
	p.off += i + 1
	line := rest[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

func (p *Parser) readRequestLine() error {
	line, err := p.line(p.limits.MaxLineBytes, StatusRequestURITooLong)
	if err != nil {
		return err
	}
	if len(line) == 0 {
		// stray CRLF between pipelined requests
		return nil
	}
	s := string(line)
	method, rest, ok1 := strings.Cut(s, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || target == "" || strings.IndexByte(proto, ' ') >= 0 {
		return protocolError(StatusBadRequest, "malformed request line %q", s)
	}

	switch proto {
	case "HTTP/1.1", "HTTP/1.0":
	default:
		if strings.HasPrefix(proto, "HTTP/") {
			return protocolError(StatusVersionNotSupported, "unsupported version %q", proto)
		}
		return protocolError(StatusBadRequest, "malformed version %q", proto)
	}

	m, ok := ParseMethod(method)
	if !ok {
		if httpguts.ValidHeaderFieldName(method) {
			return protocolError(StatusNotImplemented, "unsupported method %q", method)
		}
		return protocolError(StatusBadRequest, "malformed method %q", method)
	}

	target, err = normalizeTarget(target)
	if err != nil {
		return err
	}

	req := &Request{
		method: m,
		target: target,
		proto:  proto,
		header: NewHeader(),
	}
	req.path, req.rawQuery = splitTarget(target)
	p.req = req
	p.headerBytes = 0
	p.expect = false
	p.state = ParseHeaders
	return nil
}

// normalizeTarget accepts origin-form, asterisk-form and absolute-form
// targets and returns the origin-form part.
func normalizeTarget(target string) (string, error) {
	switch {
	case target[0] == '/':
	case target == "*":
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		_, after, _ := strings.Cut(target, "://")
		i := strings.IndexAny(after, "/?")
		if i < 0 {
			return "/", nil
		}
		target = after[i:]
		if target[0] == '?' {
			target = "/" + target
		}
	default:
		return "", protocolError(StatusBadRequest, "malformed request target %q", target)
	}
	for i := 0; i < len(target); i++ {
		if c := target[i]; c <= ' ' || c == 0x7f {
			return "", protocolError(StatusBadRequest, "invalid byte in request target")
		}
	}
	return target, nil
}

func (p *Parser) readHeaderLine() error {
	start := p.off
	budget := p.limits.MaxHeaderBytes - p.headerBytes
	line, err := p.line(budget, StatusHeaderFieldsTooLarge)
	if err != nil {
		return err
	}
	p.headerBytes += p.off - start
	if len(line) == 0 {
		return p.headersDone()
	}
	name, value, err := splitField(line)
	if err != nil {
		return err
	}
	p.req.header.Add(name, value)
	return nil
}

func splitField(line []byte) (string, string, error) {
	if line[0] == ' ' || line[0] == '\t' {
		return "", "", protocolError(StatusBadRequest, "obsolete line folding")
	}
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return "", "", protocolError(StatusBadRequest, "malformed header line")
	}
	name := string(line[:i])
	if !httpguts.ValidHeaderFieldName(name) {
		return "", "", protocolError(StatusBadRequest, "invalid header name %q", name)
	}
	value := strings.Trim(string(line[i+1:]), " \t")
	if !httpguts.ValidHeaderFieldValue(value) {
		return "", "", protocolError(StatusBadRequest, "invalid value for header %q", name)
	}
	return name, value, nil
}

// headersDone decides framing and keep-alive once the header block ended.
func (p *Parser) headersDone() error {
	req := p.req
	h := req.header

	conn := []string{h.Get(HeaderConnection)}
	if req.proto == "HTTP/1.0" {
		req.keepAlive = httpguts.HeaderValuesContainsToken(conn, "keep-alive")
	} else {
		req.keepAlive = !httpguts.HeaderValuesContainsToken(conn, "close")
	}

	te, hasTE := h.Lookup(HeaderTransferEncoding)
	cl, hasCL := h.Lookup(HeaderContentLength)
	if hasTE && hasCL {
		return protocolError(StatusBadRequest, "both Transfer-Encoding and Content-Length present")
	}

	if hasTE {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return protocolError(StatusNotImplemented, "unsupported transfer encoding %q", te)
		}
		p.body = requestBodyPool.Get()
		p.state = ParseChunkSize
		p.expect = expectsContinue(req)
		return nil
	}

	length := 0
	if hasCL {
		n, err := parseContentLength(cl)
		if err != nil {
			return err
		}
		length = n
	}
	if length > p.limits.MaxBodyBytes {
		return protocolError(StatusRequestEntityTooLarge, "body of %d bytes exceeds %d", length, p.limits.MaxBodyBytes)
	}
	if length == 0 {
		p.state = ParseRequestLine
		return nil
	}
	p.remaining = length
	p.state = ParseBody
	p.expect = expectsContinue(req)
	return nil
}

func expectsContinue(req *Request) bool {
	return req.proto == "HTTP/1.1" && strings.EqualFold(req.header.Get(HeaderExpect), "100-continue")
}

// parseContentLength accepts repeated fields only when all values agree.
func parseContentLength(v string) (int, error) {
	n := -1
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return 0, protocolError(StatusBadRequest, "empty Content-Length")
		}
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return 0, protocolError(StatusBadRequest, "invalid Content-Length %q", v)
			}
		}
		m, err := strconv.Atoi(part)
		if err != nil {
			return 0, protocolError(StatusRequestEntityTooLarge, "Content-Length %q out of range", part)
		}
		if n >= 0 && m != n {
			return 0, protocolError(StatusBadRequest, "conflicting Content-Length values")
		}
		n = m
	}
	return n, nil
}

func (p *Parser) readFixedBody() error {
	if p.Buffered() < p.remaining {
		return ErrPartial
	}
	body := make([]byte, p.remaining)
	copy(body, p.buf[p.off:])
	p.off += p.remaining
	p.remaining = 0
	p.req.body = body
	p.state = ParseRequestLine
	return nil
}

func (p *Parser) readChunkSize() error {
	line, err := p.line(p.limits.MaxLineBytes, StatusBadRequest)
	if err != nil {
		return err
	}
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, " \t")
	size, err := parseHex(line)
	if err != nil {
		return err
	}
	if size == 0 {
		p.state = ParseTrailers
		return nil
	}
	if p.body.Len()+size > p.limits.MaxBodyBytes {
		return protocolError(StatusRequestEntityTooLarge, "chunked body exceeds %d bytes", p.limits.MaxBodyBytes)
	}
	p.remaining = size
	p.state = ParseChunkData
	return nil
}

func parseHex(v []byte) (int, error) {
	if len(v) == 0 {
		return 0, protocolError(StatusBadRequest, "empty chunk size")
	}
	if len(v) > 15 {
		return 0, protocolError(StatusBadRequest, "chunk size too large")
	}
	n := 0
	for _, b := range v {
		switch {
		case '0' <= b && b <= '9':
			b -= '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, protocolError(StatusBadRequest, "invalid byte in chunk size")
		}
		n = n<<4 | int(b)
	}
	return n, nil
}

func (p *Parser) readChunkData() error {
	// chunk payload plus its CRLF
	if p.Buffered() < p.remaining+2 {
		if p.Buffered() >= p.remaining+1 && p.buf[p.off+p.remaining] != '\r' {
			return protocolError(StatusBadRequest, "missing CRLF after chunk")
		}
		return ErrPartial
	}
	end := p.off + p.remaining
	if p.buf[end] != '\r' || p.buf[end+1] != '\n' {
		return protocolError(StatusBadRequest, "missing CRLF after chunk")
	}
	p.body.Write(p.buf[p.off:end])
	p.off = end + 2
	p.remaining = 0
	p.state = ParseChunkSize
	return nil
}

func (p *Parser) readTrailerLine() error {
	start := p.off
	budget := p.limits.MaxHeaderBytes - p.headerBytes
	line, err := p.line(budget, StatusHeaderFieldsTooLarge)
	if err != nil {
		return err
	}
	p.headerBytes += p.off - start
	if len(line) != 0 {
		// trailers are validated and dropped
		_, _, err := splitField(line)
		return err
	}
	p.req.body = append([]byte(nil), p.body.B...)
	requestBodyPool.Put(p.body)
	p.body = nil
	p.state = ParseRequestLine
	return nil
}
