package http

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

var (
	byteCRLF       = []byte("\r\n")
	byteColonSpace = []byte(": ")
	byteLastChunk  = []byte("0\r\n\r\n")
)

// ContinueLine is the interim response sent for Expect: 100-continue.
var ContinueLine = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// TimeFormat is the RFC 1123 layout used for the Date header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// WriteOptions controls how a response is serialized.
type WriteOptions struct {
	Server   string
	Date     string
	Proto    string // request protocol; HTTP/1.0 gets no chunked framing
	HeadOnly bool   // HEAD request: headers only
	Close    bool   // add Connection: close
}

func writeLine(w *bufio.Writer, key, value string) {
	w.WriteString(key)
	w.Write(byteColonSpace)
	w.WriteString(value)
	w.Write(byteCRLF)
}

// Serialize writes the status line, headers and body to w. It does not
// flush.
func (r *Response) Serialize(w *bufio.Writer, opts WriteOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var body []byte
	if r.body != nil {
		body = r.body.B
	}

	w.Write(statusLine(r.status))
	if _, ok := r.header.get(HeaderServer); !ok && opts.Server != "" {
		writeLine(w, HeaderServer, opts.Server)
	}
	if opts.Date != "" {
		writeLine(w, HeaderDate, opts.Date)
	}

	legacy := opts.Proto == "HTTP/1.0"
	chunked := false
	if te, ok := r.header.get(HeaderTransferEncoding); ok && !legacy {
		chunked = httpguts.HeaderValuesContainsToken([]string{te}, "chunked")
	}
	allowed := bodyAllowed(r.status)

	for _, f := range r.header.fields {
		switch {
		case strings.EqualFold(f.name, HeaderContentLength),
			strings.EqualFold(f.name, HeaderDate),
			strings.EqualFold(f.name, HeaderConnection):
			continue
		case strings.EqualFold(f.name, HeaderTransferEncoding) && (!chunked || !allowed):
			continue
		}
		writeLine(w, f.name, f.value)
	}

	if allowed && !chunked {
		writeLine(w, HeaderContentLength, strconv.Itoa(len(body)))
	}
	if opts.Close {
		writeLine(w, HeaderConnection, "close")
	} else if legacy {
		writeLine(w, HeaderConnection, "keep-alive")
	}
	w.Write(byteCRLF)

	if !allowed || opts.HeadOnly {
		return nil
	}
	if chunked {
		return writeChunked(w, body)
	}
	if _, err := w.Write(body); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func writeChunked(w *bufio.Writer, body []byte) error {
	if len(body) > 0 {
		var size [16]byte
		w.Write(strconv.AppendInt(size[:0], int64(len(body)), 16))
		w.Write(byteCRLF)
		w.Write(body)
		w.Write(byteCRLF)
	}
	if _, err := w.Write(byteLastChunk); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// WriteStatus writes a minimal text/plain response for code. Used for
// protocol errors and rejections where no handler chain runs.
func WriteStatus(w *bufio.Writer, code int, opts WriteOptions, extra ...string) error {
	res := NewResponse()
	defer res.Release()
	for i := 0; i+1 < len(extra); i += 2 {
		res.Set(extra[i], extra[i+1])
	}
	res.SendStatus(code)
	return res.Serialize(w, opts)
}
