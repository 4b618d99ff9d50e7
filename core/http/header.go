package http

import (
	"strings"
)

// Common header names
const (
	HeaderContentType      = "Content-Type"
	HeaderContentLength    = "Content-Length"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderConnection       = "Connection"
	HeaderHost             = "Host"
	HeaderExpect           = "Expect"
	HeaderDate             = "Date"
	HeaderServer           = "Server"
	HeaderLocation         = "Location"
	HeaderRetryAfter       = "Retry-After"
	HeaderUserAgent        = "User-Agent"
)

// Header is a request header set with case-insensitive names. Repeated
// fields are joined with ", " as they arrive.
type Header struct {
	values map[string]string
	names  map[string]string // lower-case key -> name as first seen
}

// NewHeader returns an empty header set.
func NewHeader() Header {
	return Header{
		values: make(map[string]string, 8),
		names:  make(map[string]string, 8),
	}
}

// Get returns the value for name, or "" if absent.
func (h Header) Get(name string) string {
	return h.values[strings.ToLower(name)]
}

// Lookup returns the value for name and whether it was present.
func (h Header) Lookup(name string) (string, bool) {
	v, ok := h.values[strings.ToLower(name)]
	return v, ok
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

// Add appends value to name, joining repeated fields.
func (h Header) Add(name, value string) {
	key := strings.ToLower(name)
	if prev, ok := h.values[key]; ok {
		h.values[key] = prev + ", " + value
		return
	}
	h.values[key] = value
	h.names[key] = name
}

// Set replaces the value for name.
func (h Header) Set(name, value string) {
	key := strings.ToLower(name)
	h.values[key] = value
	if _, ok := h.names[key]; !ok {
		h.names[key] = name
	}
}

// Del removes name.
func (h Header) Del(name string) {
	key := strings.ToLower(name)
	delete(h.values, key)
	delete(h.names, key)
}

// Len returns the number of distinct fields.
func (h Header) Len() int {
	return len(h.values)
}

// Each calls fn for every field with the name as first received.
func (h Header) Each(fn func(name, value string)) {
	for key, v := range h.values {
		fn(h.names[key], v)
	}
}

// headerField is one response header line.
type headerField struct {
	name  string
	value string
}

// fieldList keeps response headers in insertion order with case-insensitive
// replacement.
type fieldList struct {
	fields []headerField
}

func (l *fieldList) index(name string) int {
	for i := range l.fields {
		if strings.EqualFold(l.fields[i].name, name) {
			return i
		}
	}
	return -1
}

func (l *fieldList) get(name string) (string, bool) {
	if i := l.index(name); i >= 0 {
		return l.fields[i].value, true
	}
	return "", false
}

func (l *fieldList) set(name, value string) {
	if i := l.index(name); i >= 0 {
		l.fields[i].value = value
		return
	}
	l.fields = append(l.fields, headerField{name: name, value: value})
}

func (l *fieldList) append(name, value string) {
	l.fields = append(l.fields, headerField{name: name, value: value})
}

func (l *fieldList) del(name string) {
	out := l.fields[:0]
	for _, f := range l.fields {
		if !strings.EqualFold(f.name, name) {
			out = append(out, f)
		}
	}
	l.fields = out
}

func (l *fieldList) reset() {
	l.fields = l.fields[:0]
}
