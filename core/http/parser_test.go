package http

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func parseAll(t *testing.T, p *Parser, input string) []*Request {
	t.Helper()
	p.Feed([]byte(input))
	var out []*Request
	for {
		req, err := p.Next()
		if err == ErrPartial {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		out = append(out, req)
	}
}

func protocolStatus(err error) int {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

// TestParserSimpleGet 测试基本请求解析
func TestParserSimpleGet(t *testing.T) {
	p := NewParser(Limits{})
	reqs := parseAll(t, p, "GET /users/42?tag=a&tag=b HTTP/1.1\r\nHost: x\r\nX-Test: 1\r\n\r\n")
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Method() != MethodGet {
		t.Errorf("Expected GET, got %s", req.Method())
	}
	if req.Path() != "/users/42" {
		t.Errorf("Expected path /users/42, got %s", req.Path())
	}
	if got := req.QueryAll("tag"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Expected tag=[a b], got %v", got)
	}
	if req.Get("x-test") != "1" {
		t.Errorf("Expected case-insensitive header lookup")
	}
	if !req.KeepAlive() {
		t.Errorf("HTTP/1.1 should default to keep-alive")
	}
}

func TestParserPartialInput(t *testing.T) {
	p := NewParser(Limits{})
	raw := "POST /echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"
	for i := 0; i < len(raw)-1; i++ {
		p.Feed([]byte{raw[i]})
		if _, err := p.Next(); err != ErrPartial {
			t.Fatalf("byte %d: expected ErrPartial, got %v", i, err)
		}
	}
	p.Feed([]byte{raw[len(raw)-1]})
	req, err := p.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if string(req.Body()) != "hello" {
		t.Errorf("Expected body hello, got %q", req.Body())
	}
	if p.InProgress() {
		t.Errorf("Parser should be idle after a complete request")
	}
}

func TestParserPipelined(t *testing.T) {
	p := NewParser(Limits{})
	reqs := parseAll(t, p,
		"GET /a HTTP/1.1\r\n\r\n"+
			"\r\n"+
			"POST /b HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc"+
			"GET /c HTTP/1.1\r\n\r\n")
	if len(reqs) != 3 {
		t.Fatalf("Expected 3 requests, got %d", len(reqs))
	}
	for i, want := range []string{"/a", "/b", "/c"} {
		if reqs[i].Path() != want {
			t.Errorf("request %d: expected %s, got %s", i, want, reqs[i].Path())
		}
	}
	if string(reqs[1].Body()) != "abc" {
		t.Errorf("Expected body abc, got %q", reqs[1].Body())
	}
}

func TestParserChunked(t *testing.T) {
	p := NewParser(Limits{})
	reqs := parseAll(t, p, "POST /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"5;ext=1\r\nhello\r\n"+
		"6\r\n world\r\n"+
		"0\r\nX-Trailer: t\r\n\r\n")
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	if string(reqs[0].Body()) != "hello world" {
		t.Errorf("Expected body 'hello world', got %q", reqs[0].Body())
	}
}

func TestParserHTTP10KeepAlive(t *testing.T) {
	p := NewParser(Limits{})
	reqs := parseAll(t, p, "GET / HTTP/1.0\r\n\r\nGET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	if len(reqs) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].KeepAlive() {
		t.Errorf("HTTP/1.0 should close by default")
	}
	if !reqs[1].KeepAlive() {
		t.Errorf("HTTP/1.0 with keep-alive should stay open")
	}
}

func TestParserConnectionClose(t *testing.T) {
	p := NewParser(Limits{})
	reqs := parseAll(t, p, "GET / HTTP/1.1\r\nConnection: Close\r\n\r\n")
	if reqs[0].KeepAlive() {
		t.Errorf("Connection: close should disable keep-alive")
	}
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		limits Limits
		status int
	}{
		{"garbage", "HELLO\r\n\r\n", Limits{}, StatusBadRequest},
		{"missing version", "GET /\r\n\r\n", Limits{}, StatusBadRequest},
		{"bad version", "GET / HTTP/2.0\r\n\r\n", Limits{}, StatusVersionNotSupported},
		{"lower-case method", "get / HTTP/1.1\r\n\r\n", Limits{}, StatusNotImplemented},
		{"unknown method", "BREW / HTTP/1.1\r\n\r\n", Limits{}, StatusNotImplemented},
		{"bad target", "GET users HTTP/1.1\r\n\r\n", Limits{}, StatusBadRequest},
		{"no colon", "GET / HTTP/1.1\r\nBroken\r\n\r\n", Limits{}, StatusBadRequest},
		{"space in name", "GET / HTTP/1.1\r\nBad Name: x\r\n\r\n", Limits{}, StatusBadRequest},
		{"obs fold", "GET / HTTP/1.1\r\nA: b\r\n c\r\n\r\n", Limits{}, StatusBadRequest},
		{"gzip encoding", "POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", Limits{}, StatusNotImplemented},
		{"te and cl", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 3\r\n\r\n", Limits{}, StatusBadRequest},
		{"bad length", "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", Limits{}, StatusBadRequest},
		{"conflicting length", "POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 4\r\n\r\n", Limits{}, StatusBadRequest},
		{"body too large", "POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\n", Limits{MaxBodyBytes: 10}, StatusRequestEntityTooLarge},
		{"chunked too large", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nb\r\n", Limits{MaxBodyBytes: 10}, StatusRequestEntityTooLarge},
		{"bad chunk size", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n", Limits{}, StatusBadRequest},
		{"long line", "GET /" + strings.Repeat("a", 64) + " HTTP/1.1\r\n", Limits{MaxLineBytes: 32}, StatusRequestURITooLong},
		{"large headers", "GET / HTTP/1.1\r\nA: " + strings.Repeat("b", 64) + "\r\n", Limits{MaxHeaderBytes: 32}, StatusHeaderFieldsTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(tt.limits)
			p.Feed([]byte(tt.input))
			_, err := p.Next()
			if err == nil || err == ErrPartial {
				t.Fatalf("Expected protocol error, got %v", err)
			}
			if got := protocolStatus(err); got != tt.status {
				t.Errorf("Expected status %d, got %d (%v)", tt.status, got, err)
			}
			if StatusOf(err) != tt.status {
				t.Errorf("StatusOf() = %d, want %d", StatusOf(err), tt.status)
			}
		})
	}
}

func TestParserLongLineWithoutNewline(t *testing.T) {
	p := NewParser(Limits{MaxLineBytes: 16})
	p.Feed([]byte("GET /" + strings.Repeat("x", 32)))
	_, err := p.Next()
	if protocolStatus(err) != StatusRequestURITooLong {
		t.Errorf("Expected 414 before the line completes, got %v", err)
	}
}

func TestParserExpectContinue(t *testing.T) {
	p := NewParser(Limits{})
	p.Feed([]byte("POST /up HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\n"))
	if _, err := p.Next(); err != ErrPartial {
		t.Fatalf("Expected ErrPartial, got %v", err)
	}
	if !p.NeedsContinue() {
		t.Fatal("Expected NeedsContinue after headers")
	}
	if p.NeedsContinue() {
		t.Error("NeedsContinue should report only once")
	}
	p.Feed([]byte("data"))
	req, err := p.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if string(req.Body()) != "data" {
		t.Errorf("Expected body data, got %q", req.Body())
	}
}

func TestParserAbsoluteTarget(t *testing.T) {
	p := NewParser(Limits{})
	reqs := parseAll(t, p, "GET http://example.com/x?y=1 HTTP/1.1\r\n\r\n")
	if reqs[0].Path() != "/x" || reqs[0].Query("y") != "1" {
		t.Errorf("Expected /x?y=1, got %s", reqs[0].URL())
	}
}

func BenchmarkParser(b *testing.B) {
	raw := []byte("GET /users/42?x=1 HTTP/1.1\r\nHost: localhost\r\nUser-Agent: bench\r\nAccept: */*\r\n\r\n")
	p := NewParser(Limits{})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Feed(raw)
		if _, err := p.Next(); err != nil {
			b.Fatal(err)
		}
	}
}
