package middleware

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/searchktools/flash/core/http"
)

func newTurn(t testing.TB, chain ...any) *http.Context {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "/test", http.Header{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	handlers := make([]http.Handler, len(chain))
	for i, h := range chain {
		handlers[i] = http.MustAdapt(h)
	}
	c := &http.Context{}
	c.Init(req, http.NewResponse(), handlers, zerolog.Nop())
	return c
}

func withTimeout(c *http.Context, d time.Duration) context.CancelFunc {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	c.Request.WithContext(ctx)
	return cancel
}

// TestExecutorOrder 测试中间件执行顺序
func TestExecutorOrder(t *testing.T) {
	var order []int
	step := func(n int) func(*http.Request, *http.Response, http.Next) {
		return func(_ *http.Request, _ *http.Response, next http.Next) {
			order = append(order, n)
			next()
		}
	}
	c := newTurn(t, step(1), step(2), step(3), func(_ *http.Request, res *http.Response) {
		order = append(order, 4)
		res.SendString("done")
	})

	if err := NewExecutor().Run(c); err != nil {
		t.Fatal(err)
	}

	expected := []int{1, 2, 3, 4}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d executions, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("Expected order[%d] = %d, got %d", i, v, order[i])
		}
	}
	if string(c.Response.Body()) != "done" {
		t.Errorf("Unexpected body %q", c.Response.Body())
	}
}

// TestExecutorEndHalts 测试响应结束后终止链
func TestExecutorEndHalts(t *testing.T) {
	laterRan := false
	c := newTurn(t,
		func(_ *http.Request, res *http.Response, next http.Next) {
			res.SendString("first")
			next()
		},
		func(_ *http.Request, res *http.Response) {
			laterRan = true
			res.SendString("second")
		},
	)
	if err := NewExecutor().Run(c); err != nil {
		t.Fatal(err)
	}
	if laterRan {
		t.Error("Handler after an ended response should not run")
	}
	if string(c.Response.Body()) != "first" {
		t.Errorf("First write should win, got %q", c.Response.Body())
	}
}

func TestExecutorFailReachesErrorHandler(t *testing.T) {
	boom := errors.New("boom")
	var skipped, got bool
	var seen error
	c := newTurn(t,
		func(_ *http.Request, _ *http.Response, _ http.Next, fail http.Fail) {
			fail(boom)
		},
		func(_ *http.Request, _ *http.Response, next http.Next) {
			skipped = true
			next()
		},
		func(err error, _ *http.Request, res *http.Response, _ http.Next) {
			got = true
			seen = err
			res.Status(http.StatusTeapot)
			res.SendString("handled")
		},
	)
	var reported []error
	e := NewExecutor()
	e.OnError = func(err error, _ *http.Request) { reported = append(reported, err) }

	if err := e.Run(c); err != nil {
		t.Fatal(err)
	}
	if skipped {
		t.Error("Normal handler should be skipped in error mode")
	}
	if !got || seen != boom {
		t.Errorf("Error handler should receive the error, got %v", seen)
	}
	if c.Response.StatusCode() != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", c.Response.StatusCode())
	}
	if len(reported) != 1 || reported[0] != boom {
		t.Errorf("Expected the error to be reported once, got %v", reported)
	}
}

func TestExecutorErrorHandlersChain(t *testing.T) {
	var calls []string
	c := newTurn(t,
		func(_ *http.Request, _ *http.Response, _ http.Next, fail http.Fail) {
			fail(errors.New("first"))
		},
		func(err error, _ *http.Request, _ *http.Response, _ http.Next, fail http.Fail) {
			calls = append(calls, "eh1:"+err.Error())
			fail(errors.Wrap(err, "second"))
		},
		func(err error, _ *http.Request, res *http.Response, _ http.Next) {
			calls = append(calls, "eh2:"+err.Error())
			res.End()
		},
	)
	NewExecutor().Run(c)
	want := []string{"eh1:first", "eh2:second: first"}
	if strings.Join(calls, "|") != strings.Join(want, "|") {
		t.Errorf("Expected %v, got %v", want, calls)
	}
}

func TestExecutorNextFromErrorHandlerResumes(t *testing.T) {
	c := newTurn(t,
		func(_ *http.Request, _ *http.Response, _ http.Next, fail http.Fail) {
			fail(errors.New("recoverable"))
		},
		func(_ error, _ *http.Request, _ *http.Response, next http.Next) {
			next()
		},
		func(_ *http.Request, res *http.Response) {
			res.SendString("recovered")
		},
	)
	NewExecutor().Run(c)
	if string(c.Response.Body()) != "recovered" {
		t.Errorf("Expected normal flow to resume, got %q", c.Response.Body())
	}
}

func TestExecutorDefaultErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"plain error", errors.New("secret detail"), http.StatusInternalServerError, "Internal Server Error"},
		{"client error", http.NewError(http.StatusBadRequest, "name is required"), http.StatusBadRequest, "name is required"},
		{"server error hides message", http.NewError(http.StatusServiceUnavailable, "db down"), http.StatusServiceUnavailable, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTurn(t, func(_ *http.Request, _ *http.Response, _ http.Next, fail http.Fail) {
				fail(tt.err)
			})
			NewExecutor().Run(c)
			if c.Response.StatusCode() != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, c.Response.StatusCode())
			}
			if string(c.Response.Body()) != tt.body {
				t.Errorf("Expected body %q, got %q", tt.body, c.Response.Body())
			}
		})
	}
}

func TestExecutorErrorAfterSend(t *testing.T) {
	c := newTurn(t, func(_ *http.Request, res *http.Response, _ http.Next, fail http.Fail) {
		res.SendString("ok")
		fail(errors.New("late"))
	})
	var reported int
	e := NewExecutor()
	e.OnError = func(error, *http.Request) { reported++ }
	e.Run(c)
	if c.Response.StatusCode() != http.StatusOK || string(c.Response.Body()) != "ok" {
		t.Errorf("Sent response must not be replaced: %d %q", c.Response.StatusCode(), c.Response.Body())
	}
	if reported != 1 {
		t.Errorf("Error should still be reported, got %d", reported)
	}
}

func TestExecutorPanic(t *testing.T) {
	c := newTurn(t, func(*http.Request, *http.Response) {
		panic("test panic")
	})
	var perr *http.PanicError
	e := NewExecutor()
	e.OnError = func(err error, _ *http.Request) { errors.As(err, &perr) }
	if err := e.Run(c); err != nil {
		t.Fatal(err)
	}
	if perr == nil || perr.Value != "test panic" {
		t.Errorf("Expected PanicError to be reported, got %v", perr)
	}
	if c.Response.StatusCode() != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", c.Response.StatusCode())
	}
}

func TestExecutorNotFound(t *testing.T) {
	c := newTurn(t, func(_ *http.Request, _ *http.Response, next http.Next) {
		next()
	})
	done := make(chan struct{})
	go func() {
		NewExecutor().Run(c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exhausted chain stalled")
	}
	if c.Response.StatusCode() != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", c.Response.StatusCode())
	}
	if string(c.Response.Body()) != "Cannot GET /test" {
		t.Errorf("Unexpected body %q", c.Response.Body())
	}
}

// TestExecutorDefaultResponseDiscardsPartialOutput 测试默认错误响应丢弃已写入的内容
func TestExecutorDefaultResponseDiscardsPartialOutput(t *testing.T) {
	tests := []struct {
		name   string
		last   func(next http.Next, fail http.Fail)
		status int
		body   string
	}{
		{"fail", func(_ http.Next, fail http.Fail) { fail(errors.New("encode failed")) }, http.StatusInternalServerError, "Internal Server Error"},
		{"not found", func(next http.Next, _ http.Fail) { next() }, http.StatusNotFound, "Cannot GET /test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTurn(t, func(_ *http.Request, res *http.Response, next http.Next, fail http.Fail) {
				res.Status(202) // 202 Accepted
				res.Set("X-Secret", "leak")
				res.Set(http.HeaderContentType, "application/json")
				res.WriteString(`{"partial":`)
				tt.last(next, fail)
			})
			NewExecutor().Run(c)

			res := c.Response
			if res.StatusCode() != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, res.StatusCode())
			}
			if string(res.Body()) != tt.body {
				t.Errorf("Expected body %q, got %q", tt.body, res.Body())
			}
			if v, ok := res.Get("X-Secret"); ok {
				t.Errorf("Handler header survived: X-Secret=%q", v)
			}
			if ct, _ := res.Get(http.HeaderContentType); ct != http.ContentTypeText {
				t.Errorf("Expected Content-Type %q, got %q", http.ContentTypeText, ct)
			}
		})
	}
}

func TestExecutorDoubleNext(t *testing.T) {
	count := 0
	c := newTurn(t,
		func(_ *http.Request, _ *http.Response, next http.Next) {
			next()
			next()
		},
		func(_ *http.Request, _ *http.Response, next http.Next) {
			count++
			next()
		},
		func(_ *http.Request, res *http.Response) {
			res.End()
		},
	)
	NewExecutor().Run(c)
	if count != 1 {
		t.Errorf("Second next() must be a no-op, handler ran %d times", count)
	}
}

func TestExecutorAsyncNext(t *testing.T) {
	c := newTurn(t,
		func(_ *http.Request, res *http.Response, next http.Next) {
			go func() {
				time.Sleep(10 * time.Millisecond)
				res.Set("X-Async", "1")
				next()
			}()
		},
		func(_ *http.Request, res *http.Response) {
			res.SendString("after async")
		},
	)
	cancel := withTimeout(c, time.Second)
	defer cancel()
	if err := NewExecutor().Run(c); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Response.Get("X-Async"); v != "1" || string(c.Response.Body()) != "after async" {
		t.Errorf("Async continuation not honored: %q %q", v, c.Response.Body())
	}
}

func TestExecutorStall(t *testing.T) {
	c := newTurn(t, func(*http.Request, *http.Response) {})
	cancel := withTimeout(c, 20*time.Millisecond)
	defer cancel()
	err := NewExecutor().Run(c)
	if errors.Cause(err) != ErrChainStalled {
		t.Errorf("Expected ErrChainStalled, got %v", err)
	}
	if c.Response.Ended() {
		t.Error("Executor must leave the stalled response to the connection")
	}
}

func TestCORSPreflight(t *testing.T) {
	reached := false
	c := newTurn(t, CORS(), func(*http.Request, *http.Response) { reached = true })
	c.Request, _ = http.NewRequest(http.MethodOptions, "/x", http.Header{}, nil)
	NewExecutor().Run(c)
	if reached {
		t.Error("Preflight should stop the chain")
	}
	if c.Response.StatusCode() != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", c.Response.StatusCode())
	}
	if v, _ := c.Response.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Expected allow-origin *, got %q", v)
	}
}

// TestRequestIDMiddleware 测试 RequestID 中间件
func TestRequestIDMiddleware(t *testing.T) {
	c := newTurn(t, RequestID(), func(_ *http.Request, res *http.Response) { res.End() })
	NewExecutor().Run(c)
	id, ok := c.Response.Get(HeaderRequestID)
	if !ok || id == "" {
		t.Fatal("Expected X-Request-ID to be set")
	}
	if c.Response.Locals()["requestID"] != id {
		t.Error("Expected request id in locals")
	}

	h := http.NewHeader()
	h.Set(HeaderRequestID, "given")
	c2 := newTurn(t, RequestID(), func(_ *http.Request, res *http.Response) { res.End() })
	c2.Request, _ = http.NewRequest(http.MethodGet, "/", h, nil)
	NewExecutor().Run(c2)
	if id, _ := c2.Response.Get(HeaderRequestID); id != "given" {
		t.Errorf("Expected incoming id to be reused, got %q", id)
	}
}

// TestRateLimiter 测试限流中间件
func TestRateLimiter(t *testing.T) {
	limiter := RateLimiter(2) // 每秒 2 个请求
	run := func() *http.Response {
		c := newTurn(t, limiter, func(_ *http.Request, res *http.Response) { res.End() })
		NewExecutor().Run(c)
		return c.Response
	}

	// 前两个请求应该通过
	for i := 0; i < 2; i++ {
		if res := run(); res.StatusCode() != http.StatusOK {
			t.Errorf("Request %d should not be rate limited", i+1)
		}
	}

	// 第三个请求应该被限流
	if res := run(); res.StatusCode() != http.StatusTooManyRequests {
		t.Errorf("Third request should be rate limited, got %d", res.StatusCode())
	}

	// 等待 1 秒后应该恢复
	time.Sleep(1100 * time.Millisecond)
	if res := run(); res.StatusCode() != http.StatusOK {
		t.Error("Request after refill should not be rate limited")
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var (
		mu  sync.Mutex
		buf strings.Builder
	)
	w := zerolog.SyncWriter(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	}))
	c := newTurn(t, Logger(zerolog.New(w)), func(_ *http.Request, res *http.Response) {
		res.SendString("ok")
	})
	cancel := withTimeout(c, time.Second)
	NewExecutor().Run(c)
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		out := buf.String()
		mu.Unlock()
		if strings.Contains(out, `"status":200`) {
			if !strings.Contains(out, `"path":"/test"`) {
				t.Errorf("Access log missing path: %s", out)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Access log was not written")
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// BenchmarkExecutor 管道性能基准测试
func BenchmarkExecutor(b *testing.B) {
	pass := func(_ *http.Request, _ *http.Response, next http.Next) { next() }
	final := func(_ *http.Request, res *http.Response) { res.End() }
	e := NewExecutor()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c := newTurn(b, pass, pass, pass, final)
		e.Run(c)
	}
}

// BenchmarkRequestIDMiddleware RequestID 中间件基准测试
func BenchmarkRequestIDMiddleware(b *testing.B) {
	e := NewExecutor()
	id := RequestID()
	final := func(_ *http.Request, res *http.Response) { res.End() }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Run(newTurn(b, id, final))
	}
}
