package middleware

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/searchktools/flash/core/http"
)

// Common middleware implementations

// Logger writes one access-log event per request once the response ends or
// the turn is over.
func Logger(logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(req *http.Request, res *http.Response, next http.Next, _ http.Fail) {
		start := time.Now()
		go func() {
			select {
			case <-res.Done():
			case <-req.Context().Done():
			}
			ev := logger.Info()
			if !res.Ended() {
				ev = logger.Warn()
			}
			ev.Str("method", req.Method().String()).
				Str("path", req.Path()).
				Str("remote", req.RemoteAddr()).
				Int("status", res.StatusCode()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next()
	})
}

// CORSOptions configures CORS. Zero values take permissive defaults.
type CORSOptions struct {
	AllowOrigin  string
	AllowMethods []http.Method
	AllowHeaders []string
	MaxAge       time.Duration
}

// CORS adds CORS headers and answers preflight requests with 204.
func CORS(opts ...CORSOptions) http.Handler {
	var o CORSOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.AllowOrigin == "" {
		o.AllowOrigin = "*"
	}
	if len(o.AllowMethods) == 0 {
		o.AllowMethods = []http.Method{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	}
	if len(o.AllowHeaders) == 0 {
		o.AllowHeaders = []string{"Content-Type", "Authorization"}
	}
	methods := make([]string, len(o.AllowMethods))
	for i, m := range o.AllowMethods {
		methods[i] = m.String()
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(o.AllowHeaders, ", ")

	return http.HandlerFunc(func(req *http.Request, res *http.Response, next http.Next, _ http.Fail) {
		res.Set("Access-Control-Allow-Origin", o.AllowOrigin)
		res.Set("Access-Control-Allow-Methods", allowMethods)
		res.Set("Access-Control-Allow-Headers", allowHeaders)
		if o.MaxAge > 0 {
			res.Set("Access-Control-Max-Age", strconv.Itoa(int(o.MaxAge.Seconds())))
		}

		if req.Method() == http.MethodOptions {
			res.Status(http.StatusNoContent)
			res.End()
			return
		}
		next()
	})
}

// RateLimiter implements rate limiting with a fixed one-second window.
func RateLimiter(requestsPerSecond int) http.Handler {
	var (
		tokens     int
		lastRefill time.Time
		mu         sync.Mutex
	)

	tokens = requestsPerSecond
	lastRefill = time.Now()

	return http.HandlerFunc(func(req *http.Request, res *http.Response, next http.Next, _ http.Fail) {
		mu.Lock()

		now := time.Now()
		elapsed := now.Sub(lastRefill)
		if elapsed > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}

		if tokens > 0 {
			tokens--
			mu.Unlock()
			next()
			return
		}

		mu.Unlock()

		res.Set(http.HeaderRetryAfter, "1")
		res.Status(http.StatusTooManyRequests)
		res.JSON(map[string]any{
			"error": "Too Many Requests",
		})
	})
}

// HeaderRequestID carries the request id.
const HeaderRequestID = "X-Request-ID"

// RequestID adds a request id to the response and to res.Locals()["requestID"].
// An incoming X-Request-ID is reused.
func RequestID() http.Handler {
	var counter uint64
	prefix := strconv.FormatInt(time.Now().UnixNano(), 36)

	return http.HandlerFunc(func(req *http.Request, res *http.Response, next http.Next, _ http.Fail) {
		id := req.Get(HeaderRequestID)
		if id == "" {
			id = prefix + "-" + strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
		}
		res.Set(HeaderRequestID, id)
		res.Locals()["requestID"] = id
		next()
	})
}
