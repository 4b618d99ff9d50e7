// Package router holds the ordered route table. Routes are matched in
// registration order: among overlapping patterns the earliest registered
// wins.
package router

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/searchktools/flash/core/http"
)

// ErrTableSealed is returned by Register once serving has started.
var ErrTableSealed = errors.New("route table is sealed")

// Route is one registered (method, pattern) binding.
type Route struct {
	Method   http.Method
	Pattern  *Pattern
	Handlers []http.Handler

	key   string
	chain []http.Handler
}

// Key identifies the route as "METHOD pattern".
func (r *Route) Key() string {
	return r.key
}

// Chain returns the compiled handler sequence, or the route handlers if the
// table was never compiled.
func (r *Route) Chain() []http.Handler {
	if r.chain != nil {
		return r.chain
	}
	return r.Handlers
}

// Table is an ordered route table. Registration must happen before Seal;
// after Seal, Match is lock-free and safe for any number of goroutines.
type Table struct {
	mu       sync.Mutex
	routes   []*Route
	byMethod map[http.Method][]*Route
	// first fully static route per method and normalized path, as an index
	// into byMethod
	static map[http.Method]map[string]int
	sealed atomic.Bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		byMethod: make(map[http.Method][]*Route),
		static:   make(map[http.Method]map[string]int),
	}
}

// Register appends a route.
func (t *Table) Register(method http.Method, pattern string, handlers ...http.Handler) error {
	if t.sealed.Load() {
		return errors.WithStack(ErrTableSealed)
	}
	if !method.Valid() {
		return &ConfigurationError{Method: method, Pattern: pattern, Reason: "unsupported method"}
	}
	if len(handlers) == 0 {
		return &ConfigurationError{Method: method, Pattern: pattern, Reason: "no handlers"}
	}
	for _, h := range handlers {
		if h == nil {
			return &ConfigurationError{Method: method, Pattern: pattern, Reason: "nil handler"}
		}
	}
	p, err := ParsePattern(pattern)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			ce.Method = method
		}
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed.Load() {
		return errors.WithStack(ErrTableSealed)
	}
	route := &Route{Method: method, Pattern: p, Handlers: handlers, key: string(method) + " " + p.String()}
	if p.static {
		key := staticKey(pattern)
		idx, ok := t.static[method]
		if !ok {
			idx = make(map[string]int)
			t.static[method] = idx
		}
		if _, dup := idx[key]; !dup {
			idx[key] = len(t.byMethod[method])
		}
	}
	t.routes = append(t.routes, route)
	t.byMethod[method] = append(t.byMethod[method], route)
	return nil
}

// Match returns the earliest registered route for method whose pattern
// matches path, with its bound parameters. ok is false when nothing
// matches.
func (t *Table) Match(method http.Method, path string) (route *Route, params map[string]string, ok bool) {
	if !t.sealed.Load() {
		t.mu.Lock()
		defer t.mu.Unlock()
	}

	routes := t.byMethod[method]
	limit := len(routes)
	staticIdx, hasStatic := t.static[method][staticKey(path)]
	if hasStatic {
		limit = staticIdx
	}
	for _, r := range routes[:limit] {
		if params, ok := r.Pattern.Match(path); ok {
			return r, params, true
		}
	}
	if hasStatic {
		return routes[staticIdx], nil, true
	}
	return nil, nil, false
}

// Allowed lists the methods that have a route matching path.
func (t *Table) Allowed(path string) []http.Method {
	var out []http.Method
	for _, m := range http.Methods {
		if _, _, ok := t.Match(m, path); ok {
			out = append(out, m)
		}
	}
	return out
}

// Compile builds every route's chain as leading + route handlers + trailing.
func (t *Table) Compile(leading, trailing []http.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.routes {
		chain := make([]http.Handler, 0, len(leading)+len(r.Handlers)+len(trailing))
		chain = append(chain, leading...)
		chain = append(chain, r.Handlers...)
		chain = append(chain, trailing...)
		r.chain = chain
	}
}

// Seal freezes the table. Later Register calls fail with ErrTableSealed.
func (t *Table) Seal() {
	t.mu.Lock()
	t.sealed.Store(true)
	t.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (t *Table) Sealed() bool {
	return t.sealed.Load()
}

// Routes returns the routes in registration order.
func (t *Table) Routes() []*Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}

func staticKey(path string) string {
	path = strings.TrimPrefix(path, "/")
	if n := len(path); n > 0 && path[n-1] == '/' {
		path = path[:n-1]
	}
	return path
}
