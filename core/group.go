package core

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/searchktools/flash/core/http"
	"github.com/searchktools/flash/core/router"
)

// Group registers routes under a common prefix with shared handlers that run
// before each route's own handlers.
type Group struct {
	engine   *Engine
	prefix   string
	handlers []any
}

// Group returns a route group rooted at prefix.
func (e *Engine) Group(prefix string, handlers ...any) *Group {
	return &Group{engine: e, prefix: cleanPrefix(prefix), handlers: handlers}
}

// Group returns a nested group.
func (g *Group) Group(prefix string, handlers ...any) *Group {
	shared := make([]any, 0, len(g.handlers)+len(handlers))
	shared = append(shared, g.handlers...)
	shared = append(shared, handlers...)
	return &Group{engine: g.engine, prefix: g.prefix + cleanPrefix(prefix), handlers: shared}
}

// Use adds shared handlers for routes registered on g afterwards.
func (g *Group) Use(handlers ...any) {
	g.handlers = append(g.handlers, handlers...)
}

// Prefix returns the group prefix.
func (g *Group) Prefix() string {
	return g.prefix
}

// Handle registers a route below the group prefix.
func (g *Group) Handle(method http.Method, pattern string, handlers ...any) error {
	if len(handlers) == 0 {
		return &router.ConfigurationError{Method: method, Pattern: g.prefix + pattern, Reason: "no handlers"}
	}
	all := make([]any, 0, len(g.handlers)+len(handlers))
	all = append(all, g.handlers...)
	all = append(all, handlers...)
	return errors.WithMessage(g.engine.Handle(method, g.join(pattern), all...), "group "+g.prefix)
}

func (g *Group) mustHandle(method http.Method, pattern string, handlers []any) {
	if err := g.Handle(method, pattern, handlers...); err != nil {
		panic(err)
	}
}

// GET registers a GET route in the group.
func (g *Group) GET(pattern string, handlers ...any) {
	g.mustHandle(http.MethodGet, pattern, handlers)
}

// POST registers a POST route in the group.
func (g *Group) POST(pattern string, handlers ...any) {
	g.mustHandle(http.MethodPost, pattern, handlers)
}

// PUT registers a PUT route in the group.
func (g *Group) PUT(pattern string, handlers ...any) {
	g.mustHandle(http.MethodPut, pattern, handlers)
}

// PATCH registers a PATCH route in the group.
func (g *Group) PATCH(pattern string, handlers ...any) {
	g.mustHandle(http.MethodPatch, pattern, handlers)
}

// DELETE registers a DELETE route in the group.
func (g *Group) DELETE(pattern string, handlers ...any) {
	g.mustHandle(http.MethodDelete, pattern, handlers)
}

// All registers the handlers for every method.
func (g *Group) All(pattern string, handlers ...any) {
	for _, m := range http.Methods {
		g.mustHandle(m, pattern, handlers)
	}
}

func (g *Group) join(pattern string) string {
	if pattern == "" || pattern == "/" {
		if g.prefix == "" {
			return "/"
		}
		return g.prefix
	}
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	return g.prefix + pattern
}

// cleanPrefix returns prefix with a leading slash and no trailing slash; the
// root prefix is empty.
func cleanPrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}
