package router

import (
	"fmt"
	"strings"

	"github.com/searchktools/flash/core/http"
)

type segmentType uint8

const (
	static   segmentType = iota // literal segment
	param                       // :name
	catchAll                    // * or *name, last segment only
)

// WildcardKey is the parameter name bound by an unnamed wildcard.
const WildcardKey = "*"

type segment struct {
	kind  segmentType
	value string // literal text or parameter name
}

// Pattern is a compiled path template.
type Pattern struct {
	source   string
	segments []segment
	static   bool
}

// ConfigurationError reports a route that cannot be registered.
type ConfigurationError struct {
	Method  http.Method
	Pattern string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("route %s %q: %s", e.Method, e.Pattern, e.Reason)
	}
	return fmt.Sprintf("route %q: %s", e.Pattern, e.Reason)
}

// ParsePattern compiles a "/"-delimited template. ":name" binds one segment,
// a final "*" or "*name" binds the remaining path.
func ParsePattern(source string) (*Pattern, error) {
	fail := func(format string, args ...any) (*Pattern, error) {
		return nil, &ConfigurationError{Pattern: source, Reason: fmt.Sprintf(format, args...)}
	}
	if source == "" || source[0] != '/' {
		return fail("pattern must begin with '/'")
	}

	p := &Pattern{source: source, static: true}
	seen := make(map[string]bool)
	parts := splitPath(source)
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if !validName(name) {
				return fail("invalid parameter name %q", part)
			}
			if seen[name] {
				return fail("duplicate parameter %q", name)
			}
			seen[name] = true
			p.segments = append(p.segments, segment{kind: param, value: name})
			p.static = false
		case strings.HasPrefix(part, "*"):
			if i != len(parts)-1 {
				return fail("wildcard must be the last segment")
			}
			name := part[1:]
			if name == "" {
				name = WildcardKey
			} else if !validName(name) {
				return fail("invalid wildcard name %q", part)
			}
			if seen[name] {
				return fail("duplicate parameter %q", name)
			}
			seen[name] = true
			p.segments = append(p.segments, segment{kind: catchAll, value: name})
			p.static = false
		default:
			if part == "" && i != len(parts)-1 {
				return fail("empty segment")
			}
			p.segments = append(p.segments, segment{kind: static, value: part})
		}
	}
	return p, nil
}

// String returns the template as registered.
func (p *Pattern) String() string {
	return p.source
}

// Params returns the parameter names in template order.
func (p *Pattern) Params() []string {
	var names []string
	for _, s := range p.segments {
		if s.kind != static {
			names = append(names, s.value)
		}
	}
	return names
}

// Match tests path against the template segment by segment. Literal
// segments are compared case-sensitively; parameter values are
// percent-decoded, keeping the raw text when decoding fails.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	parts := splitPath(path)
	var params map[string]string
	bind := func(name, raw string, decode bool) {
		if params == nil {
			params = make(map[string]string, 2)
		}
		if decode {
			if v, err := http.DecodePathSegment(raw); err == nil {
				raw = v
			}
		}
		params[name] = raw
	}

	for i, seg := range p.segments {
		switch seg.kind {
		case catchAll:
			rest := ""
			if i < len(parts) {
				rest = strings.Join(parts[i:], "/")
			}
			bind(seg.value, rest, true)
			return params, true
		case param:
			if i >= len(parts) || parts[i] == "" {
				return nil, false
			}
			bind(seg.value, parts[i], true)
		default:
			if i >= len(parts) || parts[i] != seg.value {
				return nil, false
			}
		}
	}
	if len(parts) != len(p.segments) {
		return nil, false
	}
	return params, true
}

// splitPath drops the leading slash and one trailing slash, then splits on
// "/". The root path yields a single empty segment.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if len(path) > 0 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return strings.Split(path, "/")
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}
