package http

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// DecodeComponent decodes a query component: '+' becomes a space and
// percent escapes (including multi-byte UTF-8 sequences) are expanded.
func DecodeComponent(s string) (string, error) {
	if strings.IndexByte(s, '%') < 0 && strings.IndexByte(s, '+') < 0 {
		return s, nil
	}
	out, err := url.QueryUnescape(s)
	if err != nil {
		return "", errors.Wrapf(err, "decode %q", s)
	}
	return out, nil
}

// DecodePathSegment decodes percent escapes in a path segment. '+' is kept.
func DecodePathSegment(s string) (string, error) {
	if strings.IndexByte(s, '%') < 0 {
		return s, nil
	}
	out, err := url.PathUnescape(s)
	if err != nil {
		return "", errors.Wrapf(err, "decode %q", s)
	}
	return out, nil
}

// ParseQuery splits a raw query string into name -> values. Values keep
// their arrival order. Undecodable components are kept raw.
func ParseQuery(raw string) map[string][]string {
	q := make(map[string][]string)
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := DecodeComponent(key); err == nil {
			key = k
		}
		if v, err := DecodeComponent(value); err == nil {
			value = v
		}
		q[key] = append(q[key], value)
	}
	return q
}

// splitTarget separates a request target into path and raw query.
func splitTarget(target string) (path, query string) {
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	path, query, _ = strings.Cut(target, "?")
	return path, query
}
