package http

import "strconv"

// Status codes used by the server itself
const (
	StatusContinue              = 100
	StatusOK                    = 200
	StatusCreated               = 201
	StatusNoContent             = 204
	StatusMovedPermanently      = 301
	StatusFound                 = 302
	StatusNotModified           = 304
	StatusBadRequest            = 400
	StatusUnauthorized          = 401
	StatusForbidden             = 403
	StatusNotFound              = 404
	StatusMethodNotAllowed      = 405
	StatusRequestTimeout        = 408
	StatusConflict              = 409
	StatusTeapot                = 418
	StatusRequestEntityTooLarge = 413
	StatusRequestURITooLong     = 414
	StatusTooManyRequests       = 429
	StatusHeaderFieldsTooLarge  = 431
	StatusInternalServerError   = 500
	StatusNotImplemented        = 501
	StatusServiceUnavailable    = 503
	StatusVersionNotSupported   = 505
)

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	418: "I'm a Teapot",
	422: "Unprocessable Entity",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return statusText[code]
}

// ValidStatus reports whether code is a three digit status code.
func ValidStatus(code int) bool {
	return code >= 100 && code <= 999
}

// statusLines caches serialized status lines for known codes.
var statusLines = func() map[int][]byte {
	m := make(map[int][]byte, len(statusText))
	for code := range statusText {
		m[code] = buildStatusLine(code)
	}
	return m
}()

func statusLine(code int) []byte {
	if b, ok := statusLines[code]; ok {
		return b
	}
	return buildStatusLine(code)
}

func buildStatusLine(code int) []byte {
	b := make([]byte, 0, 32)
	b = append(b, "HTTP/1.1 "...)
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	if text := statusText[code]; text != "" {
		b = append(b, text...)
	} else {
		b = append(b, "status code "...)
		b = strconv.AppendInt(b, int64(code), 10)
	}
	return append(b, "\r\n"...)
}

// bodyAllowed reports whether a response with this status may carry a body.
func bodyAllowed(code int) bool {
	if code >= 100 && code < 200 {
		return false
	}
	return code != StatusNoContent && code != StatusNotModified
}
