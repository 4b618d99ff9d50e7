package http

// Method is an HTTP request method. Only the enumerated values are routable.
type Method string

// Supported request methods
const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodTrace   Method = "TRACE"
)

// Methods lists every enumerated method in a stable order.
var Methods = []Method{
	MethodGet,
	MethodPost,
	MethodPut,
	MethodPatch,
	MethodDelete,
	MethodHead,
	MethodOptions,
	MethodConnect,
	MethodTrace,
}

// ParseMethod maps a request-line token to a Method. Matching is exact:
// "get" is not GET.
func ParseMethod(s string) (Method, bool) {
	switch s {
	case "GET":
		return MethodGet, true
	case "POST":
		return MethodPost, true
	case "PUT":
		return MethodPut, true
	case "PATCH":
		return MethodPatch, true
	case "DELETE":
		return MethodDelete, true
	case "HEAD":
		return MethodHead, true
	case "OPTIONS":
		return MethodOptions, true
	case "CONNECT":
		return MethodConnect, true
	case "TRACE":
		return MethodTrace, true
	}
	return "", false
}

// Valid reports whether m is one of the enumerated methods.
func (m Method) Valid() bool {
	_, ok := ParseMethod(string(m))
	return ok
}

func (m Method) String() string {
	return string(m)
}
