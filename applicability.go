package headerreplay

import "net/http"

// cacheSafe reports whether responses to the method may be served from a
// shared cache.
func cacheSafe(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// IsApplicable decides whether r needs a preflight: it must use a cache-safe
// method and carry user context, i.e. one of the configured context headers or,
// when "cookie" is configured, a cookie that is not ignored.
// It does no I/O.
func IsApplicable(r *http.Request, opts Options) bool {
	if !cacheSafe(r.Method) {
		return false
	}
	for _, name := range opts.UserContextHeaders {
		if name == "cookie" {
			continue
		}
		if len(r.Header.Values(name)) > 0 {
			return true
		}
	}
	if !opts.contextHeader("cookie") {
		return false
	}
	for _, c := range r.Cookies() {
		if !opts.ignoredCookie(c.Name) {
			return true
		}
	}
	return false
}
