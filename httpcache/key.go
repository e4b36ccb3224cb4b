package httpcache

import (
	"net/http"
	"strings"
)

const (
	methodSeparator = ":"
	varySeparator   = "\t"
)

// keyPrefix returns the cache key for a request without the vary headers (i.e. a key prefix).
// The returned key is suitable for finding all stored response variants for a particular request.
func keyPrefix(r *http.Request) string {
	return r.Method + methodSeparator + r.URL.RequestURI() + varySeparator
}

// varyKey returns the full cache key (including vary headers) based on a previously generated
// cache key prefix and the request and response involved.
// Every field listed in Vary ends up in the key, absent ones with an empty value,
// so the key alone is enough to select a variant.
func varyKey(prefix string, req *http.Request, res *http.Response) string {
	key := prefix
	for _, name := range varyNames(res.Header) {
		key = key + "\n" + name + ": " + strings.Join(req.Header.Values(name), ", ")
	}
	return key
}

// matchesVary reports whether the vary fields captured in a stored key have
// the same values on request r.
func matchesVary(key string, r *http.Request) bool {
	lines := strings.Split(key, "\n")
	for i := 1; i < len(lines); i++ {
		name, value, found := strings.Cut(lines[i], ": ")
		if !found {
			return false
		}
		if strings.Join(r.Header.Values(name), ", ") != value {
			return false
		}
	}
	return true
}

// varyNames lists the lower-cased field names of the Vary header(s).
func varyNames(h http.Header) []string {
	names := make([]string, 0)
	for _, value := range h.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func varyAll(h http.Header) bool {
	for _, name := range varyNames(h) {
		if name == "*" {
			return true
		}
	}
	return false
}
