package headerreplay

import (
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/header-replay/pkg/envelope"
)

// ReplayEvent is handed to every Provider while a preflight is answered.
// Providers read the request and contribute headers, cookies, a TTL or the
// force-no-cache flag. Setting a name that is already present replaces its
// value but keeps its original position.
type ReplayEvent struct {
	Request *http.Request

	tokens       envelope.Tokens
	names        []string
	values       http.Header
	cookies      []*http.Cookie
	forceNoCache bool
	ttl          time.Duration
	ttlSet       bool
}

func newReplayEvent(r *http.Request, tokens envelope.Tokens) *ReplayEvent {
	return &ReplayEvent{Request: r, tokens: tokens, values: make(http.Header)}
}

// Set replaces the values of header name.
// Names the envelope is made of, such as Content-Type or the protocol headers,
// are ignored. Set-Cookie cannot be replayed as a header; use SetCookie.
func (e *ReplayEvent) Set(name string, values ...string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || e.tokens.Reserved(name) {
		return
	}
	if !e.has(name) {
		e.names = append(e.names, name)
	}
	e.values.Del(name)
	for _, v := range values {
		e.values.Add(name, v)
	}
}

// Get returns the first value of header name.
func (e *ReplayEvent) Get(name string) string {
	return e.values.Get(name)
}

// Del removes header name.
func (e *ReplayEvent) Del(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range e.names {
		if n == name {
			e.names = append(e.names[:i], e.names[i+1:]...)
			break
		}
	}
	e.values.Del(name)
}

// Names returns the header names in insertion order.
func (e *ReplayEvent) Names() []string {
	return append([]string(nil), e.names...)
}

func (e *ReplayEvent) has(name string) bool {
	for _, n := range e.names {
		if n == name {
			return true
		}
	}
	return false
}

// SetCookie adds a cookie that the cache replays onto the real request and
// the final response.
func (e *ReplayEvent) SetCookie(c *http.Cookie) {
	e.cookies = append(e.cookies, c)
}

// ForceNoCache makes the cache skip stored responses for the real request.
func (e *ReplayEvent) ForceNoCache() {
	e.forceNoCache = true
}

// SetTTL declares for how long the preflight answer may be cached. Zero
// disables caching for good; otherwise the lowest value set wins.
func (e *ReplayEvent) SetTTL(d time.Duration) {
	switch {
	case d <= 0:
		e.ttl, e.ttlSet = 0, true
	case !e.ttlSet:
		e.ttl, e.ttlSet = d, true
	case e.ttl > 0 && d < e.ttl:
		e.ttl = d
	}
}

// TTL returns the merged TTL, zero when unset.
func (e *ReplayEvent) TTL() time.Duration {
	return e.ttl
}
