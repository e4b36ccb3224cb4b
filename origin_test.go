package headerreplay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/header-replay/pkg/envelope"
)

func preflight(method string) *http.Request {
	r := httptest.NewRequest(method, "/page", nil)
	r.Header.Set("Accept", "application/vnd.t42.header-replay")
	return r
}

var pageHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "page")
})

func TestResponderBasicAuthScenario(t *testing.T) {
	rs := NewResponder(DefaultOptions(), nil, ProviderFunc(func(e *ReplayEvent) {
		if e.Request.Header.Get("Authorization") == "Basic foobar" {
			e.Set("Foo", "Bar")
			e.Set("Foo2", "Bar2")
		}
	}))
	r := preflight("GET")
	r.Header.Set("Authorization", "Basic foobar")
	rec := httptest.NewRecorder()
	rs.Middleware(pageHandler).ServeHTTP(rec, r)

	res := rec.Result()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/vnd.t42.header-replay", res.Header.Get("Content-Type"))
	assert.Equal(t, "foo,foo2", res.Header.Get("T42-Replay-Headers"))
	assert.Equal(t, "Bar", res.Header.Get("Foo"))
	assert.Equal(t, "Bar2", res.Header.Get("Foo2"))
	assert.NotContains(t, res.Header, "T42-Force-No-Cache")
	assert.Empty(t, rec.Body.String())
}

func TestResponderMergeOrder(t *testing.T) {
	rs := NewResponder(DefaultOptions(), nil,
		ProviderFunc(func(e *ReplayEvent) {
			e.Set("X-Role", "guest")
			e.Set("X-Locale", "en")
			e.Set("Cache-Control", "max-age=100")
			e.Set("Set-Cookie", "a=b")
		}),
		ProviderFunc(func(e *ReplayEvent) {
			e.Set("x-role", "admin")
			e.Set("Date", "yesterday")
		}),
	)
	env := rs.Envelope(preflight("GET"))

	if diff := cmp.Diff([]string{"x-role", "x-locale"}, env.ReplayHeaders); diff != "" {
		t.Fatalf("replay headers mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "admin", env.Values.Get("X-Role"))
	assert.False(t, env.ForceNoCache)
}

func TestResponderEmpty(t *testing.T) {
	rs := NewResponder(DefaultOptions(), nil)
	rec := httptest.NewRecorder()
	rs.Middleware(pageHandler).ServeHTTP(rec, preflight("HEAD"))

	want := http.Header{"Content-Type": {"application/vnd.t42.header-replay"}}
	if diff := cmp.Diff(want, rec.Header()); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponderCookiesAndForceNoCache(t *testing.T) {
	rs := NewResponder(DefaultOptions(), nil, ProviderFunc(func(e *ReplayEvent) {
		e.ForceNoCache()
		e.SetCookie(&http.Cookie{Name: "A", Value: "1"})
		e.SetCookie(&http.Cookie{Name: "B", Value: "", MaxAge: -1})
	}))
	rec := httptest.NewRecorder()
	rs.Middleware(pageHandler).ServeHTTP(rec, preflight("GET"))

	env := envelope.Decode(rec.Result(), envelope.DefaultTokens())
	require.True(t, env.Trusted(envelope.DefaultTokens()))
	assert.True(t, env.ForceNoCache)
	require.Len(t, env.Cookies, 2)
	assert.Equal(t, "A", env.Cookies[0].Name)
	assert.Equal(t, -1, env.Cookies[1].MaxAge)
}

func TestResponderTTL(t *testing.T) {
	rs := NewResponder(DefaultOptions(), nil,
		ProviderFunc(func(e *ReplayEvent) {
			e.Set("X-Role", "admin")
			e.SetTTL(time.Minute)
		}),
		ProviderFunc(func(e *ReplayEvent) { e.SetTTL(30 * time.Second) }),
		ProviderFunc(func(e *ReplayEvent) { e.SetTTL(2 * time.Minute) }),
	)
	rec := httptest.NewRecorder()
	rs.Middleware(pageHandler).ServeHTTP(rec, preflight("GET"))
	assert.Equal(t, "public, max-age=30", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "accept, cookie, authorization", rec.Header().Get("Vary"))
}

func TestReplayEventTTL(t *testing.T) {
	e := newReplayEvent(preflight("GET"), envelope.DefaultTokens())
	assert.Zero(t, e.TTL())
	e.SetTTL(time.Minute)
	e.SetTTL(0)
	e.SetTTL(time.Second)
	assert.Zero(t, e.TTL(), "zero disables caching for good")
}

func TestResponderPassesThrough(t *testing.T) {
	called := 0
	rs := NewResponder(DefaultOptions(), nil, ProviderFunc(func(e *ReplayEvent) {
		called++
	}))
	h := rs.Middleware(pageHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/page", nil))
	assert.Equal(t, "page", rec.Body.String())

	sub := preflight("GET")
	sub = sub.WithContext(WithSubRequest(sub.Context()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, sub)
	assert.Equal(t, "page", rec.Body.String())

	assert.Zero(t, called)
}

func TestReplayEventDel(t *testing.T) {
	e := newReplayEvent(preflight("GET"), envelope.DefaultTokens())
	e.Set("a", "1")
	e.Set("b", "2")
	e.Set("c", "3")
	e.Del("B")
	e.Set("b", "4")
	assert.Equal(t, []string{"a", "c", "b"}, e.Names())
	assert.Equal(t, "4", e.Get("b"))
}

func TestReplayEventIgnoresReservedNames(t *testing.T) {
	e := newReplayEvent(preflight("GET"), envelope.DefaultTokens())
	for _, name := range []string{"Content-Type", "T42-Replay-Headers", "t42-force-no-cache",
		"T42-Replay-Headers-Original-Accept", "Vary", "Set-Cookie"} {
		e.Set(name, "x")
	}
	assert.Empty(t, e.Names())

	rs := NewResponder(DefaultOptions(), nil, ProviderFunc(func(e *ReplayEvent) {
		e.Set("Content-Type", "text/html")
		e.Set("X-Role", "admin")
	}))
	rec := httptest.NewRecorder()
	rs.Middleware(pageHandler).ServeHTTP(rec, preflight("GET"))
	env := envelope.Decode(rec.Result(), envelope.DefaultTokens())
	require.True(t, env.Trusted(envelope.DefaultTokens()))
	assert.Equal(t, []string{"x-role"}, env.ReplayHeaders)
}

func TestResponderEmptyIgnoresTTLAndCookies(t *testing.T) {
	rs := NewResponder(DefaultOptions(), nil, ProviderFunc(func(e *ReplayEvent) {
		e.SetTTL(time.Minute)
		e.SetCookie(&http.Cookie{Name: "A", Value: "1"})
	}))
	rec := httptest.NewRecorder()
	rs.Middleware(pageHandler).ServeHTTP(rec, preflight("GET"))

	want := http.Header{
		"Content-Type": {"application/vnd.t42.header-replay"},
		"Set-Cookie":   {"A=1"},
	}
	if diff := cmp.Diff(want, rec.Header()); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
}
