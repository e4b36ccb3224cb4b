package httpcache

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingOrigin struct {
	chi.Router
	calls int
}

func newOrigin() *countingOrigin {
	o := &countingOrigin{Router: chi.NewRouter()}
	o.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			o.calls++
			next.ServeHTTP(w, r)
		})
	})
	o.Get("/cached", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		fmt.Fprintf(w, "call %d", o.calls)
	})
	o.Get("/by-role", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Header().Set("Vary", "X-User-Role")
		fmt.Fprintf(w, "role %s", r.Header.Get("X-User-Role"))
	})
	o.Get("/cookie", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		http.SetCookie(w, &http.Cookie{Name: "a", Value: "b"})
		io.WriteString(w, "cookie")
	})
	o.Get("/vary-all", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Header().Set("Vary", "*")
		io.WriteString(w, "star")
	})
	o.Get("/private", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, max-age=60")
		io.WriteString(w, "private")
	})
	o.Post("/cached", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	o.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	return o
}

func serve(t *testing.T, h http.Handler, req *http.Request) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func TestStoreAndHit(t *testing.T) {
	origin := newOrigin()
	c := New(Config{Origin: origin})

	res, body := serve(t, c, httptest.NewRequest("GET", "/cached", nil))
	assert.Equal(t, "call 1", body)
	assert.Equal(t, "Header-Replay; fwd=uri-miss; stored", res.Header.Get("Cache-Status"))

	res, body = serve(t, c, httptest.NewRequest("GET", "/cached", nil))
	assert.Equal(t, "call 1", body)
	assert.True(t, strings.HasPrefix(res.Header.Get("Cache-Status"), "Header-Replay; hit; ttl="))
	assert.NotEmpty(t, res.Header.Get("Age"))
	assert.Equal(t, 1, origin.calls)
}

func TestRequestNoCacheSkipsReuse(t *testing.T) {
	origin := newOrigin()
	c := New(Config{Origin: origin})
	serve(t, c, httptest.NewRequest("GET", "/cached", nil))

	req := httptest.NewRequest("GET", "/cached", nil)
	req.Header.Set("Cache-Control", "no-cache")
	res, body := serve(t, c, req)
	assert.Equal(t, "call 2", body)
	assert.Equal(t, "Header-Replay; fwd=request; stored", res.Header.Get("Cache-Status"))
}

func TestVaryVariants(t *testing.T) {
	origin := newOrigin()
	c := New(Config{Origin: origin})

	for _, role := range []string{"admin", "guest", "admin", "guest"} {
		req := httptest.NewRequest("GET", "/by-role", nil)
		req.Header.Set("X-User-Role", role)
		_, body := serve(t, c, req)
		assert.Equal(t, "role "+role, body)
	}
	assert.Equal(t, 2, origin.calls)

	res, _ := serve(t, c, httptest.NewRequest("GET", "/by-role", nil))
	assert.Equal(t, "Header-Replay; fwd=vary-miss; stored", res.Header.Get("Cache-Status"))
}

func TestNotStored(t *testing.T) {
	for _, path := range []string{"/cookie", "/vary-all", "/private"} {
		t.Run(path, func(t *testing.T) {
			origin := newOrigin()
			c := New(Config{Origin: origin})
			serve(t, c, httptest.NewRequest("GET", path, nil))
			res, _ := serve(t, c, httptest.NewRequest("GET", path, nil))
			assert.Equal(t, "Header-Replay; fwd=uri-miss", res.Header.Get("Cache-Status"))
			assert.Equal(t, 2, origin.calls)
		})
	}
}

func TestUnsafeRequestInvalidates(t *testing.T) {
	origin := newOrigin()
	c := New(Config{Origin: origin})
	serve(t, c, httptest.NewRequest("GET", "/cached", nil))

	res, _ := serve(t, c, httptest.NewRequest("POST", "/cached", nil))
	assert.Equal(t, "Header-Replay; fwd=method", res.Header.Get("Cache-Status"))

	_, body := serve(t, c, httptest.NewRequest("GET", "/cached", nil))
	assert.Equal(t, "call 3", body)
}

func TestOriginPanic(t *testing.T) {
	c := New(Config{Origin: newOrigin()})
	res, _ := serve(t, c, httptest.NewRequest("GET", "/panic", nil))
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
}

type recordingSubscriber struct {
	short    *http.Response
	reusable func(*http.Response) bool
	pre      int
	post     int
}

func (s *recordingSubscriber) PreHandle(e *Event) {
	s.pre++
	if s.short != nil {
		e.Response = s.short
	}
	e.Reusable = s.reusable
}

func (s *recordingSubscriber) PostHandle(e *Event) {
	s.post++
	e.Response.Header.Set("X-Post", "1")
}

func TestSubscribers(t *testing.T) {
	origin := newOrigin()
	c := New(Config{Origin: origin})
	first := &recordingSubscriber{}
	second := &recordingSubscriber{}
	c.Subscribe(first)
	c.Subscribe(second)

	res, err := c.Handle(httptest.NewRequest("GET", "/cached", nil))
	require.NoError(t, err)
	assert.Equal(t, "1", res.Header.Get("X-Post"))
	assert.Equal(t, []int{1, 1, 1, 1}, []int{first.pre, first.post, second.pre, second.post})

	// a pre-handle response skips the store and the remaining pre-handlers
	first.short = &http.Response{StatusCode: http.StatusTeapot, Header: http.Header{}, Body: http.NoBody}
	res, err = c.Handle(httptest.NewRequest("GET", "/cached", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, res.StatusCode)
	assert.Equal(t, "Header-Replay; fwd=bypass", res.Header.Get("Cache-Status"))
	assert.Equal(t, 1, second.pre)
	assert.Equal(t, 2, second.post)
	assert.Equal(t, 1, origin.calls)
}

func TestBypass(t *testing.T) {
	origin := newOrigin()
	c := New(Config{Origin: origin})
	for i := 0; i < 2; i++ {
		res, err := c.Bypass(httptest.NewRequest("GET", "/cached", nil))
		require.NoError(t, err)
		assert.Empty(t, res.Header.Get("Cache-Status"))
	}
	assert.Equal(t, 2, origin.calls)

	_, body := serve(t, c, httptest.NewRequest("GET", "/cached", nil))
	assert.Equal(t, "call 3", body)
}

func TestReusableFilter(t *testing.T) {
	origin := newOrigin()
	c := New(Config{Origin: origin})
	serve(t, c, httptest.NewRequest("GET", "/by-role", nil))

	var offered []string
	sub := &recordingSubscriber{reusable: func(res *http.Response) bool {
		offered = append(offered, res.Header.Get("Vary"))
		return res.Header.Get("Content-Type") == "application/x-special"
	}}
	c.Subscribe(sub)

	res, err := c.Handle(httptest.NewRequest("GET", "/by-role", nil))
	require.NoError(t, err)
	assert.Equal(t, "Header-Replay; fwd=vary-miss; stored", res.Header.Get("Cache-Status"))
	assert.Equal(t, []string{"X-User-Role"}, offered)
	assert.Equal(t, 2, origin.calls)

	sub.reusable = nil
	res, err = c.Handle(httptest.NewRequest("GET", "/by-role", nil))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Header.Get("Cache-Status"), "Header-Replay; hit"))
	assert.Equal(t, 2, origin.calls)
}
