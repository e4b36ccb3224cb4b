package httpcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/cachecontrol/cacheobject"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/always-cache/header-replay/cache"
)

// DefaultName is the cache name used in the Cache-Status header.
const DefaultName = "Header-Replay"

type Config struct {
	// Origin produces responses for forwarded requests. This is usually an
	// httputil.ReverseProxy, or the application handler when run in-process.
	Origin http.Handler
	// Provider stores responses. Defaults to an in-memory store.
	Provider cache.Provider
	Logger   *zerolog.Logger
	// Name reported in Cache-Status, defaults to DefaultName.
	Name string
}

// HTTPCache is a shared HTTP cache in front of an origin handler.
// Subscribers can observe and alter every request and response passing through.
type HTTPCache struct {
	origin      http.Handler
	provider    cache.Provider
	log         zerolog.Logger
	name        string
	subscribers []Subscriber
}

// New creates the cache. It panics if no origin is configured.
func New(config Config) *HTTPCache {
	if config.Origin == nil {
		panic("httpcache: origin handler is required")
	}
	c := &HTTPCache{
		origin:   config.Origin,
		provider: config.Provider,
		name:     config.Name,
		log:      zerolog.Nop(),
	}
	if c.provider == nil {
		c.provider = cache.NewMemory()
	}
	if c.name == "" {
		c.name = DefaultName
	}
	if config.Logger != nil {
		c.log = *config.Logger
	}
	return c
}

// Subscribe adds a subscriber. It is not safe to call while serving.
func (c *HTTPCache) Subscribe(s Subscriber) {
	c.subscribers = append(c.subscribers, s)
}

// ServeHTTP implements the http.Handler interface.
func (c *HTTPCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := c.Handle(r)
	if err != nil {
		c.logger(r).Error().Err(err).Msg("Could not handle request")
		http.Error(w, "Could not get response", http.StatusBadGateway)
		return
	}
	if err := send(w, res); err != nil {
		c.logger(r).Warn().Err(err).Msg("Error writing to client")
	}
}

// Handle runs the subscribers and the cache lookup for r and returns the
// response that would be sent to the client.
func (c *HTTPCache) Handle(r *http.Request) (*http.Response, error) {
	e := &Event{Request: r}
	for _, s := range c.subscribers {
		s.PreHandle(e)
		if e.Response != nil {
			break
		}
	}
	if e.Response != nil {
		if e.Response.Header.Get("Cache-Status") == "" {
			status := CacheStatus{}
			status.Forward(FwdReasonBypass)
			e.Response.Header.Set("Cache-Status", status.Format(c.name))
		}
	} else {
		res, err := c.lookup(e.Request, e.Reusable)
		if err != nil {
			return nil, err
		}
		e.Response = res
	}
	for _, s := range c.subscribers {
		s.PostHandle(e)
	}
	return e.Response, nil
}

// Bypass sends r to the origin without consulting or updating the store.
func (c *HTTPCache) Bypass(r *http.Request) (*http.Response, error) {
	return c.forward(r), nil
}

// lookup serves r from the store if possible, otherwise forwards it and stores
// the origin response when allowed. A non-nil reusable filters stored responses.
func (c *HTTPCache) lookup(r *http.Request, reusable func(*http.Response) bool) (*http.Response, error) {
	prefix := keyPrefix(r)
	log := c.logger(r).With().Str("key", prefix).Logger()
	status := CacheStatus{}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		status.Forward(FwdReasonMethod)
		res := c.forward(r)
		c.invalidate(r, res)
		res.Header.Set("Cache-Status", status.Format(c.name))
		return res, nil
	}

	entries, err := c.provider.All(r.Context(), prefix)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Error getting responses")
		status.Forward(FwdReasonMiss)
	case len(entries) == 0:
		status.Forward(FwdReasonUriMiss)
	default:
		entry, res, found := c.selectVariant(entries, r, reusable)
		if !found {
			status.Forward(FwdReasonVaryMiss)
			break
		}
		if noCacheRequest(r) {
			res.Body.Close()
			status.Forward(FwdReasonRequest)
			break
		}
		now := time.Now()
		status.Hit()
		status.TimeToLive = int(entry.Expires.Sub(now).Seconds())
		res.Header.Set("Age", strconv.Itoa(int(now.Sub(entry.ReceivedAt).Seconds())))
		res.Header.Set("Cache-Status", status.Format(c.name))
		log.Debug().Int("ttl", status.TimeToLive).Msg("Cache hit")
		return res, nil
	}

	requestedAt := time.Now()
	res := c.forward(r)
	if c.store(r.Context(), prefix, r, res, requestedAt) {
		status.Stored = true
	}
	res.Header.Set("Cache-Status", status.Format(c.name))
	return res, nil
}

// forward runs the origin handler for r. A panicking origin yields a 502.
func (c *HTTPCache) forward(r *http.Request) (res *http.Response) {
	rec := newRecorder()
	defer func() {
		if err := recover(); err != nil {
			c.logger(r).WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in origin handler")
			rec = newRecorder()
			http.Error(rec, "Could not get response from origin", http.StatusBadGateway)
			res = rec.Result(r)
		}
	}()
	c.origin.ServeHTTP(rec, r)
	return rec.Result(r)
}

// store saves res under its variant key if the response may be stored by a
// shared cache.
func (c *HTTPCache) store(ctx context.Context, prefix string, r *http.Request, res *http.Response, requestedAt time.Time) bool {
	log := c.logger(r)
	if len(res.Header.Values("Set-Cookie")) > 0 || varyAll(res.Header) {
		return false
	}
	reasons, expires, err := cacheobject.UsingRequestResponse(r, res.StatusCode, res.Header, false)
	if err != nil {
		log.Debug().Err(err).Msg("Could not evaluate cacheability")
		return false
	}
	if len(reasons) > 0 {
		log.Trace().Interface("reasons", reasons).Msg("Response not cacheable")
		return false
	}
	if !expires.After(time.Now()) {
		return false
	}
	bytes, err := responseToBytes(res)
	if err != nil {
		log.Error().Err(err).Msg("Could not serialize response")
		return false
	}
	key := varyKey(prefix, r, res)
	err = c.provider.Put(ctx, cache.Entry{
		Key:         key,
		Expires:     expires,
		RequestedAt: requestedAt,
		ReceivedAt:  time.Now(),
		Bytes:       bytes,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return false
	}
	log.Trace().Str("key", key).Time("expiry", expires).Msg("Cache write")
	return true
}

// invalidate purges stored variants of the target URI after a successful
// unsafe request (RFC 9111 section 4.4).
func (c *HTTPCache) invalidate(r *http.Request, res *http.Response) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return
	}
	if res.StatusCode < 200 || res.StatusCode >= 400 {
		return
	}
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		prefix := method + methodSeparator + r.URL.RequestURI() + varySeparator
		entries, err := c.provider.All(r.Context(), prefix)
		if err != nil {
			c.logger(r).Warn().Err(err).Str("key", prefix).Msg("Could not list entries for invalidation")
			continue
		}
		for _, e := range entries {
			if err := c.provider.Purge(r.Context(), e.Key); err != nil {
				c.logger(r).Warn().Err(err).Str("key", e.Key).Msg("Could not invalidate entry")
			}
		}
	}
}

func (c *HTTPCache) logger(r *http.Request) *zerolog.Logger {
	if l := hlog.FromRequest(r); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &c.log
}

// selectVariant returns the first stored response matching the Vary fields of
// r that reusable accepts.
func (c *HTTPCache) selectVariant(entries []cache.Entry, r *http.Request, reusable func(*http.Response) bool) (cache.Entry, *http.Response, bool) {
	for _, e := range entries {
		if !matchesVary(e.Key, r) {
			continue
		}
		res, err := bytesToResponse(e.Bytes, r)
		if err != nil {
			c.logger(r).Warn().Err(err).Str("key", e.Key).Msg("Could not parse stored response")
			continue
		}
		if reusable != nil && !reusable(res) {
			res.Body.Close()
			continue
		}
		return e, res, true
	}
	return cache.Entry{}, nil, false
}

func noCacheRequest(r *http.Request) bool {
	cc := r.Header.Values("Cache-Control")
	if len(cc) == 0 {
		return false
	}
	directives, err := cacheobject.ParseRequestCacheControl(strings.Join(cc, ", "))
	if err != nil {
		return false
	}
	return directives.NoCache || directives.MaxAge == 0
}

func send(w http.ResponseWriter, res *http.Response) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
