package headerreplay

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/header-replay/pkg/envelope"
)

// Provider computes replay headers for a preflight request.
type Provider interface {
	ProvideHeaders(e *ReplayEvent)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(e *ReplayEvent)

func (f ProviderFunc) ProvideHeaders(e *ReplayEvent) { f(e) }

type subRequestKey struct{}

// WithSubRequest marks requests carrying ctx as internal sub-requests.
// The responder never answers those.
func WithSubRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, subRequestKey{}, true)
}

func isSubRequest(ctx context.Context) bool {
	sub, _ := ctx.Value(subRequestKey{}).(bool)
	return sub
}

// Responder answers preflight requests at the origin. It runs the providers in
// registration order and encodes their merged result as an envelope.
type Responder struct {
	opts      Options
	providers []Provider
	log       zerolog.Logger
}

// NewResponder creates a responder. A nil logger means the global logger.
func NewResponder(opts Options, logger *zerolog.Logger, providers ...Provider) *Responder {
	if logger == nil {
		logger = &log.Logger
	}
	return &Responder{
		opts:      opts,
		providers: providers,
		log:       logger.With().Str("component", "responder").Logger(),
	}
}

// Add registers another provider. Not safe for use while serving.
func (rs *Responder) Add(p Provider) {
	rs.providers = append(rs.providers, p)
}

// Envelope runs the providers for r.
func (rs *Responder) Envelope(r *http.Request) *envelope.Envelope {
	ev := newReplayEvent(r, rs.opts.Tokens)
	for _, p := range rs.providers {
		p.ProvideHeaders(ev)
	}

	e := envelope.New(rs.opts.Tokens)
	for _, name := range ev.names {
		e.ReplayHeaders = append(e.ReplayHeaders, name)
		for _, v := range ev.values.Values(name) {
			e.Values.Add(name, v)
		}
	}
	e.ForceNoCache = ev.forceNoCache
	e.Cookies = ev.cookies
	e.TTL = ev.ttl
	return e
}

// Middleware answers preflights with an envelope and hands every other request
// to next.
func (rs *Responder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsPreflight(r, rs.opts.Tokens) || isSubRequest(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		e := rs.Envelope(r)
		result := "empty"
		if !e.Empty() {
			result = "headers"
			if e.TTL > 0 {
				w.Header().Set("Vary", rs.vary())
			}
		}
		envelopesTotal.WithLabelValues(result).Inc()
		rs.log.Trace().
			Str("url", r.URL.String()).
			Strs("headers", e.ReplayHeaders).
			Bool("forceNoCache", e.ForceNoCache).
			Int("cookies", len(e.Cookies)).
			Msg("Answering preflight")
		envelope.Write(w, rs.opts.Tokens, e)
	})
}

// vary lists the request fields a cacheable envelope depends on.
func (rs *Responder) vary() string {
	fields := append([]string{"accept"}, rs.opts.UserContextHeaders...)
	return strings.Join(fields, ", ")
}
