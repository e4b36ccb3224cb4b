package headerreplay

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/header-replay/httpcache"
	"github.com/always-cache/header-replay/pkg/envelope"
)

// OriginBypasser sends a request straight to the origin, skipping the store.
type OriginBypasser interface {
	Bypass(r *http.Request) (*http.Response, error)
}

// SideChannel preflights applicable requests with a separate HEAD request
// before the cache looks them up, and merges the answer into the real request.
type SideChannel struct {
	opts     Options
	bypasser OriginBypasser
	log      zerolog.Logger
}

// NewSideChannel creates the subscriber. Without a bypasser it does nothing.
func NewSideChannel(opts Options, bypasser OriginBypasser, logger *zerolog.Logger) *SideChannel {
	if logger == nil {
		logger = &log.Logger
	}
	return &SideChannel{
		opts:     opts,
		bypasser: bypasser,
		log:      logger.With().Str("component", "sidechannel").Logger(),
	}
}

func (s *SideChannel) PreHandle(e *httpcache.Event) {
	if stateFrom(e.Request.Context()) != nil {
		return
	}
	e.Request = stripReplayHeaders(e.Request, s.opts)
	r := e.Request
	if s.bypasser == nil || !IsApplicable(r, s.opts) {
		return
	}
	log := s.logger(r)

	res, err := s.bypasser.Bypass(preflightRequest(r, s.opts.Tokens))
	if err != nil {
		preflightsTotal.WithLabelValues(variantSideChannel, outcomeError).Inc()
		log.Warn().Err(err).Msg("Preflight failed, continuing without replay")
		return
	}
	env := envelope.Decode(res, s.opts.Tokens)

	if isRedirect(res.StatusCode) {
		preflightsTotal.WithLabelValues(variantSideChannel, outcomeRedirect).Inc()
		log.Debug().Int("status", res.StatusCode).Msg("Preflight redirected, passing through")
		e.Response = res
		return
	}
	discardBody(res)

	st := &replayState{stage: stagePreflighted, cookies: env.Cookies}
	decorated := r.Clone(withState(r.Context(), st))
	if env.Trusted(s.opts.Tokens) {
		preflightsTotal.WithLabelValues(variantSideChannel, outcomeTrusted).Inc()
		applyEnvelope(decorated, env)
		log.Trace().Strs("headers", env.ReplayHeaders).Bool("forceNoCache", env.ForceNoCache).Msg("Replaying headers")
	} else {
		preflightsTotal.WithLabelValues(variantSideChannel, outcomeUntrusted).Inc()
		log.Debug().Int("status", env.StatusCode).Str("contentType", env.ContentType).Msg("Preflight answer not trusted")
	}
	replayCookies(decorated, env.Cookies, time.Now())
	e.Request = decorated
}

func (s *SideChannel) PostHandle(e *httpcache.Event) {
	st := stateFrom(e.Request.Context())
	if st == nil || st.stage != stagePreflighted {
		return
	}
	st.stage = stageForwarded
	reconcileCookies(e.Response, st.cookies)
	st.stage = stageReconciled
}

func (s *SideChannel) logger(r *http.Request) *zerolog.Logger {
	if l := hlog.FromRequest(r); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

// preflightRequest derives the HEAD preflight for r.
func preflightRequest(r *http.Request, tokens envelope.Tokens) *http.Request {
	p := r.Clone(r.Context())
	p.Method = http.MethodHead
	p.Body = http.NoBody
	p.ContentLength = 0
	stripProtocolHeaders(p.Header, tokens)
	p.Header.Set("Accept", tokens.ContentType)
	return p
}

// stripProtocolHeaders removes protocol headers a client may have sent itself.
func stripProtocolHeaders(h http.Header, tokens envelope.Tokens) {
	h.Del(tokens.ReplayHeader)
	h.Del(tokens.ForceNoCacheHeader)
	h.Del(tokens.BackupAcceptHeader)
}

// stripReplayHeaders removes the configured replay header names from a client
// request, so that only values replayed by the origin reach it. r is returned
// unchanged when it carries none of them.
func stripReplayHeaders(r *http.Request, opts Options) *http.Request {
	var stripped *http.Request
	for _, name := range opts.ReplayHeaders {
		if _, ok := r.Header[name]; !ok {
			continue
		}
		if stripped == nil {
			stripped = r.Clone(r.Context())
		}
		stripped.Header.Del(name)
	}
	if stripped == nil {
		return r
	}
	return stripped
}

// applyEnvelope copies the replay headers onto r and, if requested, makes the
// cache skip stored responses.
func applyEnvelope(r *http.Request, env *envelope.Envelope) {
	for _, name := range env.ReplayHeaders {
		r.Header.Del(name)
		for _, v := range env.Values.Values(name) {
			r.Header.Add(name, v)
		}
	}
	if env.ForceNoCache {
		addNoCache(r.Header)
	}
}

func addNoCache(h http.Header) {
	cc := h.Values("Cache-Control")
	for _, v := range cc {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-cache") {
				return
			}
		}
	}
	if len(cc) == 0 {
		h.Set("Cache-Control", "no-cache")
		return
	}
	h.Set("Cache-Control", strings.Join(cc, ", ")+", no-cache")
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func discardBody(res *http.Response) {
	if res.Body == nil {
		return
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
