package headerreplay

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/header-replay/httpcache"
	"github.com/always-cache/header-replay/pkg/envelope"
)

// Resubmitter runs a request through the whole cache again.
type Resubmitter interface {
	Handle(r *http.Request) (*http.Response, error)
}

// SelfRetry turns the request itself into the preflight: its Accept header
// is swapped for the marker, and once the answer is in, the request is
// restored, decorated and handled a second time.
type SelfRetry struct {
	opts        Options
	resubmitter Resubmitter
	log         zerolog.Logger
}

// NewSelfRetry creates the subscriber. Without a resubmitter it does nothing.
func NewSelfRetry(opts Options, resubmitter Resubmitter, logger *zerolog.Logger) *SelfRetry {
	if logger == nil {
		logger = &log.Logger
	}
	return &SelfRetry{
		opts:        opts,
		resubmitter: resubmitter,
		log:         logger.With().Str("component", "selfretry").Logger(),
	}
}

func (s *SelfRetry) PreHandle(e *httpcache.Event) {
	if stateFrom(e.Request.Context()) != nil {
		return
	}
	e.Request = stripReplayHeaders(e.Request, s.opts)
	r := e.Request
	if s.resubmitter == nil || !IsApplicable(r, s.opts) {
		return
	}
	st := &replayState{stage: stagePreflighted}
	p := r.Clone(withState(r.Context(), st))
	stripProtocolHeaders(p.Header, s.opts.Tokens)
	st.originalAccept = p.Header.Values("Accept")
	if len(st.originalAccept) > 0 {
		p.Header.Set(s.opts.Tokens.BackupAcceptHeader, strings.Join(st.originalAccept, ", "))
	}
	p.Header.Set("Accept", s.opts.Tokens.ContentType)
	e.Request = p
	// a stored page must not answer the preflight, only a stored envelope may
	e.Reusable = s.storedEnvelope
}

func (s *SelfRetry) storedEnvelope(res *http.Response) bool {
	return envelope.Decode(res, s.opts.Tokens).Trusted(s.opts.Tokens)
}

func (s *SelfRetry) PostHandle(e *httpcache.Event) {
	st := stateFrom(e.Request.Context())
	if st == nil || st.retries > 0 || st.stage != stagePreflighted {
		return
	}
	log := s.logger(e.Request)

	r := e.Request.Clone(e.Request.Context())
	s.restoreAccept(r, st)

	env := envelope.Decode(e.Response, s.opts.Tokens)
	discardBody(e.Response)
	if env.Trusted(s.opts.Tokens) {
		preflightsTotal.WithLabelValues(variantSelfRetry, outcomeTrusted).Inc()
		applyEnvelope(r, env)
		log.Trace().Strs("headers", env.ReplayHeaders).Bool("forceNoCache", env.ForceNoCache).Msg("Replaying headers")
	} else {
		outcome := outcomeUntrusted
		if isRedirect(env.StatusCode) {
			outcome = outcomeRedirect
		}
		preflightsTotal.WithLabelValues(variantSelfRetry, outcome).Inc()
		log.Debug().Int("status", env.StatusCode).Str("contentType", env.ContentType).Msg("Preflight answer not trusted")
	}
	replayCookies(r, env.Cookies, time.Now())

	st.cookies = env.Cookies
	st.retries++
	st.stage = stageForwarded
	retriesTotal.Inc()

	res, err := s.resubmitter.Handle(r)
	if err != nil {
		log.Error().Err(err).Msg("Re-submitting request failed")
		res = &http.Response{
			Status:     "502 Bad Gateway",
			StatusCode: http.StatusBadGateway,
			Proto:      "HTTP/1.1",
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:       http.NoBody,
			Request:    r,
		}
	}
	reconcileCookies(res, st.cookies)
	st.stage = stageReconciled
	e.Request = r
	e.Response = res
}

// restoreAccept puts back the Accept header that PreHandle replaced.
func (s *SelfRetry) restoreAccept(r *http.Request, st *replayState) {
	backup := r.Header.Values(s.opts.Tokens.BackupAcceptHeader)
	r.Header.Del(s.opts.Tokens.BackupAcceptHeader)
	r.Header.Del("Accept")
	if len(backup) == 0 {
		backup = st.originalAccept
	}
	for _, v := range backup {
		r.Header.Add("Accept", v)
	}
}

func (s *SelfRetry) logger(r *http.Request) *zerolog.Logger {
	if l := hlog.FromRequest(r); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}
