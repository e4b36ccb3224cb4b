package headerreplay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	preflightsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "header_replay_preflights_total",
		Help: "Preflights sent by the cache, by variant and outcome (trusted, untrusted, redirect, error)",
	}, []string{"variant", "outcome"})

	envelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "header_replay_envelopes_total",
		Help: "Envelopes written by the origin responder, by result (headers, empty)",
	}, []string{"result"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "header_replay_retries_total",
		Help: "Requests re-submitted by the self-retry variant",
	})
)

const (
	variantSideChannel = "sidechannel"
	variantSelfRetry   = "selfretry"

	outcomeTrusted   = "trusted"
	outcomeUntrusted = "untrusted"
	outcomeRedirect  = "redirect"
	outcomeError     = "error"
)
