package httpcache

import (
	"fmt"
	"strings"
)

// Status is the first Cache-Status parameter (RFC 9211).
type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

// FwdReason explains why a request was forwarded to the origin.
type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics (e.g., Cache-Control request
	// directives) did not allow its use.
	FwdReasonRequest FwdReason = "request"
)

// CacheStatus collects the Cache-Status parameters of one response.
type CacheStatus struct {
	Status     Status
	FwdReason  FwdReason
	Stored     bool
	TimeToLive int
	Detail     string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// Format renders the header value for the named cache,
// e.g. `Header-Replay; fwd=uri-miss; stored`.
func (cs CacheStatus) Format(name string) string {
	parts := []string{name}
	switch {
	case cs.Status == StatusHit:
		parts = append(parts, "hit")
	case cs.FwdReason != "":
		parts = append(parts, "fwd="+string(cs.FwdReason))
	}
	if cs.Status == StatusHit {
		parts = append(parts, fmt.Sprintf("ttl=%d", cs.TimeToLive))
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.Detail != "" {
		parts = append(parts, "detail="+cs.Detail)
	}
	return strings.Join(parts, "; ")
}
