package envelope

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/munnerz/goautoneg"
)

// DefaultNamespace is the protocol namespace used when none is configured.
const DefaultNamespace = "t42"

// Tokens holds the wire-level constants shared by the cache and the origin.
// Both sides must agree on them byte-for-byte, otherwise every preflight
// answer is treated as an unrelated response.
type Tokens struct {
	// Media type announcing (and requesting) an envelope,
	// e.g. `application/vnd.t42.header-replay`.
	ContentType string
	// Response header listing the header names to replay, e.g. `T42-Replay-Headers`.
	ReplayHeader string
	// Presence-only response header forcing revalidation, e.g. `T42-Force-No-Cache`.
	ForceNoCacheHeader string
	// Request header keeping the client's Accept while a self-retry preflight
	// is in flight, e.g. `T42-Replay-Headers-Original-Accept`.
	BackupAcceptHeader string
}

// NewTokens derives the protocol tokens from a namespace.
// The namespace is lower-cased for the media type and capitalized for header names.
func NewTokens(namespace string) (Tokens, error) {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		return Tokens{}, fmt.Errorf("envelope: empty namespace")
	}
	if strings.ContainsAny(ns, " ,;/\t\r\n") {
		return Tokens{}, fmt.Errorf("envelope: invalid namespace %q", namespace)
	}
	prefix := http.CanonicalHeaderKey(strings.ToLower(ns))
	return Tokens{
		ContentType:        "application/vnd." + strings.ToLower(ns) + ".header-replay",
		ReplayHeader:       prefix + "-Replay-Headers",
		ForceNoCacheHeader: prefix + "-Force-No-Cache",
		BackupAcceptHeader: prefix + "-Replay-Headers-Original-Accept",
	}, nil
}

// DefaultTokens returns the tokens for DefaultNamespace.
func DefaultTokens() Tokens {
	t, _ := NewTokens(DefaultNamespace)
	return t
}

// Accepts reports whether the Accept header of r lists the envelope media type.
func (t Tokens) Accepts(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		for _, a := range goautoneg.ParseAccept(accept) {
			if a.Q > 0 && a.Type+"/"+a.SubType == t.ContentType {
				return true
			}
		}
	}
	return false
}

// Reserved reports whether name cannot be replayed because the envelope
// itself is made of it. The check is case-insensitive.
func (t Tokens) Reserved(name string) bool {
	switch strings.ToLower(name) {
	case "content-type", "set-cookie", "cache-control", "date", "vary",
		strings.ToLower(t.ReplayHeader),
		strings.ToLower(t.ForceNoCacheHeader),
		strings.ToLower(t.BackupAcceptHeader):
		return true
	}
	return false
}

// Envelope is the decoded answer to a preflight request.
type Envelope struct {
	StatusCode  int
	ContentType string
	// Lower-cased, de-duplicated header names in the order the origin contributed them.
	ReplayHeaders []string
	// Values of the replay headers. Names not in ReplayHeaders are ignored.
	Values       http.Header
	ForceNoCache bool
	Cookies      []*http.Cookie
	// Cacheability of the envelope itself; zero means it must not be reused.
	TTL time.Duration
}

// New returns an empty trusted envelope for the given tokens.
func New(t Tokens) *Envelope {
	return &Envelope{
		StatusCode:  http.StatusOK,
		ContentType: t.ContentType,
		Values:      make(http.Header),
	}
}

// Empty reports whether the envelope has no header to replay and does not
// force revalidation. Cookies and TTL do not count.
func (e *Envelope) Empty() bool {
	return len(e.replayable()) == 0 && !e.ForceNoCache
}

// replayable returns the replay names that have values.
func (e *Envelope) replayable() []string {
	names := make([]string, 0, len(e.ReplayHeaders))
	for _, name := range e.ReplayHeaders {
		if len(e.Values.Values(name)) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// Trusted reports whether the envelope came from a header-replay responder
// using the same tokens.
func (e *Envelope) Trusted(t Tokens) bool {
	return e.StatusCode == http.StatusOK && e.ContentType == t.ContentType
}

// Write encodes the envelope onto a response writer and writes the status.
// No body is written. An empty envelope carries the content type and its
// cookies only: no cache directives, whatever its TTL.
func Write(w http.ResponseWriter, t Tokens, e *Envelope) {
	h := w.Header()
	h.Set("Content-Type", e.ContentType)
	h.Del("Date")
	if !e.Empty() {
		if e.TTL > 0 {
			h.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(e.TTL/time.Second)))
		} else {
			h.Set("Cache-Control", "no-cache, max-age=0")
		}
	}
	names := e.replayable()
	for _, name := range names {
		h.Del(name)
		for _, v := range e.Values.Values(name) {
			h.Add(name, v)
		}
	}
	if len(names) > 0 {
		h.Set(t.ReplayHeader, EncodeNames(names))
	}
	if e.ForceNoCache {
		h.Set(t.ForceNoCacheHeader, "1")
	}
	for _, c := range e.Cookies {
		if v := c.String(); v != "" {
			h.Add("Set-Cookie", v)
		}
	}
	w.WriteHeader(e.StatusCode)
}

// Decode reads an envelope from a preflight response.
// It never fails: whether the result can be trusted is up to the caller (see Trusted).
// Cookies are always decoded, they take part in the exchange regardless of trust.
func Decode(res *http.Response, t Tokens) *Envelope {
	e := &Envelope{
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Values:      make(http.Header),
		Cookies:     res.Cookies(),
	}
	if !e.Trusted(t) {
		return e
	}
	for _, name := range DecodeNames(res.Header.Get(t.ReplayHeader)) {
		values := res.Header.Values(name)
		if len(values) == 0 {
			continue
		}
		e.ReplayHeaders = append(e.ReplayHeaders, name)
		for _, v := range values {
			e.Values.Add(name, v)
		}
	}
	_, e.ForceNoCache = res.Header[http.CanonicalHeaderKey(t.ForceNoCacheHeader)]
	return e
}

// EncodeNames joins header names into the replay list format:
// lower-cased, de-duplicated (first occurrence wins) and comma separated.
func EncodeNames(names []string) string {
	return strings.Join(distinct(names), ",")
}

// DecodeNames splits a replay list. Empty items and set-cookie are dropped.
func DecodeNames(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	return distinct(strings.Split(list, ","))
}

func distinct(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "set-cookie" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Expired reports whether a Set-Cookie entry clears the cookie at time now.
func Expired(c *http.Cookie, now time.Time) bool {
	if c.MaxAge < 0 {
		return true
	}
	return !c.Expires.IsZero() && !c.Expires.After(now)
}
