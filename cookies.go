package headerreplay

import (
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/header-replay/pkg/envelope"
)

// replayCookies applies cookies received with a preflight to the Cookie
// header of r, the way a browser jar would: expired cookies are removed,
// all others set or overwritten.
func replayCookies(r *http.Request, cookies []*http.Cookie, now time.Time) {
	if len(cookies) == 0 {
		return
	}
	jar := r.Cookies()
	for _, c := range cookies {
		if envelope.Expired(c, now) {
			jar = removeCookie(jar, c.Name)
			continue
		}
		replaced := false
		for _, existing := range jar {
			if existing.Name == c.Name {
				existing.Value = c.Value
				replaced = true
			}
		}
		if !replaced {
			jar = append(jar, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	r.Header.Del("Cookie")
	if len(jar) == 0 {
		return
	}
	pairs := make([]string, 0, len(jar))
	for _, c := range jar {
		pairs = append(pairs, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	r.Header.Set("Cookie", strings.Join(pairs, "; "))
}

func removeCookie(jar []*http.Cookie, name string) []*http.Cookie {
	kept := jar[:0]
	for _, c := range jar {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	return kept
}

// reconcileCookies adds preflight cookies to the final response unless the
// response already sets a cookie with the same name.
func reconcileCookies(res *http.Response, cookies []*http.Cookie) {
	if res == nil || len(cookies) == 0 {
		return
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	set := make(map[string]bool)
	for _, c := range res.Cookies() {
		set[c.Name] = true
	}
	for _, c := range cookies {
		if set[c.Name] {
			continue
		}
		if v := c.String(); v != "" {
			res.Header.Add("Set-Cookie", v)
			set[c.Name] = true
		}
	}
}
