// Package headerreplay implements the header-replay protocol for shared HTTP
// caches.
//
// Requests that carry user context (cookies, credentials) normally cannot be
// served from a shared cache. With header replay the cache first asks the
// origin which headers describe the user, for example a role or a locale, and
// adds them to the request before the lookup. The origin varies its responses
// on those headers instead of on the user context, so one stored response
// serves every user with the same role.
//
// The cache side comes in two variants, both hooking into an
// httpcache.HTTPCache:
//
//	hc := httpcache.New(httpcache.Config{Origin: proxy})
//	hc.Subscribe(headerreplay.NewSideChannel(opts, hc, nil))
//
// SideChannel sends a separate HEAD preflight straight to the origin.
// SelfRetry sends the request itself as the preflight and re-submits it once
// the answer is known.
//
// The origin side is a Responder wrapping the application handler, with
// Providers computing the headers. A Listeners dispatcher with the Guard
// registered keeps response side effects from running for preflights.
package headerreplay
