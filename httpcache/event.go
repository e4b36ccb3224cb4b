package httpcache

import "net/http"

// Event is passed to subscribers around the handling of one request.
// During PreHandle a subscriber may replace Request, or set Response to skip
// the lookup. During PostHandle it may replace or modify Response.
type Event struct {
	Request  *http.Request
	Response *http.Response
	// Reusable, if set during PreHandle, limits which stored responses may be
	// served for Request. Rejected ones count as a vary miss, and the request
	// is forwarded.
	Reusable func(res *http.Response) bool
}

// Subscriber hooks into request handling. Subscribers run in the order they
// were added.
type Subscriber interface {
	PreHandle(e *Event)
	PostHandle(e *Event)
}
