package headerreplay

import (
	"math"
	"net/http"
	"sort"
	"sync"

	"github.com/always-cache/header-replay/pkg/envelope"
)

// IsPreflight reports whether r is a header-replay preflight. Only the Accept
// header is considered.
func IsPreflight(r *http.Request, tokens envelope.Tokens) bool {
	return tokens.Accepts(r)
}

// Phase is a point in the response lifecycle where listeners run.
type Phase int

const (
	// PhaseResponse runs once the handler starts writing its response,
	// while headers can still be changed.
	PhaseResponse Phase = iota
	// PhaseTerminate runs after the response has been written.
	PhaseTerminate
)

func (p Phase) String() string {
	switch p {
	case PhaseResponse:
		return "response"
	case PhaseTerminate:
		return "terminate"
	}
	return "unknown"
}

// GuardPriority is the priority the propagation guard registers with, so it
// runs before any other listener.
const GuardPriority = math.MaxInt

// ListenerEvent is passed to listeners.
type ListenerEvent struct {
	Phase   Phase
	Request *http.Request
	// Response headers. Changes only have an effect in PhaseResponse.
	Header http.Header

	stopped bool
}

// StopPropagation prevents lower priority listeners from seeing the event.
func (e *ListenerEvent) StopPropagation() {
	e.stopped = true
}

func (e *ListenerEvent) PropagationStopped() bool {
	return e.stopped
}

type Listener func(e *ListenerEvent)

type registration struct {
	priority int
	listener Listener
}

// Listeners dispatches lifecycle events to listeners, highest priority first.
// Listeners with equal priority run in registration order.
type Listeners struct {
	mu     sync.RWMutex
	phases map[Phase][]registration
}

func NewListeners() *Listeners {
	return &Listeners{phases: make(map[Phase][]registration)}
}

func (l *Listeners) Register(phase Phase, priority int, fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	regs := append([]registration(nil), l.phases[phase]...)
	regs = append(regs, registration{priority: priority, listener: fn})
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].priority > regs[j].priority
	})
	l.phases[phase] = regs
}

// RegisterGuard registers the propagation guard for both phases.
func (l *Listeners) RegisterGuard(tokens envelope.Tokens) {
	l.Register(PhaseResponse, GuardPriority, Guard(tokens))
	l.Register(PhaseTerminate, GuardPriority, Guard(tokens))
}

// Dispatch runs the listeners of e.Phase until one stops propagation.
func (l *Listeners) Dispatch(e *ListenerEvent) {
	l.mu.RLock()
	regs := l.phases[e.Phase]
	l.mu.RUnlock()
	for _, reg := range regs {
		reg.listener(e)
		if e.stopped {
			return
		}
	}
}

// Guard stops propagation for preflight requests. Side effects of response
// and terminate listeners, such as session writes, then happen only once for
// the real request.
func Guard(tokens envelope.Tokens) Listener {
	return func(e *ListenerEvent) {
		if IsPreflight(e.Request, tokens) {
			e.StopPropagation()
		}
	}
}

// Middleware dispatches PhaseResponse when next starts writing and
// PhaseTerminate after next returns.
func (l *Listeners) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pw := &phaseWriter{ResponseWriter: w, listeners: l, request: r}
		next.ServeHTTP(pw, r)
		pw.dispatchResponse()
		l.Dispatch(&ListenerEvent{Phase: PhaseTerminate, Request: r, Header: w.Header()})
	})
}

type phaseWriter struct {
	http.ResponseWriter
	listeners  *Listeners
	request    *http.Request
	dispatched bool
}

func (w *phaseWriter) dispatchResponse() {
	if w.dispatched {
		return
	}
	w.dispatched = true
	w.listeners.Dispatch(&ListenerEvent{Phase: PhaseResponse, Request: w.request, Header: w.Header()})
}

func (w *phaseWriter) WriteHeader(statusCode int) {
	w.dispatchResponse()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *phaseWriter) Write(b []byte) (int, error) {
	w.dispatchResponse()
	return w.ResponseWriter.Write(b)
}

func (w *phaseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
