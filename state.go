package headerreplay

import (
	"context"
	"net/http"
)

type stage int

const (
	stageIdle stage = iota
	stagePreflighted
	stageForwarded
	stageReconciled
)

func (s stage) String() string {
	return [...]string{"idle", "preflighted", "forwarded", "reconciled"}[s]
}

// replayState follows one client request through the protocol. It travels in
// the request context so that a re-submitted request shares it.
type replayState struct {
	stage   stage
	retries int
	// cookies received with the preflight
	cookies []*http.Cookie
	// Accept values before the marker replaced them
	originalAccept []string
}

type stateKey struct{}

func withState(ctx context.Context, st *replayState) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

func stateFrom(ctx context.Context) *replayState {
	st, _ := ctx.Value(stateKey{}).(*replayState)
	return st
}
