package httpguard

import (
	"context"
	"time"
)

// requestState is the explicit per-request context object base spec §9
// calls for in place of ad hoc request-scoped globals: start timestamp,
// classified command, and whether the response should be excluded from
// telemetry recording.
type requestState struct {
	start      time.Time
	command    string
	commandKey string
	ignorable  bool
	clientIP   string
}

type requestStateKey struct{}

func withRequestState(ctx context.Context, st *requestState) context.Context {
	return context.WithValue(ctx, requestStateKey{}, st)
}

func requestStateFrom(ctx context.Context) (*requestState, bool) {
	st, ok := ctx.Value(requestStateKey{}).(*requestState)
	return st, ok
}
