// Package breaker ties the telemetry store to the rule evaluator for the
// third-party-call circuit breaker: per-command fuse/alarm evaluation over
// the same sliding windows the proxy middleware records into.
package breaker

import (
	"context"

	"github.com/sssxyd/apistatus-guard/internal/clock"
	"github.com/sssxyd/apistatus-guard/internal/evaluator"
	"github.com/sssxyd/apistatus-guard/internal/telemetry"
)

// Fetcher adapts telemetry.Store's two window reads to evaluator.Fetcher:
// Primary is the per-command window, Secondary is the global window.
type Fetcher struct {
	store *telemetry.Store
	clk   *clock.Source
}

// NewFetcher constructs a Fetcher over store.
func NewFetcher(store *telemetry.Store, clk *clock.Source) Fetcher {
	return Fetcher{store: store, clk: clk}
}

// FetchPrimary reads the per-command window for key (the command key).
func (f Fetcher) FetchPrimary(ctx context.Context, key string, durationSeconds int64) (evaluator.Window, error) {
	w, err := f.store.ReadWindow(ctx, key, durationSeconds)
	return evaluator.Window{
		AvgExecTimeMs:  w.AvgExecTimeMs,
		BizFailCount:   w.BizFailCount,
		SysFailCount:   w.SysFailCount,
		TotalExecCount: w.TotalExecCount,
	}, err
}

// FetchSecondary reads the global window. key is unused — the global window
// is not scoped to a command.
func (f Fetcher) FetchSecondary(ctx context.Context, key string, durationSeconds int64) (evaluator.Window, error) {
	g, err := f.store.ReadGlobalWindow(ctx, f.clk.NowSeconds(), durationSeconds)
	return evaluator.Window{
		BizFailCount:   g.BizFailCount,
		SysFailCount:   g.SysFailCount,
		TotalExecCount: g.ExecCount,
	}, err
}
