package evaluator

import (
	"context"
	"math/rand/v2"

	"log/slog"

	"github.com/sssxyd/apistatus-guard/internal/rules"
)

// Fetcher supplies the two windows a rule list can reference. key is the
// command key for the breaker, or a caller-defined composite key for the
// rate limiter (see internal/ratelimit).
type Fetcher interface {
	FetchPrimary(ctx context.Context, key string, durationSeconds int64) (Window, error)
	FetchSecondary(ctx context.Context, key string, durationSeconds int64) (Window, error)
}

// Trigger records a rule that fired: its definition and the actual value
// that crossed the threshold.
type Trigger struct {
	Rule        rules.Rule
	ActualValue float64
}

// Result is the outcome of one Evaluate call.
type Result struct {
	// Triggers lists every rule that triggered. For a fuse/rate
	// evaluation this has at most one entry (evaluation stops at the
	// first trigger); for an alarm evaluation it can have several.
	Triggers []Trigger
}

// Fused reports whether the evaluation should short-circuit the request.
func (r Result) Fused() bool {
	return len(r.Triggers) > 0
}

type cacheKey struct {
	scope    Scope
	duration int64
}

// Evaluator evaluates rule lists against fetched windows with probability
// gating. The zero value is not usable; construct with New.
type Evaluator struct {
	rand   func() float64
	logger *slog.Logger
}

// New returns an Evaluator using math/rand/v2's package-level generator,
// which is already safe for concurrent use without a shared lock — the
// no-contention property base spec §5 asks for from a per-worker RNG.
func New(logger *slog.Logger) *Evaluator {
	return &Evaluator{rand: rand.Float64, logger: logger}
}

// NewWithRand returns an Evaluator driven by a caller-supplied random
// source, for deterministic tests of probability gating.
func NewWithRand(randFn func() float64, logger *slog.Logger) *Evaluator {
	return &Evaluator{rand: randFn, logger: logger}
}

// Evaluate walks ruleList in order, computing each rule's actual value from
// a memoized (scope, duration) window fetch, and applying the probability
// gate once the threshold is met. When stopAtFirstTrigger is true
// (fuse/rate evaluation), it returns immediately on the first trigger;
// otherwise (alarm evaluation) it continues through the whole list.
func (e *Evaluator) Evaluate(ctx context.Context, fetcher Fetcher, key string, ruleList []rules.Rule, stopAtFirstTrigger bool) Result {
	cache := make(map[cacheKey]Window, 2)
	failed := make(map[cacheKey]bool, 2)
	var result Result

	for _, rule := range ruleList {
		scope := scopeOf(rule.Feature)
		ck := cacheKey{scope: scope, duration: int64(rule.Duration)}
		window, ok := cache[ck]
		if !ok && !failed[ck] {
			var err error
			switch scope {
			case ScopeSecondary:
				window, err = fetcher.FetchSecondary(ctx, key, int64(rule.Duration))
			default:
				window, err = fetcher.FetchPrimary(ctx, key, int64(rule.Duration))
			}
			if err != nil {
				// Fail open: rules over a window whose fetch failed are
				// skipped, so an unreachable backend never fires a rule
				// (base spec §7).
				failed[ck] = true
				if e.logger != nil {
					e.logger.Warn("evaluator: window fetch failed, failing open", "key", key, "feature", rule.Feature, "error", err)
				}
			} else {
				cache[ck] = window
			}
		}
		if failed[ck] {
			continue
		}

		actual := computeValue(rule.Feature, window)
		if actual < rule.Threshold {
			continue
		}
		if !e.gate(rule.EffectiveProbability()) {
			continue
		}
		result.Triggers = append(result.Triggers, Trigger{Rule: rule, ActualValue: actual})
		if stopAtFirstTrigger {
			return result
		}
	}
	return result
}

// gate implements the Bernoulli filter from base spec §4.6: probability is
// a percentage in [0, 100]; draws are independent per rule, per request.
func (e *Evaluator) gate(probability float64) bool {
	if probability >= 100 {
		return true
	}
	if probability <= 0 {
		return false
	}
	return e.rand() <= probability/100
}
