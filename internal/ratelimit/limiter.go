package ratelimit

import (
	"context"
	"errors"

	"log/slog"

	"github.com/sssxyd/apistatus-guard/internal/evaluator"
	"github.com/sssxyd/apistatus-guard/internal/rules"
)

// ErrDeviceHeaderRequired is returned by Check when the request carries no
// device number and the command has rules to evaluate — base spec §4.6/§6:
// "devices without the required header are rejected outright (429)".
var ErrDeviceHeaderRequired = errors.New("ratelimit: x-device-no header required")

// ErrMalformedOverride is returned when the rate-rule override header fails
// to parse; base spec §9 treats it as untrusted input to reject, not to
// default around.
var ErrMalformedOverride = errors.New("ratelimit: malformed x-rate-rules header")

// Limiter resolves rate rules for a command, records device hits, and
// decides whether a request should be rejected.
type Limiter struct {
	registry    *rules.Registry
	store       *Store
	evaluator   *evaluator.Evaluator
	ruleSetName string
	logger      *slog.Logger
}

// New constructs a Limiter. ruleSetName is the rule registry key (loaded
// rule-file basename) that holds the rate-limiter rule document.
func New(registry *rules.Registry, store *Store, eval *evaluator.Evaluator, ruleSetName string, logger *slog.Logger) *Limiter {
	return &Limiter{registry: registry, store: store, evaluator: eval, ruleSetName: ruleSetName, logger: logger}
}

// Check evaluates the rate rules for (deviceNo, command). command is the
// classified command string (e.g. "api/orders/items") and is what rule
// resolution keys on per base spec §4.3; commandKey is its sanitized form
// and is used only for storage keys per base spec §6. headerOverride is the
// raw x-rate-rules header value, if present. It returns a non-nil
// evaluator.Result.Fused()==true when the request should be rejected with
// 429, or one of the two sentinel errors above for a malformed override or a
// missing device header.
func (l *Limiter) Check(ctx context.Context, deviceNo, command, commandKey, headerOverride string) (evaluator.Result, error) {
	ruleList, resolution := l.registry.Resolve(l.ruleSetName, command)

	if headerOverride != "" {
		override, err := rules.ParseOverrideHeader(headerOverride)
		if err != nil {
			return evaluator.Result{}, ErrMalformedOverride
		}
		if len(override) > 0 {
			ruleList = override
			resolution = rules.ResolutionRules
		}
	}

	if resolution != rules.ResolutionRules || len(ruleList) == 0 {
		return evaluator.Result{}, nil
	}

	if deviceNo == "" {
		return evaluator.Result{}, ErrDeviceHeaderRequired
	}

	l.store.RecordHit(deviceNo, commandKey)

	key := BuildKey(deviceNo, commandKey)
	fetcher := NewFetcher(l.store)
	result := l.evaluator.Evaluate(ctx, fetcher, key, ruleList, true)
	if result.Fused() && l.logger != nil {
		l.logger.Info("rate limit triggered", "device_no", deviceNo, "command_key", commandKey, "feature", result.Triggers[0].Rule.Feature)
	}
	return result, nil
}
