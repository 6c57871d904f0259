package breaker

import (
	"context"

	"log/slog"

	"github.com/sssxyd/apistatus-guard/internal/evaluator"
	"github.com/sssxyd/apistatus-guard/internal/rules"
)

// Checker drives the circuit breaker's fuse and alarm evaluations for a
// classified command, resolving each against its own named rule set (fuse
// and alarm rule lists are independent — both, either, or neither may
// apply, per base spec §4.6).
type Checker struct {
	registry     *rules.Registry
	fetcher      evaluator.Fetcher
	evaluator    *evaluator.Evaluator
	fuseRuleSet  string
	alarmRuleSet string
	logger       *slog.Logger
}

// New constructs a Checker. fetcher is typically a breaker.Fetcher wrapping
// a *telemetry.Store.
func New(registry *rules.Registry, fetcher evaluator.Fetcher, eval *evaluator.Evaluator, fuseRuleSet, alarmRuleSet string, logger *slog.Logger) *Checker {
	return &Checker{
		registry:     registry,
		fetcher:      fetcher,
		evaluator:    eval,
		fuseRuleSet:  fuseRuleSet,
		alarmRuleSet: alarmRuleSet,
		logger:       logger,
	}
}

// CheckFuse resolves and evaluates the fuse rule list for command,
// stopping at the first rule that triggers. A malformed headerOverride
// rejects with rules.ParseOverrideHeader's error rather than falling back
// to the registry.
func (c *Checker) CheckFuse(ctx context.Context, command, commandKey, headerOverride string) (evaluator.Result, error) {
	return c.check(ctx, c.fuseRuleSet, command, commandKey, headerOverride, true)
}

// CheckAlarm resolves and evaluates the alarm rule list for command,
// continuing through every rule so multiple alarms can fire from one
// request.
func (c *Checker) CheckAlarm(ctx context.Context, command, commandKey, headerOverride string) (evaluator.Result, error) {
	return c.check(ctx, c.alarmRuleSet, command, commandKey, headerOverride, false)
}

// check resolves ruleSetName against command per base spec §4.3 and, once a
// rule list applies, evaluates it against the windows stored under
// commandKey per base spec §6.
func (c *Checker) check(ctx context.Context, ruleSetName, command, commandKey, headerOverride string, stopAtFirstTrigger bool) (evaluator.Result, error) {
	list, resolution := c.registry.Resolve(ruleSetName, command)

	if headerOverride != "" {
		override, err := rules.ParseOverrideHeader(headerOverride)
		if err != nil {
			return evaluator.Result{}, err
		}
		if len(override) > 0 {
			list, resolution = override, rules.ResolutionRules
		}
	}

	if resolution != rules.ResolutionRules || len(list) == 0 {
		return evaluator.Result{}, nil
	}

	return c.evaluator.Evaluate(ctx, c.fetcher, commandKey, list, stopAtFirstTrigger), nil
}
