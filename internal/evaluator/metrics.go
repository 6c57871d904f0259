// Package evaluator computes rule feature values over sliding windows and
// applies probability-gated triggering, independent of where the windows
// come from — the circuit breaker and the device rate limiter both drive
// this package through their own Fetcher, differing only in which Window
// fields they populate (base spec §1, §4.6).
package evaluator

import "github.com/sssxyd/apistatus-guard/internal/rules"

// Window is the tagged union of everything a Fetcher can report about a
// sliding window. The circuit breaker populates the exec-time/fail fields;
// the device rate limiter populates the hit-count fields. Unused fields
// stay at their zero value and are simply never read by computeValue for
// features the caller never configures.
type Window struct {
	AvgExecTimeMs     int64
	BizFailCount      int64
	SysFailCount      int64
	TotalExecCount    int64
	SingleCommandHits int64
	TotalCommandHits  int64
}

// Scope distinguishes the two windows a single evaluation can consult:
// Primary (per-command for the breaker, per-device-per-command for the
// rate limiter) and Secondary (global for the breaker, per-device-total for
// the rate limiter).
type Scope int

const (
	ScopePrimary Scope = iota
	ScopeSecondary
)

func scopeOf(feature rules.Feature) Scope {
	if feature == rules.FeatureTotalCommandHits || feature.IsGlobal() {
		return ScopeSecondary
	}
	return ScopePrimary
}

// computeValue is the pure "(kind, window) -> number" function base spec §9
// asks for in place of dynamic dispatch on the feature name.
func computeValue(feature rules.Feature, w Window) float64 {
	switch feature {
	case rules.FeatureAvgExecTime, rules.FeatureGlobalAvgExecTime:
		return float64(w.AvgExecTimeMs)
	case rules.FeatureBizFailCount, rules.FeatureGlobalBizFailCount:
		return float64(w.BizFailCount)
	case rules.FeatureBizFailPercent, rules.FeatureGlobalBizFailPercent:
		return 100 * float64(w.BizFailCount) / float64(safeTotal(w.TotalExecCount))
	case rules.FeatureSysFailCount, rules.FeatureGlobalSysFailCount:
		return float64(w.SysFailCount)
	case rules.FeatureSysFailPercent, rules.FeatureGlobalSysFailPercent:
		return 100 * float64(w.SysFailCount) / float64(safeTotal(w.TotalExecCount))
	case rules.FeatureFailCount, rules.FeatureGlobalFailCount:
		return float64(w.BizFailCount + w.SysFailCount)
	case rules.FeatureFailPercent, rules.FeatureGlobalFailPercent:
		return 100 * float64(w.BizFailCount+w.SysFailCount) / float64(safeTotal(w.TotalExecCount))
	case rules.FeatureSingleCommandHits:
		return float64(w.SingleCommandHits)
	case rules.FeatureTotalCommandHits:
		return float64(w.TotalCommandHits)
	default:
		// Unknown feature name (e.g. a typo in a rule file or header
		// override): never trigger rather than guess.
		return 0
	}
}

func safeTotal(total int64) int64 {
	if total == 0 {
		return 1
	}
	return total
}
