// Package rules loads and resolves the rule documents that the evaluator
// consults: named JSON files mapping commands (or a "global" fallback) to
// lists of feature/duration/threshold/probability rules.
package rules

// Feature names the metric a Rule is evaluated against. The evaluator owns
// the mapping from Feature to an actual computed value; this package only
// carries the configured rule data.
type Feature string

const (
	FeatureAvgExecTime       Feature = "avg_exec_time"
	FeatureBizFailCount      Feature = "biz_fail_count"
	FeatureBizFailPercent    Feature = "biz_fail_percent"
	FeatureSysFailCount      Feature = "sys_fail_count"
	FeatureSysFailPercent    Feature = "sys_fail_percent"
	FeatureFailCount         Feature = "fail_count"
	FeatureFailPercent       Feature = "fail_percent"

	FeatureGlobalAvgExecTime    Feature = "global_avg_exec_time"
	FeatureGlobalBizFailCount   Feature = "global_biz_fail_count"
	FeatureGlobalBizFailPercent Feature = "global_biz_fail_percent"
	FeatureGlobalSysFailCount   Feature = "global_sys_fail_count"
	FeatureGlobalSysFailPercent Feature = "global_sys_fail_percent"
	FeatureGlobalFailCount      Feature = "global_fail_count"
	FeatureGlobalFailPercent    Feature = "global_fail_percent"

	FeatureSingleCommandHits Feature = "single_command_hits"
	FeatureTotalCommandHits  Feature = "total_command_hits"
)

// IsGlobal reports whether a feature forces use of the global window rather
// than the per-command window.
func (f Feature) IsGlobal() bool {
	switch f {
	case FeatureGlobalAvgExecTime, FeatureGlobalBizFailCount, FeatureGlobalBizFailPercent,
		FeatureGlobalSysFailCount, FeatureGlobalSysFailPercent, FeatureGlobalFailCount, FeatureGlobalFailPercent:
		return true
	default:
		return false
	}
}

// Rule is a single entry in a rule document: a feature, the sliding-window
// width to evaluate it over, the threshold at which it triggers, and an
// optional probability gate. Probability is a pointer so an explicit 0 (never
// trigger) can be told apart from an omitted field (defaults to 100).
type Rule struct {
	Feature     Feature  `json:"feature"`
	Duration    int      `json:"duration"`
	Threshold   float64  `json:"threshold"`
	Probability *float64 `json:"probability,omitempty"`
}

// EffectiveProbability returns the configured probability, defaulting to
// 100 (always trigger once the threshold is met) when unset, and clamping
// to [0, 100] otherwise.
func (r Rule) EffectiveProbability() float64 {
	if r.Probability == nil {
		return 100
	}
	p := *r.Probability
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Document is the schema of a single rule file: a global fallback list plus
// per-command overrides. An empty (but present) command list means "ignore
// this command" per base spec §3.
type Document struct {
	Global   []Rule            `json:"global"`
	Commands map[string][]Rule `json:"commands"`
}
