package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseOverrideHeader parses a comma-separated list of
// "feature:duration:threshold[:probability]" tuples, as carried by the
// x-fuse-rules / x-alarm-rules / x-rate-rules headers. Per base spec §9 this
// is untrusted input: any malformed tuple rejects the whole header rather
// than silently defaulting or skipping it.
func ParseOverrideHeader(header string) ([]Rule, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	parts := strings.Split(header, ",")
	rules := make([]Rule, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		rule, err := parseTuple(part)
		if err != nil {
			return nil, fmt.Errorf("rule override %q: %w", part, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseTuple(tuple string) (Rule, error) {
	fields := strings.Split(tuple, ":")
	if len(fields) < 3 || len(fields) > 4 {
		return Rule{}, fmt.Errorf("expected feature:duration:threshold[:probability], got %d fields", len(fields))
	}
	feature := strings.TrimSpace(fields[0])
	if feature == "" {
		return Rule{}, fmt.Errorf("empty feature name")
	}
	duration, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil || duration <= 0 {
		return Rule{}, fmt.Errorf("invalid duration %q", fields[1])
	}
	threshold, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid threshold %q", fields[2])
	}
	rule := Rule{Feature: Feature(feature), Duration: duration, Threshold: threshold}
	if len(fields) == 4 {
		prob, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid probability %q", fields[3])
		}
		rule.Probability = &prob
	}
	return rule, nil
}
