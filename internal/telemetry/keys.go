package telemetry

import (
	"strconv"
	"strings"
)

const (
	keyLastExecTime       = "apistatus_last_exec_time"
	prefixExecTime        = "apistatus_exec_time_"
	prefixExecStatus      = "apistatus_exec_status_"
	prefixGlobalExecCount = "apistatus_global_exec_count_"
	prefixGlobalBizFail   = "apistatus_global_bizfail_count_"
	prefixGlobalSysFail   = "apistatus_global_sysfail_count_"
)

func execTimeKey(commandKey string) string {
	return prefixExecTime + commandKey
}

func execStatusKey(commandKey string) string {
	return prefixExecStatus + commandKey
}

func globalExecCountKey(second int64) string {
	return prefixGlobalExecCount + strconv.FormatInt(second, 10)
}

func globalBizFailKey(second int64) string {
	return prefixGlobalBizFail + strconv.FormatInt(second, 10)
}

func globalSysFailKey(second int64) string {
	return prefixGlobalSysFail + strconv.FormatInt(second, 10)
}

// buildMember prefixes the value with its own offset to guarantee
// uniqueness within the sorted set even when two recorders produce the
// same score (base spec §3/§9 — this prefix is load-bearing).
func buildMember(offsetMicros int64, value int64) string {
	return strconv.FormatInt(offsetMicros, 10) + "_" + strconv.FormatInt(value, 10)
}

// parseMember splits a member string at its first "_": the suffix is the
// carried integer value; if there is no "_", the whole string is the value.
// Unparsable members are reported via ok=false and silently skipped by
// callers, per base spec §4.5.
func parseMember(member string) (value int64, ok bool) {
	idx := strings.IndexByte(member, '_')
	raw := member
	if idx >= 0 {
		raw = member[idx+1:]
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
