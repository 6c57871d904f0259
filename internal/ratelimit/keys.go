package ratelimit

import (
	"strconv"
	"strings"
)

const (
	keyRegistry            = "apistatus_rate_registry"
	prefixDeviceCommandHit = "apistatus_rate_cmd_hits_"
	prefixDeviceTotalHit   = "apistatus_rate_total_hits_"
	registrySeparator      = "\x1f"
)

func deviceCommandKey(deviceNo, commandKey string) string {
	return prefixDeviceCommandHit + deviceNo + "_" + commandKey
}

func deviceTotalKey(deviceNo string) string {
	return prefixDeviceTotalHit + deviceNo
}

func registryMember(deviceNo, commandKey string) string {
	return deviceNo + registrySeparator + commandKey
}

func splitRegistryMember(member string) (deviceNo, commandKey string, ok bool) {
	idx := strings.Index(member, registrySeparator)
	if idx < 0 {
		return "", "", false
	}
	return member[:idx], member[idx+1:], true
}

// buildHitMember appends a per-process sequence number to the offset so
// two hits landing on the same microsecond offset never collide as sorted
// set members, mirroring the offset-prefix discipline the telemetry store
// uses for its own event members.
func buildHitMember(offsetMicros, seq int64) string {
	return strconv.FormatInt(offsetMicros, 10) + "_" + strconv.FormatInt(seq, 10)
}
