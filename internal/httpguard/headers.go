package httpguard

const (
	headerDeviceNo        = "x-device-no"
	headerFuseRules       = "x-fuse-rules"
	headerAlarmRules      = "x-alarm-rules"
	headerRateRules       = "x-rate-rules"
	headerResponseCode    = "x-response-code"
	headerRequestID       = "X-Request-ID"
	headerRetryAfter      = "Retry-After"
	headerAuthorization   = "Authorization"
	retryAfterFuseSeconds = "5"
)
