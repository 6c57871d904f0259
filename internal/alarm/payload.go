package alarm

// Payload is the structured body of an alarm notification, encoded as JSON
// and carried in the outbound POST's "msg" form field per base spec §4.7.
type Payload struct {
	Feature     string  `json:"feature"`
	Duration    int     `json:"duration"`
	Threshold   float64 `json:"threshold"`
	Probability float64 `json:"probability"`
	Command     string  `json:"command"`
	ActualValue float64 `json:"actual_value"`
	ClientIP    string  `json:"client_ip"`
	TriggerTime int64   `json:"trigger_time"`
}
