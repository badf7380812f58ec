package profile

// Directive is the autonomous-mode routing directive carried in
// payload.autonomous. Only the two boolean flags influence recipient
// selection; the remaining fields are informational and pass through for
// observers.
type Directive struct {
	// DeliverToHuman requests that the human receive a copy of the
	// response.
	DeliverToHuman bool
	// Escalate requests human attention; routing treats it like
	// DeliverToHuman.
	Escalate bool
	// Recipient optionally names the participant the directive concerns.
	Recipient string
	// Reason optionally explains the directive.
	Reason string
	// RecoveryAttempts lists the recovery actions already tried.
	RecoveryAttempts []string
}

// ParseDirective decodes a payload.autonomous value. Missing or malformed
// values decode to the zero directive, which routes as "no human delivery".
func ParseDirective(v any) Directive {
	m, ok := v.(map[string]any)
	if !ok {
		return Directive{}
	}
	d := Directive{
		DeliverToHuman: boolAt(m, "deliver_to_human"),
		Escalate:       boolAt(m, "escalate"),
	}
	if s, ok := m["recipient"].(string); ok {
		d.Recipient = s
	}
	if s, ok := m["reason"].(string); ok {
		d.Reason = s
	}
	if attempts, ok := m["recovery_attempts"].([]any); ok {
		for _, a := range attempts {
			if s, ok := a.(string); ok {
				d.RecoveryAttempts = append(d.RecoveryAttempts, s)
			}
		}
	}
	return d
}

func boolAt(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
