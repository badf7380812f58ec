// Package mail defines the on-wire envelope, the mailbox naming scheme and
// the messaging client contract. Mailboxes are per-recipient append-only
// streams in a shared log store; envelopes are flat string-to-string field
// maps with a JSON-encoded payload, so any stream store that speaks string
// fields can carry them.
package mail

import (
	"encoding/json"
	"time"
)

// Canonical wire field names. Every encoded envelope carries all five keys,
// with empty strings for absent optional values, so consumers observe a
// stable field set.
const (
	FieldSender    = "sender"
	FieldRecipient = "recipient"
	FieldMessage   = "message"
	FieldTimestamp = "timestamp"
	FieldPayload   = "payload"
)

// Envelope is the unit of work exchanged through mailboxes. Envelopes are
// immutable on the wire: they are appended by the producer and deleted by
// the consumer, never rewritten.
type Envelope struct {
	// Sender is the identity of the producer. Required.
	Sender string
	// Recipient is the identity of the intended consumer and derives the
	// mailbox key. Required.
	Recipient string
	// Message is the human-visible text. May be empty when the payload
	// carries the entire state.
	Message string
	// Timestamp is the production time in ISO-8601 UTC at whole-second
	// resolution.
	Timestamp string
	// Payload is the structured context. Never nil after decoding; an
	// absent wire payload decodes to an empty map.
	Payload map[string]any
	// Extra preserves unknown wire fields so they survive a decode/encode
	// round trip. Canonical fields always win on encode.
	Extra map[string]string
}

// New builds an envelope stamped with the current UTC time. A nil payload is
// normalized to an empty map so encoding stays stable.
func New(sender, recipient, message string, payload map[string]any) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{
		Sender:    sender,
		Recipient: recipient,
		Message:   message,
		Timestamp: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Payload:   payload,
	}
}

// Validate reports whether the envelope satisfies the wire requirements.
func (e Envelope) Validate() error {
	if e.Sender == "" {
		return &MalformedEnvelopeError{Field: FieldSender, Reason: "missing or empty"}
	}
	if e.Recipient == "" {
		return &MalformedEnvelopeError{Field: FieldRecipient, Reason: "missing or empty"}
	}
	return nil
}

// Fields serializes the envelope into its flat wire representation. All five
// canonical keys are present; the payload is JSON-encoded (an empty payload
// encodes as "{}"). Extra fields are re-emitted unless they collide with a
// canonical key.
func (e Envelope) Fields() (map[string]string, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &MalformedEnvelopeError{Field: FieldPayload, Reason: "not JSON-encodable", Cause: err}
	}
	fields := make(map[string]string, 5+len(e.Extra))
	for k, v := range e.Extra {
		if isCanonicalField(k) {
			continue
		}
		fields[k] = v
	}
	fields[FieldSender] = e.Sender
	fields[FieldRecipient] = e.Recipient
	fields[FieldMessage] = e.Message
	fields[FieldTimestamp] = e.Timestamp
	fields[FieldPayload] = string(data)
	return fields, nil
}

// ParseFields decodes a wire field map into an envelope. It fails with a
// *MalformedEnvelopeError when sender or recipient is missing or empty, or
// when a non-empty payload field is not a JSON object. Unknown fields are
// preserved in Extra.
func ParseFields(fields map[string]string) (Envelope, error) {
	e := Envelope{
		Sender:    fields[FieldSender],
		Recipient: fields[FieldRecipient],
		Message:   fields[FieldMessage],
		Timestamp: fields[FieldTimestamp],
		Payload:   map[string]any{},
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	if raw := fields[FieldPayload]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return Envelope{}, &MalformedEnvelopeError{Field: FieldPayload, Reason: "invalid JSON object", Cause: err}
		}
	}
	for k, v := range fields {
		if isCanonicalField(k) {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]string)
		}
		e.Extra[k] = v
	}
	return e, nil
}

func isCanonicalField(k string) bool {
	switch k {
	case FieldSender, FieldRecipient, FieldMessage, FieldTimestamp, FieldPayload:
		return true
	}
	return false
}
