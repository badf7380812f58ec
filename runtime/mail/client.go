package mail

import (
	"context"
	"errors"
	"fmt"
)

// DefaultKeyPrefix is the deployment-wide mailbox key prefix.
const DefaultKeyPrefix = "qc:mailbox/"

// Key derives the mailbox key for a recipient. It is the sole derivation of
// mailbox keys in the runtime: every client implementation routes through it
// so operators can locate any participant's mailbox by identity.
func Key(prefix, recipient string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + recipient
}

// ErrStoreUnavailable marks transient transport failures against the log
// store. Callers retry with backoff; see the runner's store-retry policy.
var ErrStoreUnavailable = errors.New("message store unavailable")

// StoreUnavailable wraps cause so errors.Is(err, ErrStoreUnavailable) holds
// while preserving the underlying error chain.
func StoreUnavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, cause)
}

// MalformedEnvelopeError reports an envelope that cannot be decoded from its
// wire fields. Malformed entries are counted and discarded rather than
// surfaced, so a poison entry cannot block its mailbox.
type MalformedEnvelopeError struct {
	Field  string
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *MalformedEnvelopeError) Error() string {
	msg := "malformed envelope: " + e.Field + ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *MalformedEnvelopeError) Unwrap() error {
	return e.Cause
}

// IsMalformed reports whether err is a malformed-envelope error.
func IsMalformed(err error) bool {
	var m *MalformedEnvelopeError
	return errors.As(err, &m)
}

// Entry pairs a mailbox entry id with its decoded envelope.
type Entry struct {
	ID       EntryID
	Envelope Envelope
}

// Client is the messaging substrate the runtime polls and publishes through.
// Implementations must be safe for concurrent Publish, Read and Delete calls;
// the poll loop, the heartbeat task and graph work all share one client.
type Client interface {
	// Publish appends the envelope to the recipient's mailbox and returns
	// the server-assigned entry id. Transport failures are wrapped in
	// ErrStoreUnavailable.
	Publish(ctx context.Context, recipient string, env Envelope) (EntryID, error)

	// Read returns the oldest undeleted entries of the recipient's mailbox,
	// up to batch, in strictly increasing entry-id order. Entries whose
	// fields do not decode are counted, deleted and skipped, never
	// returned or raised.
	Read(ctx context.Context, recipient string, batch int) ([]Entry, error)

	// Delete removes a single entry. Deleting an id that no longer exists
	// is a no-op, which makes acknowledgment idempotent under redelivery.
	Delete(ctx context.Context, recipient string, id EntryID) error
}
