// Package inmem provides an in-memory mail.Client for single-process
// deployments and tests. It stores raw wire field maps per mailbox and
// assigns entry ids the way a stream store does, so id ordering, malformed
// entry handling and idempotent deletion behave like the Redis-backed client.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/quadracode/quadracode/runtime/mail"
	"github.com/quadracode/quadracode/runtime/telemetry"
)

type entry struct {
	id     mail.EntryID
	fields map[string]string
}

// Client implements mail.Client against process memory. Safe for concurrent
// use.
type Client struct {
	log telemetry.Logger

	mu        sync.Mutex
	boxes     map[string][]entry
	lastID    mail.EntryID
	malformed int64

	// now is swappable for deterministic tests.
	now func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithLogger sets the logger used to report skipped malformed entries.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock overrides the wall clock used for id assignment.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns an empty in-memory mailbox client.
func New(opts ...Option) *Client {
	c := &Client{
		log:   telemetry.NewNoopLogger(),
		boxes: make(map[string][]entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish appends the envelope to the recipient's mailbox.
func (c *Client) Publish(_ context.Context, recipient string, env mail.Envelope) (mail.EntryID, error) {
	if err := env.Validate(); err != nil {
		return mail.EntryID{}, err
	}
	fields, err := env.Fields()
	if err != nil {
		return mail.EntryID{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID()
	c.boxes[recipient] = append(c.boxes[recipient], entry{id: id, fields: fields})
	return id, nil
}

// Read returns up to batch decodable entries in id order. Entries whose
// fields do not decode are counted, removed and skipped.
func (c *Client) Read(ctx context.Context, recipient string, batch int) ([]mail.Entry, error) {
	if batch <= 0 {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	box := c.boxes[recipient]
	out := make([]mail.Entry, 0, batch)
	kept := box[:0]
	for _, e := range box {
		if len(out) < batch {
			env, err := mail.ParseFields(e.fields)
			if err != nil {
				c.malformed++
				c.log.Warn(ctx, "discarding malformed mailbox entry",
					"recipient", recipient, "entry_id", e.id.String(), "error", err)
				continue
			}
			out = append(out, mail.Entry{ID: e.id, Envelope: env})
		}
		kept = append(kept, e)
	}
	c.boxes[recipient] = kept
	return out, nil
}

// Delete removes the entry if present. Unknown ids are a no-op.
func (c *Client) Delete(_ context.Context, recipient string, id mail.EntryID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	box := c.boxes[recipient]
	for i, e := range box {
		if e.id == id {
			c.boxes[recipient] = append(box[:i], box[i+1:]...)
			return nil
		}
	}
	return nil
}

// AppendRaw appends a raw wire field map without validation, bypassing
// Publish. Tests use it to plant malformed entries.
func (c *Client) AppendRaw(recipient string, fields map[string]string) mail.EntryID {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID()
	c.boxes[recipient] = append(c.boxes[recipient], entry{id: id, fields: copied})
	return id
}

// MalformedCount returns the number of malformed entries discarded so far.
func (c *Client) MalformedCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.malformed
}

// Len returns the number of entries currently held for the recipient,
// malformed entries included.
func (c *Client) Len(recipient string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.boxes[recipient])
}

// nextID assigns a strictly increasing id the way a stream store does: the
// current millisecond, with the sequence bumped when the millisecond repeats
// or the clock steps backwards. Callers must hold mu.
func (c *Client) nextID() mail.EntryID {
	ms := c.now().UnixMilli()
	id := mail.EntryID{Ms: ms}
	if !c.lastID.Less(id) {
		id = mail.EntryID{Ms: c.lastID.Ms, Seq: c.lastID.Seq + 1}
	}
	c.lastID = id
	return id
}
