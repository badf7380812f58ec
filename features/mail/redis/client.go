// Package redis implements the mailbox client on Redis Streams. Each
// recipient's mailbox is one stream keyed by mail.Key; Publish maps to XADD
// with server-assigned ids, Read to XRANGE from the beginning and Delete to
// XDEL. Redis assigns entry ids in the <ms>-<seq> form the runtime orders by,
// so no client-side sequencing is needed.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quadracode/quadracode/runtime/mail"
	"github.com/quadracode/quadracode/runtime/telemetry"
)

type (
	// Options configures the Redis mailbox client.
	Options struct {
		// Redis is the Redis connection backing the mailboxes. Required.
		Redis *goredis.Client
		// KeyPrefix namespaces mailbox keys. Empty selects
		// mail.DefaultKeyPrefix.
		KeyPrefix string
		// MaxLen bounds each mailbox stream with an approximate trim on
		// publish. Zero disables trimming.
		MaxLen int64
		// OperationTimeout bounds individual Redis operations. Zero means no
		// timeout beyond the caller's context.
		OperationTimeout time.Duration
		// Logger and Metrics default to no-ops when nil.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Client implements mail.Client against Redis Streams. Safe for
	// concurrent use.
	Client struct {
		rdb     *goredis.Client
		prefix  string
		maxLen  int64
		timeout time.Duration
		log     telemetry.Logger
		metrics telemetry.Metrics
	}
)

// New constructs a Redis mailbox client. The Redis field in opts is required.
func New(opts Options) (*Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Client{
		rdb:     opts.Redis,
		prefix:  opts.KeyPrefix,
		maxLen:  opts.MaxLen,
		timeout: opts.OperationTimeout,
		log:     logger,
		metrics: metrics,
	}, nil
}

// Publish appends the envelope to the recipient's mailbox stream.
func (c *Client) Publish(ctx context.Context, recipient string, env mail.Envelope) (mail.EntryID, error) {
	if err := env.Validate(); err != nil {
		return mail.EntryID{}, err
	}
	fields, err := env.Fields()
	if err != nil {
		return mail.EntryID{}, err
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	raw, err := c.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: mail.Key(c.prefix, recipient),
		MaxLen: c.maxLen,
		Approx: c.maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		return mail.EntryID{}, mail.StoreUnavailable("publish to "+recipient, err)
	}
	id, err := mail.ParseEntryID(raw)
	if err != nil {
		return mail.EntryID{}, mail.StoreUnavailable("publish to "+recipient, err)
	}
	c.metrics.IncCounter("mail.published", 1, "recipient", recipient)
	return id, nil
}

// Read returns the oldest entries of the recipient's mailbox, up to batch.
// Entries that do not decode are counted, deleted and skipped so a poison
// entry cannot block the mailbox.
func (c *Client) Read(ctx context.Context, recipient string, batch int) ([]mail.Entry, error) {
	if batch <= 0 {
		return nil, nil
	}
	key := mail.Key(c.prefix, recipient)
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	msgs, err := c.rdb.XRangeN(opCtx, key, "-", "+", int64(batch)).Result()
	if err != nil {
		return nil, mail.StoreUnavailable("read "+recipient, err)
	}
	entries := make([]mail.Entry, 0, len(msgs))
	for _, msg := range msgs {
		id, err := mail.ParseEntryID(msg.ID)
		if err != nil {
			// Redis never hands back a non-conforming id; treat it as
			// transport corruption rather than a malformed envelope.
			return nil, mail.StoreUnavailable("read "+recipient, err)
		}
		env, err := mail.ParseFields(stringFields(msg.Values))
		if err != nil {
			c.discardMalformed(ctx, key, recipient, id, err)
			continue
		}
		entries = append(entries, mail.Entry{ID: id, Envelope: env})
	}
	return entries, nil
}

// Delete removes a single entry from the recipient's mailbox. Deleting an id
// that no longer exists is a no-op.
func (c *Client) Delete(ctx context.Context, recipient string, id mail.EntryID) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.rdb.XDel(ctx, mail.Key(c.prefix, recipient), id.String()).Err(); err != nil {
		return mail.StoreUnavailable("delete from "+recipient, err)
	}
	return nil
}

// Name implements goa.design/clue/health.Pinger.
func (c *Client) Name() string {
	return "mail-redis"
}

// Ping implements goa.design/clue/health.Pinger.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// discardMalformed deletes a malformed entry and records the discard. The
// deletion is best effort: if it fails the entry is retried on the next read.
func (c *Client) discardMalformed(ctx context.Context, key, recipient string, id mail.EntryID, cause error) {
	c.metrics.IncCounter("mail.malformed_discarded", 1, "recipient", recipient)
	c.log.Warn(ctx, "discarding malformed mailbox entry",
		"recipient", recipient, "entry_id", id.String(), "error", cause)
	if err := c.rdb.XDel(ctx, key, id.String()).Err(); err != nil {
		c.log.Error(ctx, "failed to delete malformed mailbox entry",
			"recipient", recipient, "entry_id", id.String(), "error", err)
	}
}

func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// stringFields narrows a stream entry's value map to the string-to-string
// wire form. Non-string values (which Redis does not produce for XADD'd
// string fields) are dropped.
func stringFields(values map[string]any) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return fields
}
