package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quadracode/quadracode/runtime/mail"
)

func TestPublishReadDelete(t *testing.T) {
	c := New()
	ctx := context.Background()

	env := mail.New("orchestrator", "coder", "do the thing", map[string]any{"k": "v"})
	id, err := c.Publish(ctx, "coder", env)
	require.NoError(t, err)
	require.False(t, id.IsZero())

	entries, err := c.Read(ctx, "coder", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].ID)
	require.Equal(t, "orchestrator", entries[0].Envelope.Sender)
	require.Equal(t, map[string]any{"k": "v"}, entries[0].Envelope.Payload)

	require.NoError(t, c.Delete(ctx, "coder", id))
	entries, err = c.Read(ctx, "coder", 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPublishRejectsInvalidEnvelope(t *testing.T) {
	c := New()
	_, err := c.Publish(context.Background(), "coder", mail.Envelope{Recipient: "coder"})
	require.Error(t, err)
	require.True(t, mail.IsMalformed(err))
}

func TestReadPreservesOrderAndBatch(t *testing.T) {
	c := New()
	ctx := context.Background()
	var ids []mail.EntryID
	for _, msg := range []string{"a", "b", "c"} {
		id, err := c.Publish(ctx, "coder", mail.New("s", "coder", msg, nil))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		require.True(t, ids[i-1].Less(ids[i]))
	}

	entries, err := c.Read(ctx, "coder", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Envelope.Message)
	require.Equal(t, "b", entries[1].Envelope.Message)

	// Reads do not consume: the same entries come back until deleted.
	entries, err = c.Read(ctx, "coder", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestIDsIncreaseWithinSameMillisecond(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	c := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	a, err := c.Publish(ctx, "r", mail.New("s", "r", "1", nil))
	require.NoError(t, err)
	b, err := c.Publish(ctx, "r", mail.New("s", "r", "2", nil))
	require.NoError(t, err)
	require.Equal(t, a.Ms, b.Ms)
	require.Equal(t, a.Seq+1, b.Seq)
}

func TestReadSkipsAndDiscardsMalformed(t *testing.T) {
	c := New()
	ctx := context.Background()

	_, err := c.Publish(ctx, "coder", mail.New("s", "coder", "good one", nil))
	require.NoError(t, err)
	c.AppendRaw("coder", map[string]string{"recipient": "coder", "message": "no sender"})
	c.AppendRaw("coder", map[string]string{"sender": "s", "recipient": "coder", "payload": "not json"})
	_, err = c.Publish(ctx, "coder", mail.New("s", "coder", "good two", nil))
	require.NoError(t, err)

	entries, err := c.Read(ctx, "coder", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "good one", entries[0].Envelope.Message)
	require.Equal(t, "good two", entries[1].Envelope.Message)
	require.EqualValues(t, 2, c.MalformedCount())
	require.Equal(t, 2, c.Len("coder"), "malformed entries are removed from the mailbox")
}

func TestDeleteUnknownIDIsNoop(t *testing.T) {
	c := New()
	require.NoError(t, c.Delete(context.Background(), "coder", mail.EntryID{Ms: 1, Seq: 1}))
}

func TestMailboxesAreIsolated(t *testing.T) {
	c := New()
	ctx := context.Background()
	_, err := c.Publish(ctx, "coder", mail.New("s", "coder", "for coder", nil))
	require.NoError(t, err)
	_, err = c.Publish(ctx, "tester", mail.New("s", "tester", "for tester", nil))
	require.NoError(t, err)

	entries, err := c.Read(ctx, "tester", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "for tester", entries[0].Envelope.Message)
}
