// Package runner implements the runtime loop: one identity polling its
// mailbox, dispatching each entry through the reasoning graph, publishing the
// response to the recipients the routing policy selects, and acknowledging
// the entry by deletion. Errors processing one entry never stop the batch;
// store outages are retried with bounded backoff and then skipped until the
// next poll.
package runner

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quadracode/quadracode/runtime/chat"
	"github.com/quadracode/quadracode/runtime/graph"
	"github.com/quadracode/quadracode/runtime/mail"
	"github.com/quadracode/quadracode/runtime/profile"
	"github.com/quadracode/quadracode/runtime/registration"
	"github.com/quadracode/quadracode/runtime/telemetry"
)

const (
	// DefaultPollInterval is the sleep between polls of an empty mailbox.
	DefaultPollInterval = time.Second
	// DefaultBatchSize is the number of entries read per poll.
	DefaultBatchSize = 5
	// DefaultInvokeTimeout bounds one graph invocation.
	DefaultInvokeTimeout = 10 * time.Minute

	// Store-retry backoff bounds for transient store failures.
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 3200 * time.Millisecond

	// EnvIdentity overrides the profile's default identity.
	EnvIdentity = "QUADRACODE_ID"
)

// ErrMissingIdentity is returned when neither QUADRACODE_ID nor the profile
// supplies a runtime identity.
var ErrMissingIdentity = errors.New("missing runtime identity")

type (
	// Options configures a Runner.
	Options struct {
		// Profile fixes the routing policy and default identity. Required.
		Profile profile.Profile
		// Client is the messaging substrate. Required.
		Client mail.Client
		// Graph dispatches inbound turns. Required.
		Graph *graph.Graph
		// Identity overrides QUADRACODE_ID and the profile default.
		Identity string
		// Registration, when set, is run as a background task for the
		// lifetime of the loop.
		Registration *registration.Integration
		// PollInterval, BatchSize and InvokeTimeout default to the package
		// constants when zero.
		PollInterval  time.Duration
		BatchSize     int
		InvokeTimeout time.Duration
		// Logger and Metrics default to no-ops when nil.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Runner is the per-process runtime loop.
	Runner struct {
		prof          profile.Profile
		client        mail.Client
		graph         *graph.Graph
		identity      string
		reg           *registration.Integration
		pollInterval  time.Duration
		batchSize     int
		invokeTimeout time.Duration
		log           telemetry.Logger
		metrics       telemetry.Metrics
	}
)

// ResolveIdentity computes the runtime identity for a profile: the
// QUADRACODE_ID environment variable when set, the profile default otherwise.
func ResolveIdentity(p profile.Profile) (string, error) {
	if id := strings.TrimSpace(os.Getenv(EnvIdentity)); id != "" {
		return id, nil
	}
	if p.DefaultIdentity != "" {
		return p.DefaultIdentity, nil
	}
	return "", ErrMissingIdentity
}

// New validates opts and builds a Runner. An explicit Identity wins over the
// environment and the profile default.
func New(opts Options) (*Runner, error) {
	if opts.Client == nil {
		return nil, errors.New("messaging client is required")
	}
	if opts.Graph == nil {
		return nil, errors.New("graph is required")
	}
	if opts.Profile.Policy == nil {
		return nil, errors.New("profile with routing policy is required")
	}
	identity := opts.Identity
	if identity == "" {
		var err error
		identity, err = ResolveIdentity(opts.Profile)
		if err != nil {
			return nil, err
		}
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	invokeTimeout := opts.InvokeTimeout
	if invokeTimeout <= 0 {
		invokeTimeout = DefaultInvokeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Runner{
		prof:          opts.Profile,
		client:        opts.Client,
		graph:         opts.Graph,
		identity:      identity,
		reg:           opts.Registration,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		invokeTimeout: invokeTimeout,
		log:           logger,
		metrics:       metrics,
	}, nil
}

// Identity returns the resolved runtime identity.
func (r *Runner) Identity() string {
	return r.identity
}

// Run polls the identity's mailbox until ctx is cancelled. The registration
// integration, when configured, runs alongside and is shut down (including
// its best-effort unregister) before Run returns.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if r.reg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.reg.Run(ctx)
		}()
	}
	defer wg.Wait()

	r.log.Info(ctx, "runtime loop started",
		"identity", r.identity, "profile", r.prof.Name)

	for {
		if ctx.Err() != nil {
			r.log.Info(ctx, "runtime loop stopped", "identity", r.identity)
			return
		}
		processed := r.pollOnce(ctx)
		if processed == 0 {
			if !sleep(ctx, r.pollInterval) {
				r.log.Info(ctx, "runtime loop stopped", "identity", r.identity)
				return
			}
		}
	}
}

// pollOnce reads one batch and processes it strictly in order. It returns
// the number of entries handled so the caller knows whether to idle.
func (r *Runner) pollOnce(ctx context.Context) int {
	var entries []mail.Entry
	err := r.withStoreRetry(ctx, func() error {
		var readErr error
		entries, readErr = r.client.Read(ctx, r.identity, r.batchSize)
		return readErr
	})
	if err != nil {
		r.log.Error(ctx, "mailbox read failed, skipping iteration",
			"identity", r.identity, "error", err)
		r.metrics.IncCounter("runner.read_failures", 1)
		return 0
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return len(entries)
		}
		if err := r.handleEntry(ctx, entry); err != nil {
			r.log.Error(ctx, "runtime error for message "+entry.ID.String()+": "+err.Error(),
				"identity", r.identity, "entry_id", entry.ID.String())
			r.metrics.IncCounter("runner.entry_failures", 1)
		}
		// Acknowledge regardless of the processing outcome so a failing
		// entry cannot wedge the mailbox.
		if err := r.client.Delete(ctx, r.identity, entry.ID); err != nil {
			r.log.Warn(ctx, "failed to delete processed entry",
				"entry_id", entry.ID.String(), "error", err)
		}
	}
	return len(entries)
}

// handleEntry dispatches one inbound envelope: graph invocation under the
// configured deadline, then publication to the policy's recipients.
func (r *Runner) handleEntry(ctx context.Context, entry mail.Entry) error {
	env := entry.Envelope
	threadID := r.threadIDFor(env)

	inv := graph.Invocation{
		ThreadID: threadID,
		User:     chat.User(env.Message),
		History:  historyFrom(env.Payload),
		Frame:    graph.ParseFrame(env.Payload),
	}

	invokeCtx, cancel := context.WithTimeout(ctx, r.invokeTimeout)
	defer cancel()
	turns, err := r.graph.Invoke(invokeCtx, inv)
	if err != nil {
		return err
	}
	r.metrics.IncCounter("runner.entries_processed", 1, "profile", r.prof.Name)

	response := responsePayload(env.Payload, threadID, turns)
	body := chat.LastContent(turns)
	recipients := r.prof.Policy.ResolveRecipients(env, env.Payload)

	for _, recipient := range recipients {
		out := mail.New(r.identity, recipient, body, response)
		var id mail.EntryID
		err := r.withStoreRetry(ctx, func() error {
			var pubErr error
			id, pubErr = r.client.Publish(ctx, recipient, out)
			return pubErr
		})
		if err != nil {
			r.log.Error(ctx, "publish failed",
				"recipient", recipient, "entry_id", entry.ID.String(), "error", err)
			r.metrics.IncCounter("runner.publish_failures", 1)
			continue
		}
		r.log.Debug(ctx, "response published",
			"recipient", recipient, "entry_id", id.String())
	}
	return nil
}

// threadIDFor resolves the conversation thread of an envelope. The first
// non-empty payload key among chat_id, thread_id, session_id and ticket_id
// wins; then the sender; then the runtime identity.
func (r *Runner) threadIDFor(env mail.Envelope) string {
	for _, key := range []string{"chat_id", "thread_id", "session_id", "ticket_id"} {
		if v := coerceString(env.Payload[key]); v != "" {
			return v
		}
	}
	if env.Sender != "" {
		return env.Sender
	}
	return r.identity
}

// historyFrom extracts the payload-supplied chat history, preferring
// state.messages over the top-level messages key. The graph uses it only
// when the thread has no checkpoint yet.
func historyFrom(payload map[string]any) []chat.Turn {
	if state, ok := payload["state"].(map[string]any); ok {
		if turns := chat.Decode(state["messages"]); len(turns) > 0 {
			return turns
		}
	}
	return chat.Decode(payload["messages"])
}

// responsePayload derives the outbound payload: the inbound payload minus
// the consumed routing and history keys, with this invocation's turns and
// the thread identity layered on. Unknown keys pass through untouched.
func responsePayload(payload map[string]any, threadID string, turns []chat.Turn) map[string]any {
	out := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		switch k {
		case "reply_to", "messages", "state":
			continue
		}
		out[k] = v
	}
	out["messages"] = chat.Encode(turns)
	out["chat_id"] = threadID
	out["thread_id"] = threadID
	return out
}

// withStoreRetry runs fn, retrying transient store failures with exponential
// backoff from 100ms up to a 3.2s cap. Non-transient errors and context
// cancellation return immediately.
func (r *Runner) withStoreRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	for {
		err := fn()
		if err == nil || !errors.Is(err, mail.ErrStoreUnavailable) {
			return err
		}
		if delay > retryMaxDelay {
			return err
		}
		r.log.Warn(ctx, "message store unavailable, backing off",
			"delay", delay.String(), "error", err)
		if !sleep(ctx, delay) {
			return err
		}
		delay *= 2
	}
}

// sleep waits d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// coerceString renders a decoded JSON scalar as a trimmed string. Non-scalar
// and empty values yield "".
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}
