package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadracode/quadracode/runtime/chat"
	"github.com/quadracode/quadracode/runtime/graph"
	graphinmem "github.com/quadracode/quadracode/runtime/graph/inmem"
	"github.com/quadracode/quadracode/runtime/mail"
	mailinmem "github.com/quadracode/quadracode/runtime/mail/inmem"
	"github.com/quadracode/quadracode/runtime/model"
	"github.com/quadracode/quadracode/runtime/profile"
)

type fixture struct {
	runner *Runner
	client *mailinmem.Client
	cp     *graphinmem.Checkpointer
	stub   *model.Stub
}

func newFixture(t *testing.T, profileName string, stub *model.Stub) *fixture {
	t.Helper()

	prof, err := profile.Load(profileName)
	require.NoError(t, err)

	client := mailinmem.New()
	cp := graphinmem.New()
	g, err := graph.New(graph.Options{
		Model:        stub,
		Checkpointer: cp,
		SystemPrompt: prof.SystemPrompt,
	})
	require.NoError(t, err)

	r, err := New(Options{
		Profile: prof,
		Client:  client,
		Graph:   g,
	})
	require.NoError(t, err)

	return &fixture{runner: r, client: client, cp: cp, stub: stub}
}

// deliver publishes an inbound envelope to the runner's mailbox and runs one
// poll iteration.
func (f *fixture) deliver(t *testing.T, env mail.Envelope) {
	t.Helper()
	_, err := f.client.Publish(context.Background(), f.runner.Identity(), env)
	require.NoError(t, err)
	f.runner.pollOnce(context.Background())
}

func readAll(t *testing.T, client *mailinmem.Client, recipient string) []mail.Entry {
	t.Helper()
	entries, err := client.Read(context.Background(), recipient, 100)
	require.NoError(t, err)
	return entries
}

func TestHumanMessageAnsweredToHuman(t *testing.T) {
	f := newFixture(t, profile.NameOrchestrator, model.NewStub(model.TextResponse("on it")))

	f.deliver(t, mail.New("human", "orchestrator", "status?", nil))

	// Inbound entry acknowledged.
	assert.Empty(t, readAll(t, f.client, f.runner.Identity()))

	out := readAll(t, f.client, profile.HumanRecipient)
	require.Len(t, out, 1)
	env := out[0].Envelope
	assert.Equal(t, "orchestrator", env.Sender)
	assert.Equal(t, "on it", env.Message)
	assert.Equal(t, "human", env.Payload["chat_id"])
	assert.Equal(t, "human", env.Payload["thread_id"])
}

func TestThreadIDPrecedence(t *testing.T) {
	f := newFixture(t, profile.NameOrchestrator, model.NewStub(model.TextResponse("ok")))

	f.deliver(t, mail.New("human", "orchestrator", "hi", map[string]any{
		"thread_id": "t-2",
		"chat_id":   "c-1",
	}))

	out := readAll(t, f.client, profile.HumanRecipient)
	require.Len(t, out, 1)
	assert.Equal(t, "c-1", out[0].Envelope.Payload["thread_id"])

	// Checkpoint keyed by the winning id.
	_, found, err := f.cp.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestResponsePayloadStripsConsumedKeys(t *testing.T) {
	f := newFixture(t, profile.NameOrchestrator, model.NewStub(model.TextResponse("ok")))

	f.deliver(t, mail.New("agent-7", "orchestrator", "done", map[string]any{
		"reply_to": "agent-7",
		"messages": []any{map[string]any{"role": "user", "content": "old"}},
		"state":    map[string]any{"messages": []any{}},
		"ticket":   "T-99",
	}))

	out := readAll(t, f.client, "agent-7")
	require.Len(t, out, 1)
	payload := out[0].Envelope.Payload
	assert.NotContains(t, payload, "reply_to")
	assert.NotContains(t, payload, "state")
	assert.Equal(t, "T-99", payload["ticket"])

	// messages carries only this invocation's turns.
	turns := chat.Decode(payload["messages"])
	require.Len(t, turns, 1)
	assert.Equal(t, chat.RoleAssistant, turns[0].Role)
	assert.Equal(t, "ok", turns[0].Content)
}

func TestPayloadHistorySeedsNewThread(t *testing.T) {
	stub := model.NewStub(model.TextResponse("continuing"))
	f := newFixture(t, profile.NameOrchestrator, stub)

	f.deliver(t, mail.New("human", "orchestrator", "and then?", map[string]any{
		"chat_id": "c-1",
		"state": map[string]any{
			"messages": []any{
				map[string]any{"role": "user", "content": "first"},
				map[string]any{"role": "assistant", "content": "second"},
			},
		},
	}))

	reqs := stub.Requests()
	require.Len(t, reqs, 1)
	// System turn framed first, then seeded history, then the new turn.
	roles := make([]string, 0, len(reqs[0].Messages))
	for _, turn := range reqs[0].Messages {
		roles = append(roles, turn.Role)
	}
	assert.Equal(t, []string{chat.RoleSystem, chat.RoleUser, chat.RoleAssistant, chat.RoleUser}, roles)
	assert.Equal(t, "first", reqs[0].Messages[1].Content)
}

func TestCheckpointWinsOverPayloadHistory(t *testing.T) {
	stub := model.NewStub(model.TextResponse("a"), model.TextResponse("b"))
	f := newFixture(t, profile.NameOrchestrator, stub)

	f.deliver(t, mail.New("human", "orchestrator", "one", map[string]any{"chat_id": "c-1"}))
	f.deliver(t, mail.New("human", "orchestrator", "two", map[string]any{
		"chat_id": "c-1",
		"state": map[string]any{
			"messages": []any{map[string]any{"role": "user", "content": "fabricated"}},
		},
	}))

	reqs := stub.Requests()
	require.Len(t, reqs, 2)
	for _, turn := range reqs[1].Messages {
		assert.NotEqual(t, "fabricated", turn.Content)
	}
}

func TestAgentProfileRoutesToOrchestratorNeverHuman(t *testing.T) {
	stub := model.NewStub(model.TextResponse("result"))

	prof, err := profile.Load(profile.NameAgent)
	require.NoError(t, err)

	client := mailinmem.New()
	g, err := graph.New(graph.Options{
		Model:        stub,
		Checkpointer: graphinmem.New(),
		SystemPrompt: prof.SystemPrompt,
	})
	require.NoError(t, err)

	r, err := New(Options{Profile: prof, Client: client, Graph: g, Identity: "agent-7"})
	require.NoError(t, err)

	env := mail.New("orchestrator", "agent-7", "do the thing", map[string]any{
		"reply_to": []any{"human", "orchestrator"},
	})
	_, err = client.Publish(context.Background(), "agent-7", env)
	require.NoError(t, err)
	r.pollOnce(context.Background())

	assert.Empty(t, readAll(t, client, profile.HumanRecipient))
	out := readAll(t, client, profile.OrchestratorRecipient)
	require.Len(t, out, 1)
	assert.Equal(t, "agent-7", out[0].Envelope.Sender)
	assert.Equal(t, "result", out[0].Envelope.Message)
}

func TestModelErrorStillPublishesAndAcknowledges(t *testing.T) {
	f := newFixture(t, profile.NameOrchestrator, model.NewStubError(errors.New("provider down")))

	f.deliver(t, mail.New("human", "orchestrator", "hi", nil))

	assert.Empty(t, readAll(t, f.client, f.runner.Identity()))
	out := readAll(t, f.client, profile.HumanRecipient)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Envelope.Message, "error: model invocation failed")
}

func TestEntriesProcessedInOrder(t *testing.T) {
	stub := model.NewStub(model.TextResponse("r1"), model.TextResponse("r2"), model.TextResponse("r3"))
	f := newFixture(t, profile.NameOrchestrator, stub)

	ctx := context.Background()
	for _, msg := range []string{"m1", "m2", "m3"} {
		_, err := f.client.Publish(ctx, f.runner.Identity(), mail.New("human", "orchestrator", msg, nil))
		require.NoError(t, err)
	}
	f.runner.pollOnce(ctx)

	reqs := stub.Requests()
	require.Len(t, reqs, 3)
	for i, want := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, want, reqs[i].Messages[len(reqs[i].Messages)-1].Content)
	}

	out := readAll(t, f.client, profile.HumanRecipient)
	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i-1].ID.Less(out[i].ID))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, profile.NameOrchestrator, model.NewStub())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.runner.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestResolveIdentity(t *testing.T) {
	prof, err := profile.Load(profile.NameOrchestrator)
	require.NoError(t, err)

	t.Setenv(EnvIdentity, "custom-id")
	id, err := ResolveIdentity(prof)
	require.NoError(t, err)
	assert.Equal(t, "custom-id", id)

	t.Setenv(EnvIdentity, "")
	id, err = ResolveIdentity(prof)
	require.NoError(t, err)
	assert.Equal(t, prof.DefaultIdentity, id)

	_, err = ResolveIdentity(profile.Profile{})
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestThreadIDFallsBackToSenderThenIdentity(t *testing.T) {
	f := newFixture(t, profile.NameOrchestrator, model.NewStub())

	env := mail.New("agent-3", "orchestrator", "hi", nil)
	assert.Equal(t, "agent-3", f.runner.threadIDFor(env))

	env.Sender = ""
	assert.Equal(t, f.runner.Identity(), f.runner.threadIDFor(env))

	env = mail.New("agent-3", "orchestrator", "hi", map[string]any{"session_id": "s-1"})
	assert.Equal(t, "s-1", f.runner.threadIDFor(env))
}
