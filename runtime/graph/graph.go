// Package graph implements the per-thread reasoning state machine: a driver
// (model) node and a tools node connected by a conditional edge, with a
// bounded loop and a pluggable per-thread checkpointer. The graph owns the
// append-only message list of each thread; invocations for the same thread
// are serialized, invocations for different threads run in parallel.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quadracode/quadracode/runtime/chat"
	"github.com/quadracode/quadracode/runtime/hooks"
	"github.com/quadracode/quadracode/runtime/model"
	"github.com/quadracode/quadracode/runtime/telemetry"
	"github.com/quadracode/quadracode/runtime/tools"
)

// DefaultMaxToolCycles caps the tools-to-driver loop. Exceeding the cap
// forces termination with an error assistant turn.
const DefaultMaxToolCycles = 32

type (
	// Options configures a Graph.
	Options struct {
		// Model is the bound model client. Required.
		Model model.Client
		// Checkpointer persists per-thread state. Required.
		Checkpointer Checkpointer
		// Tools is the ambient tool set. Nil means no tools are exposed.
		Tools *tools.Registry
		// SystemPrompt is the profile's base prompt framed into every
		// driver invocation.
		SystemPrompt string
		// MaxToolCycles bounds the tools-to-driver loop. Zero selects
		// DefaultMaxToolCycles.
		MaxToolCycles int
		// Hooks are the collaborator callbacks. Zero value disables all.
		Hooks hooks.Set
		// Logger and Metrics default to no-ops when nil.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Invocation is one unit of graph work: a new user turn for a thread,
	// plus the payload-supplied history used only when the thread has no
	// checkpoint yet.
	Invocation struct {
		// ThreadID keys the checkpoint and the serialization lock.
		ThreadID string
		// User is the new inbound turn.
		User chat.Turn
		// History seeds the thread when no checkpoint exists. Ignored
		// otherwise.
		History []chat.Turn
		// Frame carries the system-prompt framing inputs.
		Frame Frame
	}

	// Graph is the driver/tools state machine. Safe for concurrent use.
	Graph struct {
		model     model.Client
		cp        Checkpointer
		tools     *tools.Registry
		prompt    string
		maxCycles int
		hooks     hooks.Set
		log       telemetry.Logger
		metrics   telemetry.Metrics

		mu      sync.Mutex
		threads map[string]*sync.Mutex
	}
)

// New builds a Graph from the given options.
func New(opts Options) (*Graph, error) {
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	if opts.Checkpointer == nil {
		return nil, errors.New("checkpointer is required")
	}
	maxCycles := opts.MaxToolCycles
	if maxCycles <= 0 {
		maxCycles = DefaultMaxToolCycles
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Graph{
		model:     opts.Model,
		cp:        opts.Checkpointer,
		tools:     opts.Tools,
		prompt:    opts.SystemPrompt,
		maxCycles: maxCycles,
		hooks:     opts.Hooks,
		log:       logger,
		metrics:   metrics,
		threads:   make(map[string]*sync.Mutex),
	}, nil
}

// Invoke runs the graph to completion for one inbound turn and returns the
// turns this invocation produced (assistant and tool turns; never history).
// Model failures and context expiry terminate the loop with an error
// assistant turn that is persisted and returned like any other output; only
// checkpointer failures surface as errors.
func (g *Graph) Invoke(ctx context.Context, inv Invocation) ([]chat.Turn, error) {
	if inv.ThreadID == "" {
		return nil, errors.New("thread id is required")
	}
	runID := uuid.NewString()
	unlock := g.lockThread(inv.ThreadID)
	defer unlock()

	prior, found, err := g.cp.Get(ctx, inv.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for thread %s: %w", inv.ThreadID, err)
	}
	var working []chat.Turn
	if found {
		working = chat.Clone(prior)
	} else {
		working = chat.Clone(inv.History)
	}
	working = append(working, inv.User)
	working = g.frameSystem(working, inv.Frame)

	if hooked, err := g.hooks.Pre(ctx, inv.ThreadID, working); err != nil {
		g.log.Warn(ctx, "pre-dispatch hook failed", "thread_id", inv.ThreadID, "run_id", runID, "error", err)
	} else if !chat.HasPrefix(hooked, working) {
		g.log.Warn(ctx, "pre-dispatch hook dropped history, rejecting rewrite", "thread_id", inv.ThreadID, "run_id", runID)
	} else {
		working = hooked
	}

	base := len(working)
	working = g.runLoop(ctx, inv.ThreadID, working)

	if hooked, err := g.hooks.Post(ctx, inv.ThreadID, working); err != nil {
		g.log.Warn(ctx, "post-dispatch hook failed", "thread_id", inv.ThreadID, "error", err)
	} else if !chat.HasPrefix(hooked, working) {
		g.log.Warn(ctx, "post-dispatch hook dropped history, rejecting rewrite", "thread_id", inv.ThreadID)
	} else {
		working = hooked
	}

	// Persist even when ctx expired mid-invocation: the error turn must
	// land in the checkpoint so the thread's history explains the outcome.
	if err := g.cp.Put(context.WithoutCancel(ctx), inv.ThreadID, working); err != nil {
		return nil, fmt.Errorf("persist checkpoint for thread %s: %w", inv.ThreadID, err)
	}
	g.log.Debug(ctx, "invocation complete",
		"thread_id", inv.ThreadID, "run_id", runID, "new_turns", len(working)-base)
	return chat.Clone(working[base:]), nil
}

// runLoop is the driver/tools cycle: driver appends an assistant turn, the
// conditional edge routes to the tools node while unresolved tool calls
// remain, and the loop ends on a plain assistant turn or the cycle cap.
func (g *Graph) runLoop(ctx context.Context, threadID string, working []chat.Turn) []chat.Turn {
	var defs []model.ToolDefinition
	if g.tools != nil {
		defs = g.tools.Definitions()
	}
	cycles := 0
	for {
		resp, err := g.model.Complete(ctx, model.Request{Messages: working, Tools: defs})
		if err != nil {
			g.log.Error(ctx, "model invocation failed", "thread_id", threadID, "error", err)
			g.countMetric("graph.model.errors", 1)
			return append(working, chat.Assistant(fmt.Sprintf("error: model invocation failed: %v", err)))
		}
		assistant := chat.Assistant(resp.Content)
		assistant.ToolCalls = resp.ToolCalls
		working = append(working, assistant)
		if len(resp.ToolCalls) == 0 {
			return working
		}

		cycles++
		if cycles > g.maxCycles {
			g.log.Error(ctx, "tool cycle cap exceeded", "thread_id", threadID, "cap", g.maxCycles)
			g.countMetric("graph.tool_cycles.capped", 1)
			return append(working, chat.Assistant(fmt.Sprintf("error: tool cycle limit of %d exceeded", g.maxCycles)))
		}
		g.countMetric("graph.tool_cycles", 1)
		working = g.runTools(ctx, resp.ToolCalls, working)
	}
}

// runTools executes the pending tool calls in order and appends one tool
// turn per call. Unknown tools and tool failures become error content; the
// loop never aborts on a tool.
func (g *Graph) runTools(ctx context.Context, calls []chat.ToolCall, working []chat.Turn) []chat.Turn {
	for _, call := range calls {
		var content string
		switch {
		case g.tools == nil:
			content = "error: unknown tool " + call.Name
		default:
			out, err := g.tools.Invoke(ctx, call.Name, call.Args)
			switch {
			case errors.Is(err, tools.ErrUnknownTool):
				content = "error: unknown tool " + call.Name
			case err != nil:
				content = "error: " + err.Error()
			default:
				content = out
			}
		}
		content = g.hooks.Tool(ctx, call, content)
		working = append(working, chat.Tool(call.Name, call.ID, content))
	}
	return working
}

// frameSystem composes the system turn and replaces a leading system turn or
// prepends one. The rest of the list passes through untouched.
func (g *Graph) frameSystem(working []chat.Turn, frame Frame) []chat.Turn {
	system := chat.System(ComposeSystem(g.prompt, frame))
	if len(working) > 0 && working[0].Role == chat.RoleSystem {
		working[0] = system
		return working
	}
	return append([]chat.Turn{system}, working...)
}

func (g *Graph) lockThread(threadID string) func() {
	g.mu.Lock()
	lock, ok := g.threads[threadID]
	if !ok {
		lock = &sync.Mutex{}
		g.threads[threadID] = lock
	}
	g.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (g *Graph) countMetric(name string, value float64, tags ...string) {
	g.metrics.IncCounter(name, value, tags...)
	g.hooks.Metric(name, value, tags...)
}
