// Package inmem provides an in-memory implementation of graph.Checkpointer
// for single-process deployments and tests. State is held in process memory
// and lost on exit; distributed deployments should use a store-backed
// implementation such as features/checkpoint/mongo. All operations
// defensively copy turn lists so callers cannot mutate persisted state.
package inmem

import (
	"context"
	"sync"

	"github.com/quadracode/quadracode/runtime/chat"
)

// Checkpointer implements graph.Checkpointer with a mutex-guarded map keyed
// by thread id. Safe for concurrent use.
type Checkpointer struct {
	mu      sync.RWMutex
	threads map[string][]chat.Turn
}

// New returns an empty in-memory checkpointer ready for use.
func New() *Checkpointer {
	return &Checkpointer{threads: make(map[string][]chat.Turn)}
}

// Get returns a copy of the persisted message list for the thread.
func (c *Checkpointer) Get(_ context.Context, threadID string) ([]chat.Turn, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	turns, ok := c.threads[threadID]
	if !ok {
		return nil, false, nil
	}
	return chat.Clone(turns), true, nil
}

// Put stores a copy of the message list for the thread, replacing any prior
// state.
func (c *Checkpointer) Put(_ context.Context, threadID string, turns []chat.Turn) error {
	cloned := chat.Clone(turns)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[threadID] = cloned
	return nil
}

// Delete removes the thread's state. Unknown threads are a no-op.
func (c *Checkpointer) Delete(_ context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.threads, threadID)
	return nil
}

// Reset clears all threads. Useful in tests.
func (c *Checkpointer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads = make(map[string][]chat.Turn)
}
