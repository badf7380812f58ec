package graph

import (
	"context"

	"github.com/quadracode/quadracode/runtime/chat"
)

// Checkpointer persists the per-thread message list. Put must be atomic per
// thread with respect to concurrent Get/Put calls for the same thread id; the
// graph additionally serializes same-thread invocations, so implementations
// only need per-call consistency, not cross-call transactions. The core never
// deletes checkpoints; Delete exists for operators and collaborators.
type Checkpointer interface {
	// Get returns the persisted message list for the thread. found is false
	// for threads that have never been persisted.
	Get(ctx context.Context, threadID string) (turns []chat.Turn, found bool, err error)

	// Put persists the full message list for the thread, replacing any
	// prior state.
	Put(ctx context.Context, threadID string, turns []chat.Turn) error

	// Delete removes the thread's state. Deleting an unknown thread is a
	// no-op.
	Delete(ctx context.Context, threadID string) error
}
