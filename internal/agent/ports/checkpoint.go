package ports

import "context"

// CheckpointStore persists conversation state keyed by thread id.
type CheckpointStore interface {
	// Load returns the saved state, or an empty state when the thread has
	// never been saved.
	Load(ctx context.Context, threadID string) (*ConversationState, error)
	// Save replaces the stored state for state.ThreadID.
	Save(ctx context.Context, state *ConversationState) error
	// Delete removes a thread. Missing threads are not an error.
	Delete(ctx context.Context, threadID string) error
}
