// Package checkpoint persists conversation state keyed by thread id.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"souschef/internal/agent/ports"
)

// ErrThreadIDRequired is returned for operations without a thread id.
var ErrThreadIDRequired = errors.New("thread id is required")

// MemoryStore keeps checkpoints in process memory. States are deep-copied on
// the way in and out so no two threads or callers share message storage.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*ports.ConversationState
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*ports.ConversationState), now: time.Now}
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) (*ports.ConversationState, error) {
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.threads[threadID]; ok {
		return state.Clone(), nil
	}
	return ports.NewConversationState(threadID), nil
}

func (s *MemoryStore) Save(ctx context.Context, state *ports.ConversationState) error {
	if state == nil || state.ThreadID == "" {
		return ErrThreadIDRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := state.Clone()
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[stored.ThreadID] = stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	if threadID == "" {
		return ErrThreadIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}
