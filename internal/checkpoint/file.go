package checkpoint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"souschef/internal/agent/ports"
	"souschef/internal/infra/filestore"
	"souschef/internal/logging"
)

// FileStore keeps one JSON document per thread under a directory. File names
// are the base64url encoding of the thread id so arbitrary ids cannot escape
// the directory.
type FileStore struct {
	dir    string
	logger logging.Logger
	now    func() time.Time
}

// NewFileStore creates dir if needed. A leading ~ is expanded.
func NewFileStore(dir string, logger logging.Logger) (*FileStore, error) {
	resolved := filestore.ResolvePath(dir, "~/.souschef/threads")
	if err := filestore.EnsureDir(resolved); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: resolved, logger: logging.OrNop(logger), now: time.Now}, nil
}

func (s *FileStore) path(threadID string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(threadID))+".json")
}

func (s *FileStore) Load(ctx context.Context, threadID string) (*ports.ConversationState, error) {
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := filestore.ReadFileOrEmpty(s.path(threadID))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", threadID, err)
	}
	if data == nil {
		return ports.NewConversationState(threadID), nil
	}
	var state ports.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Error("Failed to decode checkpoint for thread %s: %v", threadID, err)
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	if state.ThreadID != threadID {
		return nil, fmt.Errorf("checkpoint %s belongs to thread %q", threadID, state.ThreadID)
	}
	if state.Messages == nil {
		state.Messages = []ports.Message{}
	}
	return &state, nil
}

func (s *FileStore) Save(ctx context.Context, state *ports.ConversationState) error {
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

	data, err := filestore.MarshalJSONIndent(stored)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", state.ThreadID, err)
	}
	if err := filestore.AtomicWrite(s.path(state.ThreadID), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", state.ThreadID, err)
	}
	s.logger.Debug("Saved thread %s (%d messages)", state.ThreadID, len(stored.Messages))
	return nil
}

func (s *FileStore) Delete(_ context.Context, threadID string) error {
	if threadID == "" {
		return ErrThreadIDRequired
	}
	err := os.Remove(s.path(threadID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}
