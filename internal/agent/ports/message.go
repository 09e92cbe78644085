package ports

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation. Messages are never edited once
// appended to a ConversationState.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, call := range m.ToolCalls {
			out.ToolCalls[i] = call.Clone()
		}
	}
	return out
}

// ConversationState is the ordered history of one thread.
type ConversationState struct {
	ThreadID  string    `json:"thread_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState returns an empty state for threadID.
func NewConversationState(threadID string) *ConversationState {
	return &ConversationState{ThreadID: threadID, Messages: []Message{}}
}

// Clone returns a deep copy so callers never share message storage.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, msg := range s.Messages {
		out.Messages[i] = msg.Clone()
	}
	return &out
}

// Append adds messages to the end of the history.
func (s *ConversationState) Append(msgs ...Message) {
	for _, msg := range msgs {
		s.Messages = append(s.Messages, msg.Clone())
	}
}

// LastAssistantContent returns the content of the most recent assistant
// message with non-empty text.
func (s *ConversationState) LastAssistantContent() string {
	return s.LastAssistantContentSince(0)
}

// LastAssistantContentSince is LastAssistantContent restricted to
// Messages[start:].
func (s *ConversationState) LastAssistantContentSince(start int) string {
	start = max(start, 0)
	for i := len(s.Messages) - 1; i >= start; i-- {
		msg := s.Messages[i]
		if msg.Role == RoleAssistant && msg.Content != "" {
			return msg.Content
		}
	}
	return ""
}
