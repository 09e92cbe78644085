package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewThreadID generates a conversation thread identifier.
func NewThreadID() string {
	return newIdentifier("thread")
}

// NewRequestID generates a per-request correlation identifier.
func NewRequestID() string {
	return newIdentifier("req")
}

// NewToolCallID generates an identifier for a tool call the model left
// unnamed.
func NewToolCallID() string {
	return newIdentifier("call")
}

// newIdentifier prefers time-ordered UUIDv7 and falls back to v4.
func newIdentifier(prefix string) string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, u.String())
}
