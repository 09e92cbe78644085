package ports

import "context"

// LLMClient represents any chat-completion provider.
type LLMClient interface {
	// Complete sends messages and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier.
	Model() string
}

// StreamingLLMClient can additionally forward content deltas while the
// response is being generated.
type StreamingLLMClient interface {
	LLMClient

	// StreamComplete behaves like Complete but invokes callbacks for each
	// content delta. The returned response carries the aggregated content and
	// any tool calls, which are only known once the stream has ended.
	StreamComplete(ctx context.Context, req CompletionRequest, callbacks CompletionStreamCallbacks) (*CompletionResponse, error)
}

// CompletionRequest contains all parameters for one completion.
type CompletionRequest struct {
	Messages      []Message        `json:"messages"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	Temperature   float64          `json:"temperature,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	StopSequences []string         `json:"stop,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ContentDelta is one streamed fragment. Final marks the end of the stream.
type ContentDelta struct {
	Delta string
	Final bool
}

// CompletionStreamCallbacks receives streaming events.
type CompletionStreamCallbacks struct {
	OnContentDelta func(ContentDelta)
}
