package llm

import (
	"context"
	"fmt"
	"strings"

	"souschef/internal/agent/ports"
)

// MockClient is an offline provider for local runs and demos. The first step
// of a turn asks recipe_retriever for the user's message when that tool is
// bound; once a tool result is present it answers from it.
type MockClient struct {
	model string
}

var _ ports.StreamingLLMClient = (*MockClient)(nil)

// NewMockClient returns a mock client reporting model as its name.
func NewMockClient(model string) *MockClient {
	if model == "" {
		model = "mock"
	}
	return &MockClient{model: model}
}

func (m *MockClient) Model() string {
	return m.model
}

func (m *MockClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var lastUser, lastTool string
	for _, msg := range req.Messages {
		switch msg.Role {
		case ports.RoleUser:
			lastUser = msg.Content
			lastTool = ""
		case ports.RoleTool:
			lastTool = msg.Content
		}
	}

	if lastTool == "" && hasTool(req.Tools, "recipe_retriever") && strings.TrimSpace(lastUser) != "" {
		return &ports.CompletionResponse{
			ToolCalls: []ports.ToolCall{{
				ID:        "mock-call",
				Name:      "recipe_retriever",
				Arguments: map[string]any{"query": lastUser},
			}},
			StopReason: "tool_calls",
		}, nil
	}

	content := "This is a mock response. No model was called."
	if lastTool != "" {
		content = fmt.Sprintf("Here is what I found:\n\n%s", lastTool)
	}
	return &ports.CompletionResponse{
		Content:    content,
		StopReason: "stop",
		Usage:      ports.TokenUsage{PromptTokens: len(req.Messages), CompletionTokens: len(strings.Fields(content)), TotalTokens: len(req.Messages) + len(strings.Fields(content))},
	}, nil
}

// StreamComplete delivers the mock content one word at a time.
func (m *MockClient) StreamComplete(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if callbacks.OnContentDelta != nil {
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			if word == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			callbacks.OnContentDelta(ports.ContentDelta{Delta: word})
		}
		callbacks.OnContentDelta(ports.ContentDelta{Final: true})
	}
	return resp, nil
}

func hasTool(tools []ports.ToolDefinition, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}
