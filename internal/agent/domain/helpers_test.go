package domain

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"souschef/internal/agent/ports"
)

// scriptedLLM replays canned responses, one per Complete call.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*ports.CompletionResponse
	errs      []error
	requests  []ports.CompletionRequest
}

func (s *scriptedLLM) Model() string { return "scripted" }

func (s *scriptedLLM) Complete(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.responses) {
		return nil, errors.New("script exhausted")
	}
	return s.responses[idx], nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// streamingLLM splits each scripted response's content into word deltas.
type streamingLLM struct {
	scriptedLLM
	beforeDelta func(i int)
}

func (s *streamingLLM) StreamComplete(ctx context.Context, req ports.CompletionRequest, cb ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	resp, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	for i, word := range strings.SplitAfter(resp.Content, " ") {
		if s.beforeDelta != nil {
			s.beforeDelta(i)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cb.OnContentDelta(ports.ContentDelta{Delta: word})
	}
	cb.OnContentDelta(ports.ContentDelta{Final: true})
	return resp, nil
}

type fakeCapability struct {
	name string
	run  func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error)
}

func (f *fakeCapability) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        f.name,
		Description: "fake " + f.name,
		Parameters:  ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (f *fakeCapability) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	return f.run(ctx, call)
}

type mapRegistry map[string]ports.Capability

func (m mapRegistry) Get(name string) (ports.Capability, bool) {
	c, ok := m[name]
	return c, ok
}

func (m mapRegistry) Definitions() []ports.ToolDefinition {
	defs := make([]ports.ToolDefinition, 0, len(m))
	for _, c := range m {
		defs = append(defs, c.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func echoCapability(name string) *fakeCapability {
	return &fakeCapability{name: name, run: func(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
		return &ports.ToolResult{CallID: call.ID, Content: name + ":" + call.ArgumentsJSON()}, nil
	}}
}

func newTestOrchestrator(llm ports.LLMClient, registry ports.CapabilityRegistry, maxIterations int) *Orchestrator {
	invoker := NewToolInvoker(registry, InvokerConfig{MaxConcurrent: 4}, nil, nil)
	return NewOrchestrator(llm, registry, invoker, Config{MaxIterations: maxIterations})
}

func toolCallResponse(calls ...ports.ToolCall) *ports.CompletionResponse {
	return &ports.CompletionResponse{ToolCalls: calls, StopReason: "tool_calls"}
}

func answer(content string) *ports.CompletionResponse {
	return &ports.CompletionResponse{Content: content, StopReason: "stop"}
}
