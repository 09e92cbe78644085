package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"souschef/internal/agent/ports"
	apperrors "souschef/internal/errors"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) ports.StreamingLLMClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewOpenAIClient(Config{Model: "gpt-4o-mini", APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, srv.Client(), nil)
	require.NoError(t, err)
	return client
}

func sampleRequest() ports.CompletionRequest {
	return ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: "You are a chef."},
			{Role: ports.RoleUser, Content: "vegan dinner?"},
			{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "c1", Name: "recipe_retriever", Arguments: map[string]any{"query": "vegan"}}}},
			{Role: ports.RoleTool, Content: "Recipe Title: Dal", ToolCallID: "c1", Name: "recipe_retriever"},
		},
		Tools: []ports.ToolDefinition{
			{Name: "recipe_retriever", Description: "search", Parameters: ports.ParameterSchema{Type: "object"}},
			{Name: "bad name!", Description: "skipped"},
		},
		Temperature: 0.2,
		Metadata:    map[string]any{"request_id": "req-1"},
	}
}

func TestOpenAICompleteSendsToolsAndParsesToolCalls(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		fmt.Fprint(w, `{"choices":[{"message":{"content":"","tool_calls":[
			{"id":"call_a","type":"function","function":{"name":"recipe_scraper","arguments":"{\"url\":\"https://x/recipes/a\"}"}},
			{"id":"call_b","type":"function","function":{"name":"recipe_retriever","arguments":"{'query': 'soup',}"}}
		]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	})

	resp, err := client.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	captured := <-bodies

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	assert.Equal(t, "auto", captured["tool_choice"])
	assert.Equal(t, false, captured["stream"])
	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	messages := captured["messages"].([]any)
	require.Len(t, messages, 4)
	assistant := messages[2].(map[string]any)
	call := assistant["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, `{"query":"vegan"}`, call["function"].(map[string]any)["arguments"])
	assert.Equal(t, "c1", messages[3].(map[string]any)["tool_call_id"])

	assert.Equal(t, "tool_calls", resp.StopReason)
	assert.Equal(t, ports.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, resp.Usage)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, ports.ToolCall{ID: "call_a", Name: "recipe_scraper", Arguments: map[string]any{"url": "https://x/recipes/a"}}, resp.ToolCalls[0])
	assert.Equal(t, map[string]any{"query": "soup"}, resp.ToolCalls[1].Arguments)
}

func TestOpenAICompleteKeepsToolCallsWithUnreadableArguments(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"","tool_calls":[
			{"id":"call_a","type":"function","function":{"name":"recipe_retriever","arguments":"[1,2]"}}
		]},"finish_reason":"tool_calls"}]}`)
	})

	resp, err := client.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	call := resp.ToolCalls[0]
	assert.Equal(t, "call_a", call.ID)
	assert.Equal(t, "recipe_retriever", call.Name)
	assert.Empty(t, call.Arguments)
	assert.NotEmpty(t, call.ArgumentsError)
}

func TestOpenAICompleteClassifiesHTTPErrors(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"nope"}}`, tc.status)
			})
			_, err := client.Complete(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.Equal(t, tc.transient, apperrors.IsTransient(err))
			assert.Equal(t, !tc.transient, apperrors.IsPermanent(err))
			assert.Contains(t, err.Error(), fmt.Sprintf("status %d", tc.status))
		})
	}
}

func TestOpenAICompleteEmptyChoicesIsTransient(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	_, err := client.Complete(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func sseChunk(w http.ResponseWriter, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestOpenAIStreamCompleteForwardsDeltasInOrder(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		w.Header().Set("Content-Type", "text/event-stream")
		sseChunk(w, `{"choices":[{"delta":{"content":"Try "}}]}`)
		sseChunk(w, `{"choices":[{"delta":{"content":"the dal."}}]}`)
		sseChunk(w, `not json`)
		sseChunk(w, `{"choices":[{"delta":{},"finish_reason":"stop"}]}`)
		sseChunk(w, `{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
		sseChunk(w, `[DONE]`)
	})

	var deltas []string
	finals := 0
	resp, err := client.StreamComplete(context.Background(), sampleRequest(), ports.CompletionStreamCallbacks{
		OnContentDelta: func(d ports.ContentDelta) {
			if d.Final {
				finals++
				return
			}
			deltas = append(deltas, d.Delta)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Try ", "the dal."}, deltas)
	assert.Equal(t, 1, finals)
	assert.Equal(t, "Try the dal.", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestOpenAIStreamCompleteAssemblesToolCallFragments(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		sseChunk(w, `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"recipe_retriever","arguments":"{\"que"}}]}}]}`)
		sseChunk(w, `{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"recipe_scraper","arguments":"{\"url\":"}}]}}]}`)
		sseChunk(w, `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ry\":\"curry\"}"}}]}}]}`)
		sseChunk(w, `{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"\"https://x/recipes/c\""}}]},"finish_reason":"tool_calls"}]}`)
		sseChunk(w, `[DONE]`)
	})

	resp, err := client.StreamComplete(context.Background(), sampleRequest(), ports.CompletionStreamCallbacks{})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"query": "curry"}, resp.ToolCalls[0].Arguments)
	// The second call's object was never closed; repair recovers it.
	assert.Equal(t, map[string]any{"url": "https://x/recipes/c"}, resp.ToolCalls[1].Arguments)
}

func TestOpenAIStreamCompleteStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		sseChunk(w, `{"choices":[{"delta":{"content":"partial"}}]}`)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	_, err := client.StreamComplete(ctx, sampleRequest(), ports.CompletionStreamCallbacks{
		OnContentDelta: func(d ports.ContentDelta) {
			if !d.Final {
				got = append(got, d.Delta)
				cancel()
			}
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"partial"}, got)
}

func TestNewOpenAIClientRequiresModel(t *testing.T) {
	_, err := NewOpenAIClient(Config{}, nil, nil)
	require.Error(t, err)
}

func TestBuildRequestOmitsUnsetSampling(t *testing.T) {
	c := &openaiClient{model: "m"}
	body := c.buildRequest(ports.CompletionRequest{Messages: []ports.Message{{Role: ports.RoleUser, Content: "hi"}}}, false)
	assert.NotContains(t, body, "temperature")
	assert.NotContains(t, body, "max_tokens")
	assert.NotContains(t, body, "tools")
	assert.NotContains(t, body, "stream_options")
	assert.True(t, strings.HasPrefix(marshalForLog(body), "{"))
}
