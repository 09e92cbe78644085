package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"souschef/internal/agent/ports"
)

func TestParseToolArguments(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want map[string]any
	}{
		"valid":          {`{"query":"vegan"}`, map[string]any{"query": "vegan"}},
		"empty":          {"  ", map[string]any{}},
		"null":           {"null", map[string]any{}},
		"trailing comma": {`{"query":"vegan",}`, map[string]any{"query": "vegan"}},
		"single quotes":  {`{'url': 'https://x/recipes/a'}`, map[string]any{"url": "https://x/recipes/a"}},
		"unterminated":   {`{"query":"curry"`, map[string]any{"query": "curry"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := parseToolArguments(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseToolArgumentsRejectsNonObjects(t *testing.T) {
	_, err := parseToolArguments(`["a","b"]`)
	require.Error(t, err)
}

func TestConvertToolsSkipsInvalidNames(t *testing.T) {
	tools := convertTools([]ports.ToolDefinition{
		{Name: "recipe_scraper"},
		{Name: "9lives"},
		{Name: "has space"},
	})
	require.Len(t, tools, 1)
	assert.Equal(t, "recipe_scraper", tools[0]["function"].(map[string]any)["name"])
}

func TestMockClientCallsRetrieverThenAnswers(t *testing.T) {
	mock := NewMockClient("")
	tools := []ports.ToolDefinition{{Name: "recipe_retriever"}}
	ctx := context.Background()

	first, err := mock.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: "quick pasta"}},
		Tools:    tools,
	})
	require.NoError(t, err)
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, map[string]any{"query": "quick pasta"}, first.ToolCalls[0].Arguments)

	var streamed strings.Builder
	second, err := mock.StreamComplete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleUser, Content: "quick pasta"},
			{Role: ports.RoleAssistant, ToolCalls: first.ToolCalls},
			{Role: ports.RoleTool, Content: "Recipe Title: Carbonara", ToolCallID: "mock-call"},
		},
		Tools: tools,
	}, ports.CompletionStreamCallbacks{OnContentDelta: func(d ports.ContentDelta) { streamed.WriteString(d.Delta) }})
	require.NoError(t, err)
	assert.Empty(t, second.ToolCalls)
	assert.Contains(t, second.Content, "Recipe Title: Carbonara")
	assert.Equal(t, second.Content, streamed.String())
	assert.Equal(t, "mock", mock.Model())
}

func TestMockClientAnswersWithoutTools(t *testing.T) {
	resp, err := NewMockClient("m").Complete(context.Background(), ports.CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
	assert.NotEmpty(t, resp.Content)
}

func TestNewClientSelectsProvider(t *testing.T) {
	mock, err := NewClient(Config{Provider: "MOCK", Model: "demo"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, mock)

	openai, err := NewClient(Config{Provider: "openai", Model: "gpt-4o-mini", MaxRetries: 1}, nil, nil)
	require.NoError(t, err)
	_, streams := openai.(ports.StreamingLLMClient)
	assert.True(t, streams)
	assert.Equal(t, "gpt-4o-mini", openai.Model())

	_, err = NewClient(Config{Provider: "carrier-pigeon", Model: "x"}, nil, nil)
	require.Error(t, err)
	_, err = NewClient(Config{Provider: "openai"}, nil, nil)
	require.Error(t, err)
}
