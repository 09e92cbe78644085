package domain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"souschef/internal/agent/ports"
	apperrors "souschef/internal/errors"
)

func TestInvokeAllPreservesRequestOrder(t *testing.T) {
	slow := &fakeCapability{name: "slow", run: func(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
		time.Sleep(40 * time.Millisecond)
		return &ports.ToolResult{Content: "slow-" + call.ID}, nil
	}}
	fast := &fakeCapability{name: "fast", run: func(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
		return &ports.ToolResult{Content: "fast-" + call.ID}, nil
	}}
	invoker := NewToolInvoker(mapRegistry{"slow": slow, "fast": fast}, InvokerConfig{MaxConcurrent: 3}, nil, nil)

	results := invoker.InvokeAll(context.Background(), []ports.ToolCall{
		{ID: "a", Name: "slow"},
		{ID: "b", Name: "fast"},
		{ID: "c", Name: "slow"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].ToolCallID, results[1].ToolCallID, results[2].ToolCallID})
	assert.Equal(t, "slow-a", results[0].Content)
	assert.Equal(t, "fast-b", results[1].Content)
	assert.Equal(t, "slow-c", results[2].Content)
	for _, msg := range results {
		assert.Equal(t, ports.RoleTool, msg.Role)
	}
}

func TestInvokeAllUnknownToolYieldsRetryInstruction(t *testing.T) {
	invoker := NewToolInvoker(mapRegistry{}, InvokerConfig{}, nil, nil)

	results := invoker.InvokeAll(context.Background(), []ports.ToolCall{{ID: "x", Name: "recipe_retreiver"}})

	require.Len(t, results, 1)
	assert.Equal(t, BadToolNameResult, results[0].Content)
	assert.Equal(t, "x", results[0].ToolCallID)
	assert.Equal(t, "recipe_retreiver", results[0].Name)
}

func TestInvokeAllConvertsFailuresToMessages(t *testing.T) {
	registry := mapRegistry{
		"err": &fakeCapability{name: "err", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
			return nil, errors.New("boom")
		}},
		"panics": &fakeCapability{name: "panics", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
			panic("kaboom")
		}},
		"reported": &fakeCapability{name: "reported", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
			return &ports.ToolResult{Error: errors.New("page gone")}, nil
		}},
		"partial": &fakeCapability{name: "partial", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
			return &ports.ToolResult{Content: `{"title":"Soup"}`, Error: errors.New("ratings missing")}, nil
		}},
		"empty": &fakeCapability{name: "empty", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
			return nil, nil
		}},
	}
	invoker := NewToolInvoker(registry, InvokerConfig{}, nil, nil)

	results := invoker.InvokeAll(context.Background(), []ports.ToolCall{
		{ID: "1", Name: "err"},
		{ID: "2", Name: "panics"},
		{ID: "3", Name: "reported"},
		{ID: "4", Name: "partial"},
		{ID: "5", Name: "empty"},
	})

	require.Len(t, results, 5)
	assert.Equal(t, "Tool err failed: boom", results[0].Content)
	assert.Equal(t, "Tool panics failed: panic: kaboom", results[1].Content)
	assert.Equal(t, "Tool reported failed: page gone", results[2].Content)
	assert.Equal(t, `{"title":"Soup"}`, results[3].Content)
	assert.Equal(t, "Tool empty completed successfully.", results[4].Content)
}

func TestInvokeAllTimesOutCapabilitiesThatIgnoreContext(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	stuck := &fakeCapability{name: "stuck", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
		<-block
		return &ports.ToolResult{Content: "late"}, nil
	}}
	invoker := NewToolInvoker(mapRegistry{"stuck": stuck}, InvokerConfig{Timeout: 20 * time.Millisecond}, nil, nil)

	results := invoker.InvokeAll(context.Background(), []ports.ToolCall{{ID: "s", Name: "stuck"}})

	require.Len(t, results, 1)
	assert.Equal(t, "Tool stuck failed: Request timed out. Try a different recipe or a simpler query.", results[0].Content)
}

func TestInvokeAllFinishesCallsAfterCallerCancellation(t *testing.T) {
	var sawCancelled atomic.Bool
	capability := &fakeCapability{name: "tool", run: func(ctx context.Context, _ ports.ToolCall) (*ports.ToolResult, error) {
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			sawCancelled.Store(true)
		}
		return &ports.ToolResult{Content: "done"}, nil
	}}
	invoker := NewToolInvoker(mapRegistry{"tool": capability}, InvokerConfig{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := invoker.InvokeAll(ctx, []ports.ToolCall{{ID: "1", Name: "tool"}, {ID: "2", Name: "tool"}})

	require.Len(t, results, 2)
	assert.Equal(t, "done", results[0].Content)
	assert.Equal(t, "done", results[1].Content)
	assert.False(t, sawCancelled.Load())
}

func TestInvokeAllRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	capability := &fakeCapability{name: "tool", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &ports.ToolResult{Content: "ok"}, nil
	}}
	invoker := NewToolInvoker(mapRegistry{"tool": capability}, InvokerConfig{MaxConcurrent: 2}, nil, nil)

	calls := make([]ports.ToolCall, 8)
	for i := range calls {
		calls[i] = ports.ToolCall{ID: fmt.Sprint(i), Name: "tool"}
	}
	results := invoker.InvokeAll(context.Background(), calls)

	require.Len(t, results, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type recordingToolMetrics struct {
	statuses []string
}

func (r *recordingToolMetrics) RecordToolExecution(_ context.Context, name, status string, _ time.Duration) {
	r.statuses = append(r.statuses, name+"="+status)
}

func TestInvokeAllRecordsMetrics(t *testing.T) {
	metrics := &recordingToolMetrics{}
	invoker := NewToolInvoker(mapRegistry{"echo": echoCapability("echo")}, InvokerConfig{MaxConcurrent: 1}, nil, metrics)

	invoker.InvokeAll(context.Background(), []ports.ToolCall{{ID: "1", Name: "echo"}, {ID: "2", Name: "nope"}})

	assert.Equal(t, []string{"echo=ok", "nope=unknown"}, metrics.statuses)
}

func TestInvokeAllAnswersUnreadableArgumentsWithoutExecuting(t *testing.T) {
	var executed atomic.Bool
	capability := &fakeCapability{name: "recipe_scraper", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
		executed.Store(true)
		return &ports.ToolResult{Content: "scraped"}, nil
	}}
	invoker := NewToolInvoker(mapRegistry{"recipe_scraper": capability}, InvokerConfig{}, nil, nil)

	results := invoker.InvokeAll(context.Background(), []ports.ToolCall{
		{ID: "bad", Name: "recipe_scraper", Arguments: map[string]any{}, ArgumentsError: "decode repaired tool arguments: cannot unmarshal array"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "bad", results[0].ToolCallID)
	assert.Equal(t, InvalidArgumentsResult("recipe_scraper"), results[0].Content)
	assert.False(t, executed.Load())
}

func TestInvokeAllKeepsInternalErrorDetailsFromModel(t *testing.T) {
	internal := errors.New("GET http://10.0.0.7:8080/recipes/x: status 502 <html>upstream</html>")
	capability := &fakeCapability{name: "recipe_scraper", run: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
		return nil, apperrors.NewTransientError(internal, "The recipe site is unavailable. Try another recipe.")
	}}
	invoker := NewToolInvoker(mapRegistry{"recipe_scraper": capability}, InvokerConfig{}, nil, nil)

	results := invoker.InvokeAll(context.Background(), []ports.ToolCall{{ID: "x", Name: "recipe_scraper"}})

	require.Len(t, results, 1)
	assert.Equal(t, "Tool recipe_scraper failed: The recipe site is unavailable. Try another recipe.", results[0].Content)
	assert.NotContains(t, results[0].Content, "10.0.0.7")
}
