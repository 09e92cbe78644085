package domain

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"souschef/internal/agent/ports"
	apperrors "souschef/internal/errors"
	"souschef/internal/logging"
	tokenutil "souschef/internal/shared/token"
)

// BadToolNameResult is the tool message content for a call naming a
// capability that is not registered. The model is expected to retry.
const BadToolNameResult = "bad tool name, retry"

// InvalidArgumentsResult formats the tool message for a call whose arguments
// were not a readable JSON object.
func InvalidArgumentsResult(toolName string) string {
	return fmt.Sprintf("Invalid arguments for %s: send them as a JSON object matching the tool parameters and retry.", toolName)
}

// ToolMetrics receives one sample per capability invocation.
type ToolMetrics interface {
	RecordToolExecution(ctx context.Context, toolName, status string, duration time.Duration)
}

// InvokerConfig bounds tool dispatch.
type InvokerConfig struct {
	MaxConcurrent   int           // parallel calls per Invoking step
	Timeout         time.Duration // per-call deadline
	MaxResultTokens int           // 0 keeps results whole
}

// DefaultInvokerConfig returns the dispatch limits used when none are set.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{MaxConcurrent: 4, Timeout: 30 * time.Second}
}

// ToolInvoker executes the tool calls of one assistant message and turns
// every outcome into a tool-role message.
type ToolInvoker struct {
	registry ports.CapabilityRegistry
	config   InvokerConfig
	logger   ports.Logger
	metrics  ToolMetrics
	tracer   trace.Tracer
}

// NewToolInvoker builds an invoker over registry. logger and metrics may be nil.
func NewToolInvoker(registry ports.CapabilityRegistry, config InvokerConfig, logger ports.Logger, metrics ToolMetrics) *ToolInvoker {
	defaults := DefaultInvokerConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &ToolInvoker{
		registry: registry,
		config:   config,
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		tracer:   otel.Tracer("souschef/agent"),
	}
}

// InvokeAll runs calls concurrently and returns one tool message per call, in
// the order of calls. Calls run on a context detached from ctx's
// cancellation so that every dispatched call completes and pairs with its
// request; each call is still bounded by the configured timeout.
func (i *ToolInvoker) InvokeAll(ctx context.Context, calls []ports.ToolCall) []ports.Message {
	results := make([]ports.Message, len(calls))
	if len(calls) == 0 {
		return results
	}

	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(i.config.MaxConcurrent)
	for idx, call := range calls {
		g.Go(func() error {
			results[idx] = i.invoke(base, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (i *ToolInvoker) invoke(ctx context.Context, call ports.ToolCall) ports.Message {
	msg := ports.Message{Role: ports.RoleTool, ToolCallID: call.ID, Name: call.Name}

	capability, ok := i.registry.Get(call.Name)
	if !ok {
		i.logger.Warn("Unknown tool %q requested (call %s)", call.Name, call.ID)
		i.record(ctx, call.Name, "unknown", 0)
		msg.Content = BadToolNameResult
		return msg
	}

	if call.ArgumentsError != "" {
		i.logger.Warn("Tool %s called with unreadable arguments (call %s): %s", call.Name, call.ID, call.ArgumentsError)
		i.record(ctx, call.Name, "invalid_arguments", 0)
		msg.Content = InvalidArgumentsResult(call.Name)
		return msg
	}

	ctx, span := i.tracer.Start(ctx, "souschef.tool.execute",
		trace.WithAttributes(attribute.String("souschef.tool_name", call.Name)))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, i.config.Timeout)
	defer cancel()

	started := time.Now()
	result, err := i.execute(callCtx, capability, call)
	elapsed := time.Since(started)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.Warn("Tool %s failed after %s: %v", call.Name, elapsed, err)
		i.record(ctx, call.Name, "error", elapsed)
		msg.Content = fmt.Sprintf("Tool %s failed: %s", call.Name, apperrors.FormatForLLM(err))
	case result.Error != nil && result.Content == "":
		i.logger.Warn("Tool %s reported error: %v", call.Name, result.Error)
		i.record(ctx, call.Name, "error", elapsed)
		msg.Content = fmt.Sprintf("Tool %s failed: %s", call.Name, apperrors.FormatForLLM(result.Error))
	default:
		status := "ok"
		if result.Error != nil {
			status = "partial"
		}
		i.logger.Debug("Tool %s finished in %s (%d bytes)", call.Name, elapsed, len(result.Content))
		i.record(ctx, call.Name, status, elapsed)
		msg.Content = result.Content
		if msg.Content == "" {
			msg.Content = fmt.Sprintf("Tool %s completed successfully.", call.Name)
		}
	}

	msg.Content = tokenutil.TruncateToTokens(msg.Content, i.config.MaxResultTokens)
	return msg
}

// execute runs the capability on its own goroutine so a capability that
// ignores its context still cannot hold the turn past the deadline. Panics
// are converted to errors.
func (i *ToolInvoker) execute(ctx context.Context, capability ports.Capability, call ports.ToolCall) (*ports.ToolResult, error) {
	type outcome struct {
		result *ports.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("Tool %s panicked: %v\n%s", call.Name, r, debug.Stack())
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := capability.Execute(ctx, call.Clone())
		if err == nil && result == nil {
			result = &ports.ToolResult{CallID: call.ID}
		}
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (i *ToolInvoker) record(ctx context.Context, name, status string, elapsed time.Duration) {
	if i.metrics != nil {
		i.metrics.RecordToolExecution(ctx, name, status, elapsed)
	}
}
