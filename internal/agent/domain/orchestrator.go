package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"souschef/internal/agent/ports"
	"souschef/internal/logging"
	tokenutil "souschef/internal/shared/token"
	id "souschef/internal/utils/id"
)

// State is a step of the per-turn state machine.
type State int

const (
	StateDeciding State = iota
	StateInvoking
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDeciding:
		return "deciding"
	case StateInvoking:
		return "invoking"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StopReason records why a turn terminated.
type StopReason string

const (
	StopAnswered     StopReason = "answered"
	StopIterationCap StopReason = "iteration_cap"
	StopModelFailure StopReason = "model_failure"
	StopCancelled    StopReason = "cancelled"
)

// LLMMetrics receives one sample per completion call.
type LLMMetrics interface {
	RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration, inputTokens, outputTokens int)
}

// Config tunes the orchestrator.
type Config struct {
	MaxIterations int
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 8,
		SystemPrompt:  DefaultSystemPrompt,
		Temperature:   0,
	}
}

// TurnResult summarises one completed (or aborted) turn.
type TurnResult struct {
	Answer        string
	StopReason    StopReason
	DecidingSteps int
	InvokingSteps int
	Usage         ports.TokenUsage
}

// DeltaSink receives streamed answer fragments in arrival order.
type DeltaSink func(delta string)

// Orchestrator drives one conversation turn through Deciding and Invoking
// steps until the model answers without requesting tools.
type Orchestrator struct {
	llm      ports.LLMClient
	registry ports.CapabilityRegistry
	invoker  *ToolInvoker
	config   Config
	logger   ports.Logger
	metrics  LLMMetrics
	tracer   trace.Tracer
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger ports.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(logger) }
}

// WithLLMMetrics records completion latency and token usage.
func WithLLMMetrics(metrics LLMMetrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// NewOrchestrator wires the language model, the capability registry and the
// invoker that executes capabilities from that registry.
func NewOrchestrator(llm ports.LLMClient, registry ports.CapabilityRegistry, invoker *ToolInvoker, config Config, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaults.SystemPrompt
	}
	o := &Orchestrator{
		llm:      llm,
		registry: registry,
		invoker:  invoker,
		config:   config,
		logger:   logging.Nop(),
		tracer:   otel.Tracer("souschef/agent"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTurn appends userInput to state and runs the state machine to
// termination. Every message the turn produces is appended to state, so the
// caller can persist it whatever the outcome. When sink is non-nil and the
// model client supports streaming, answer fragments are forwarded to sink as
// they arrive; forwarding stops as soon as ctx is done.
//
// Errors: a *LanguageModelError (matches ErrLanguageModel) leaves state as it
// was after the last complete step; ErrIterationCapExceeded comes with a
// fallback answer already appended; ErrTurnCancelled is returned when ctx
// ends, after any dispatched tool calls have been paired with results.
func (o *Orchestrator) RunTurn(ctx context.Context, state *ports.ConversationState, userInput string, sink DeltaSink) (*TurnResult, error) {
	if state == nil || state.ThreadID == "" {
		return nil, errors.New("conversation state with a thread id is required")
	}

	ctx, span := o.tracer.Start(ctx, "souschef.turn",
		trace.WithAttributes(attribute.String("souschef.thread_id", state.ThreadID)))
	defer span.End()

	turnStart := len(state.Messages)
	state.Append(ports.Message{Role: ports.RoleUser, Content: userInput})
	result := &TurnResult{}
	current := StateDeciding

	for current != StateTerminated {
		switch current {
		case StateDeciding:
			// An Invoking step always runs to completion once its tool
			// calls are appended, so cancellation is only observed here.
			if err := ctx.Err(); err != nil {
				result.StopReason = StopCancelled
				return result, o.fail(span, fmt.Errorf("%w: %w", ErrTurnCancelled, err))
			}
			if result.DecidingSteps >= o.config.MaxIterations {
				answer := state.LastAssistantContentSince(turnStart)
				if answer == "" {
					answer = IterationCapFallback
				}
				state.Append(ports.Message{Role: ports.RoleAssistant, Content: answer})
				result.Answer = answer
				result.StopReason = StopIterationCap
				o.logger.Warn("[thread:%s] Iteration cap %d reached", state.ThreadID, o.config.MaxIterations)
				return result, o.fail(span, ErrIterationCapExceeded)
			}

			result.DecidingSteps++
			msg, err := o.decide(ctx, state, result, sink)
			if err != nil {
				if ctx.Err() != nil {
					result.StopReason = StopCancelled
					return result, o.fail(span, fmt.Errorf("%w: %w", ErrTurnCancelled, ctx.Err()))
				}
				result.StopReason = StopModelFailure
				return result, o.fail(span, err)
			}
			state.Append(msg)

			if len(msg.ToolCalls) == 0 {
				result.Answer = msg.Content
				result.StopReason = StopAnswered
				current = StateTerminated
				continue
			}
			current = StateInvoking

		case StateInvoking:
			last := state.Messages[len(state.Messages)-1]
			result.InvokingSteps++
			o.invokeTools(ctx, state, last.ToolCalls, result.InvokingSteps)
			current = StateDeciding
		}
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// decide runs one Deciding step and returns the assistant message to append.
func (o *Orchestrator) decide(ctx context.Context, state *ports.ConversationState, result *TurnResult, sink DeltaSink) (ports.Message, error) {
	ctx, span := o.tracer.Start(ctx, "souschef.turn.deciding",
		trace.WithAttributes(attribute.Int("souschef.iteration", result.DecidingSteps)))
	defer span.End()

	req := ports.CompletionRequest{
		Messages:    o.buildPrompt(state),
		Tools:       o.registry.Definitions(),
		Temperature: o.config.Temperature,
		MaxTokens:   o.config.MaxTokens,
		Metadata:    map[string]any{"thread_id": state.ThreadID, "request_id": id.NewRequestID()},
	}
	o.logger.Debug("[thread:%s] Deciding step %d: %d messages, ~%d tokens",
		state.ThreadID, result.DecidingSteps, len(req.Messages), estimateTokens(req.Messages))

	started := time.Now()
	resp, err := o.complete(ctx, req, sink)
	latency := time.Since(started)
	if err != nil {
		o.recordLLM(ctx, "error", latency, ports.TokenUsage{})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ports.Message{}, &LanguageModelError{Model: o.llm.Model(), Step: result.DecidingSteps, Err: err}
	}
	o.recordLLM(ctx, "ok", latency, resp.Usage)
	result.Usage.PromptTokens += resp.Usage.PromptTokens
	result.Usage.CompletionTokens += resp.Usage.CompletionTokens
	result.Usage.TotalTokens += resp.Usage.TotalTokens

	msg := ports.Message{
		Role:      ports.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: normalizeToolCalls(resp.ToolCalls),
	}
	span.SetAttributes(attribute.Int("souschef.tool_calls", len(msg.ToolCalls)))
	return msg, nil
}

func (o *Orchestrator) complete(ctx context.Context, req ports.CompletionRequest, sink DeltaSink) (*ports.CompletionResponse, error) {
	if sink == nil {
		return o.llm.Complete(ctx, req)
	}
	streaming, ok := o.llm.(ports.StreamingLLMClient)
	if !ok {
		resp, err := o.llm.Complete(ctx, req)
		if err == nil && resp.Content != "" && ctx.Err() == nil {
			sink(resp.Content)
		}
		return resp, err
	}
	return streaming.StreamComplete(ctx, req, ports.CompletionStreamCallbacks{
		OnContentDelta: func(delta ports.ContentDelta) {
			if delta.Delta == "" || ctx.Err() != nil {
				return
			}
			sink(delta.Delta)
		},
	})
}

// invokeTools runs one Invoking step. Results are appended in request order
// even when ctx is already cancelled.
func (o *Orchestrator) invokeTools(ctx context.Context, state *ports.ConversationState, calls []ports.ToolCall, step int) {
	ctx, span := o.tracer.Start(ctx, "souschef.turn.invoking",
		trace.WithAttributes(
			attribute.Int("souschef.iteration", step),
			attribute.Int("souschef.tool_calls", len(calls)),
		))
	defer span.End()

	for _, call := range calls {
		o.logger.Info("[thread:%s] Calling %s %s", state.ThreadID, call.Name, call.ArgumentsJSON())
	}
	state.Append(o.invoker.InvokeAll(ctx, calls)...)
}

func (o *Orchestrator) buildPrompt(state *ports.ConversationState) []ports.Message {
	messages := make([]ports.Message, 0, len(state.Messages)+1)
	messages = append(messages, ports.Message{Role: ports.RoleSystem, Content: o.config.SystemPrompt})
	for _, msg := range state.Messages {
		messages = append(messages, msg.Clone())
	}
	return messages
}

func (o *Orchestrator) recordLLM(ctx context.Context, status string, latency time.Duration, usage ports.TokenUsage) {
	if o.metrics != nil {
		o.metrics.RecordLLMRequest(ctx, o.llm.Model(), status, latency, usage.PromptTokens, usage.CompletionTokens)
	}
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// normalizeToolCalls gives every call a unique id so each result can be
// paired with exactly one request.
func normalizeToolCalls(calls []ports.ToolCall) []ports.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ports.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, call := range calls {
		call = call.Clone()
		if call.ID == "" || seen[call.ID] {
			call.ID = id.NewToolCallID()
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		seen[call.ID] = true
		out[i] = call
	}
	return out
}

func estimateTokens(messages []ports.Message) int {
	total := 0
	for _, msg := range messages {
		total += tokenutil.EstimateFast(msg.Content)
	}
	return total
}
