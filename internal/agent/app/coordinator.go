// Package app runs conversation turns against stored threads.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"souschef/internal/agent/domain"
	"souschef/internal/agent/ports"
	"souschef/internal/logging"
	"souschef/internal/observability"
	id "souschef/internal/utils/id"
)

// ErrThreadIDRequired is returned when a call omits the thread id.
var ErrThreadIDRequired = errors.New("thread id is required")

// ErrEmptyMessage is returned for blank user input.
var ErrEmptyMessage = errors.New("message is empty")

const defaultSaveTimeout = 10 * time.Second

// TurnRunner runs one user turn over a conversation state.
type TurnRunner interface {
	RunTurn(ctx context.Context, state *ports.ConversationState, userInput string, sink domain.DeltaSink) (*domain.TurnResult, error)
}

// TurnMetrics records finished turns.
type TurnMetrics interface {
	RecordTurn(ctx context.Context, outcome string)
}

// Reply is the outcome of one turn.
type Reply struct {
	ThreadID   string
	Answer     string
	StopReason domain.StopReason
	Usage      ports.TokenUsage
}

// Coordinator loads a thread, runs a turn and saves the thread again. Turns
// of the same thread are serialized; different threads run concurrently.
type Coordinator struct {
	runner      TurnRunner
	store       ports.CheckpointStore
	locks       *threadLocks
	logger      logging.Logger
	metrics     TurnMetrics
	saveTimeout time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(logger) }
}

// WithMetrics sets the turn metrics sink.
func WithMetrics(metrics TurnMetrics) Option {
	return func(c *Coordinator) { c.metrics = metrics }
}

// WithSaveTimeout bounds the checkpoint save that follows every turn.
func WithSaveTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.saveTimeout = timeout
		}
	}
}

// NewCoordinator wires a runner to a checkpoint store.
func NewCoordinator(runner TurnRunner, store ports.CheckpointStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		runner:      runner,
		store:       store,
		locks:       newThreadLocks(),
		logger:      logging.Nop(),
		saveTimeout: defaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage runs one turn and returns the final answer.
func (c *Coordinator) SendMessage(ctx context.Context, threadID, content string) (*Reply, error) {
	return c.run(ctx, threadID, content, nil)
}

// StreamMessage runs one turn, forwarding answer fragments to sink as they
// arrive. Forwarding stops as soon as ctx is cancelled.
func (c *Coordinator) StreamMessage(ctx context.Context, threadID, content string, sink domain.DeltaSink) (*Reply, error) {
	if sink == nil {
		sink = func(string) {}
	}
	return c.run(ctx, threadID, content, sink)
}

// History returns a copy of the stored thread.
func (c *Coordinator) History(ctx context.Context, threadID string) (*ports.ConversationState, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	release, err := c.locks.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.store.Load(ctx, threadID)
}

// DeleteThread forgets a thread. Deleting an unknown thread is not an error.
func (c *Coordinator) DeleteThread(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ErrThreadIDRequired
	}
	release, err := c.locks.acquire(ctx, threadID)
	if err != nil {
		return err
	}
	defer release()
	return c.store.Delete(ctx, threadID)
}

func (c *Coordinator) run(ctx context.Context, threadID, content string, sink domain.DeltaSink) (*Reply, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	ctx = observability.ContextWithThreadID(ctx, threadID)
	if observability.RequestIDFromContext(ctx) == "" {
		ctx = observability.ContextWithRequestID(ctx, id.NewRequestID())
	}

	release, err := c.locks.acquire(ctx, threadID)
	if err != nil {
		c.recordTurn(ctx, string(domain.StopCancelled))
		return nil, fmt.Errorf("%w: %w", domain.ErrTurnCancelled, err)
	}
	defer release()

	state, err := c.store.Load(ctx, threadID)
	if err != nil {
		c.recordTurn(ctx, "error")
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	started := time.Now()
	result, turnErr := c.runner.RunTurn(ctx, state, content, sink)

	// The state is saved whatever the outcome so that dispatched tool calls
	// and their results are never lost, even when the caller has gone away.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.saveTimeout)
	defer cancel()
	if err := c.store.Save(saveCtx, state); err != nil {
		c.logger.Error("[thread:%s] Failed to save thread: %v", threadID, err)
		if turnErr == nil {
			turnErr = fmt.Errorf("save thread %s: %w", threadID, err)
		}
	}

	reply := &Reply{ThreadID: threadID}
	if result != nil {
		reply.Answer = result.Answer
		reply.StopReason = result.StopReason
		reply.Usage = result.Usage
	}
	outcome := string(reply.StopReason)
	if outcome == "" {
		outcome = "error"
	}
	c.recordTurn(ctx, outcome)

	if turnErr != nil {
		c.logger.Warn("[thread:%s] Turn ended after %v (%s): %v", threadID, time.Since(started), outcome, turnErr)
		return reply, turnErr
	}
	c.logger.Info("[thread:%s] Turn answered in %v (%d tokens)", threadID, time.Since(started), reply.Usage.TotalTokens)
	return reply, nil
}

func (c *Coordinator) recordTurn(ctx context.Context, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordTurn(ctx, outcome)
	}
}
