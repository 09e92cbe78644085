package llm

import (
	"context"
	"fmt"
	"time"

	"souschef/internal/agent/ports"
	apperrors "souschef/internal/errors"
	"souschef/internal/logging"
)

// retryClient wraps an LLM client with retry logic and a circuit breaker.
type retryClient struct {
	underlying     ports.LLMClient
	retryConfig    apperrors.RetryConfig
	circuitBreaker *apperrors.CircuitBreaker
	logger         logging.Logger
}

var _ ports.StreamingLLMClient = (*retryClient)(nil)

// NewRetryClient wraps client with retry and circuit breaker logic. The
// result always streams; clients without native streaming deliver their
// whole content as one delta.
func NewRetryClient(client ports.LLMClient, retryConfig apperrors.RetryConfig, circuitBreaker *apperrors.CircuitBreaker, logger logging.Logger) ports.StreamingLLMClient {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.OrNop(logger),
	}
}

func (c *retryClient) Model() string {
	return c.underlying.Model()
}

func (c *retryClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	startTime := time.Now()
	resp, err := apperrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return apperrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
			return c.underlying.Complete(ctx, req)
		})
	}, c.logger)
	if err != nil {
		c.logger.Warn("LLM request failed after retries (took %v): %v", time.Since(startTime), err)
		return nil, c.wrap(err)
	}
	return resp, nil
}

// StreamComplete is not retried: a stream that fails midway has already
// delivered deltas, and replaying them would duplicate output.
func (c *retryClient) StreamComplete(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	streaming, ok := c.underlying.(ports.StreamingLLMClient)
	if !ok {
		resp, err := c.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if callbacks.OnContentDelta != nil {
			if resp.Content != "" {
				callbacks.OnContentDelta(ports.ContentDelta{Delta: resp.Content})
			}
			callbacks.OnContentDelta(ports.ContentDelta{Final: true})
		}
		return resp, nil
	}

	startTime := time.Now()
	resp, err := apperrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return streaming.StreamComplete(ctx, req, callbacks)
	})
	if err != nil {
		c.logger.Warn("LLM streaming request failed after %v: %v", time.Since(startTime), err)
		return nil, c.wrap(err)
	}
	return resp, nil
}

// wrap keeps the cause inspectable while giving a readable message.
func (c *retryClient) wrap(err error) error {
	if apperrors.IsDegraded(err) {
		return err
	}
	return fmt.Errorf("%s: %w", c.underlying.Model(), err)
}
