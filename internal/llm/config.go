package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"souschef/internal/agent/ports"
	apperrors "souschef/internal/errors"
	"souschef/internal/logging"
)

// Provider names accepted by NewClient.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// Config describes one chat-completion endpoint.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Headers    map[string]string
}

// NewClient builds the client for cfg.Provider. Real providers are wrapped
// with retries and a circuit breaker; the mock is returned as is.
func NewClient(cfg Config, httpClient *http.Client, logger logging.Logger) (ports.LLMClient, error) {
	logger = logging.OrNop(logger)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderMock:
		return NewMockClient(cfg.Model), nil
	case "", ProviderOpenAI:
		client, err := NewOpenAIClient(cfg, httpClient, logger)
		if err != nil {
			return nil, err
		}
		retry := apperrors.DefaultRetryConfig()
		if cfg.MaxRetries >= 0 {
			retry.MaxAttempts = cfg.MaxRetries
		}
		breaker := apperrors.NewCircuitBreaker("llm-"+client.Model(), apperrors.DefaultCircuitBreakerConfig(), logger)
		return NewRetryClient(client, retry, breaker, logger), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
