package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// MetricsCollector records LLM, tool and turn metrics and exposes them in the
// Prometheus text format. A zero collector (metrics disabled) is valid and
// every Record call becomes a no-op.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	llmRequests     metric.Int64Counter
	llmTokensInput  metric.Int64Counter
	llmTokensOutput metric.Int64Counter
	llmLatency      metric.Float64Histogram

	toolExecutions metric.Int64Counter
	toolDuration   metric.Float64Histogram

	turns metric.Int64Counter
}

// NewMetricsCollector builds a collector backed by its own Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("souschef")

	m := &MetricsCollector{provider: provider, registry: registry}

	if m.llmRequests, err = meter.Int64Counter("souschef.llm.requests.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("create llm_requests counter: %w", err)
	}
	if m.llmTokensInput, err = meter.Int64Counter("souschef.llm.tokens.input",
		metric.WithDescription("Prompt tokens sent to the LLM"),
		metric.WithUnit("{token}")); err != nil {
		return nil, fmt.Errorf("create llm_tokens_input counter: %w", err)
	}
	if m.llmTokensOutput, err = meter.Int64Counter("souschef.llm.tokens.output",
		metric.WithDescription("Completion tokens returned by the LLM"),
		metric.WithUnit("{token}")); err != nil {
		return nil, fmt.Errorf("create llm_tokens_output counter: %w", err)
	}
	if m.llmLatency, err = meter.Float64Histogram("souschef.llm.latency",
		metric.WithDescription("LLM request latency in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create llm_latency histogram: %w", err)
	}
	if m.toolExecutions, err = meter.Int64Counter("souschef.tool.executions.total",
		metric.WithDescription("Total number of tool executions"),
		metric.WithUnit("{execution}")); err != nil {
		return nil, fmt.Errorf("create tool_executions counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("souschef.tool.duration",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create tool_duration histogram: %w", err)
	}
	if m.turns, err = meter.Int64Counter("souschef.turns.total",
		metric.WithDescription("Completed conversation turns by outcome"),
		metric.WithUnit("{turn}")); err != nil {
		return nil, fmt.Errorf("create turns counter: %w", err)
	}

	return m, nil
}

// Handler serves the collected metrics. Disabled collectors answer 404.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordLLMRequest records one completion call.
func (m *MetricsCollector) RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration, inputTokens, outputTokens int) {
	if m == nil || m.llmRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	modelOnly := metric.WithAttributes(attribute.String("model", model))
	m.llmRequests.Add(ctx, 1, attrs)
	m.llmTokensInput.Add(ctx, int64(inputTokens), modelOnly)
	m.llmTokensOutput.Add(ctx, int64(outputTokens), modelOnly)
	m.llmLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordToolExecution records one capability invocation.
func (m *MetricsCollector) RecordToolExecution(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolExecutions == nil {
		return
	}
	m.toolExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool_name", toolName),
		attribute.String("status", status),
	))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool_name", toolName)))
}

// RecordTurn records the outcome of a finished turn.
func (m *MetricsCollector) RecordTurn(ctx context.Context, outcome string) {
	if m == nil || m.turns == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
