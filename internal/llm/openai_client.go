package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"souschef/internal/agent/ports"
	apperrors "souschef/internal/errors"
	"souschef/internal/logging"
	id "souschef/internal/utils/id"
)

// openaiClient speaks the OpenAI-compatible chat completions API.
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

var _ ports.StreamingLLMClient = (*openaiClient)(nil)

// NewOpenAIClient constructs a chat completions client. A nil httpClient
// gets one bounded by cfg.Timeout.
func NewOpenAIClient(cfg Config, httpClient *http.Client, logger logging.Logger) (ports.StreamingLLMClient, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &openaiClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    cfg.Headers,
		httpClient: httpClient,
		logger:     logging.OrNop(logger),
	}, nil
}

func (c *openaiClient) Model() string {
	return c.model
}

type chatToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *chatUsage) toPorts() ports.TokenUsage {
	if u == nil {
		return ports.TokenUsage{}
	}
	return ports.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (c *openaiClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	prefix := requestPrefix(req)
	resp, err := c.post(ctx, prefix, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("%sResponse Body: %s", prefix, string(respBody))

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content   string         `json:"content"`
				ToolCalls []chatToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *chatUsage `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, apperrors.NewTransientError(err, "LLM returned a malformed response. Please retry.")
	}
	if oaiResp.Error != nil && oaiResp.Error.Message != "" {
		return nil, apperrors.FromHTTPStatus(http.StatusBadGateway, oaiResp.Error.Type+": "+oaiResp.Error.Message)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, apperrors.NewTransientError(errors.New("no choices in response"), "LLM returned an empty response. Please retry.")
	}

	choice := oaiResp.Choices[0]
	result := &ports.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage:      oaiResp.Usage.toPorts(),
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, c.toolCall(prefix, tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	c.logSummary(prefix, result)
	return result, nil
}

// StreamComplete reads the server-sent event stream, forwarding content
// deltas as they arrive and assembling tool calls from their fragments.
func (c *openaiClient) StreamComplete(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	prefix := requestPrefix(req)
	resp, err := c.post(ctx, prefix, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	type streamChunk struct {
		Choices []struct {
			Delta struct {
				Content   string         `json:"content"`
				ToolCalls []chatToolCall `json:"tool_calls"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Usage *chatUsage `json:"usage"`
	}

	type toolAccumulator struct {
		id        string
		name      string
		arguments strings.Builder
	}
	accumulators := make(map[int]*toolAccumulator)
	var order []int

	var content strings.Builder
	var usage ports.TokenUsage
	finishReason := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Debug("%sFailed to decode stream chunk: %v", prefix, err)
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.toPorts()
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
		if text := choice.Delta.Content; text != "" {
			content.WriteString(text)
			if callbacks.OnContentDelta != nil {
				callbacks.OnContentDelta(ports.ContentDelta{Delta: text})
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := accumulators[tc.Index]
			if !ok {
				acc = &toolAccumulator{}
				accumulators[tc.Index] = acc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.arguments.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewTransientError(err, "LLM stream was interrupted. Please retry.")
	}
	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ports.ContentDelta{Final: true})
	}

	result := &ports.CompletionResponse{
		Content:    content.String(),
		StopReason: finishReason,
		Usage:      usage,
	}
	for _, idx := range order {
		acc := accumulators[idx]
		result.ToolCalls = append(result.ToolCalls, c.toolCall(prefix, acc.id, acc.name, acc.arguments.String()))
	}
	c.logSummary(prefix, result)
	return result, nil
}

func (c *openaiClient) buildRequest(req ports.CompletionRequest, stream bool) map[string]any {
	body := map[string]any{
		"model":    c.model,
		"messages": convertMessages(req.Messages),
		"stream":   stream,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		body["stop"] = append([]string(nil), req.StopSequences...)
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}
	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	return body
}

// post sends the request and returns the response when the status is 2xx.
// The caller closes the body.
func (c *openaiClient) post(ctx context.Context, prefix string, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewPermanentError(err, "could not encode LLM request")
	}
	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("%sPOST %s model=%s", prefix, endpoint, c.model)
	c.logger.Debug("%sRequest Body: %s", prefix, string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewPermanentError(err, "could not build LLM request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewTransientError(err, fmt.Sprintf("LLM request failed: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("%sError Response %d: %s", prefix, resp.StatusCode, string(respBody))
		return nil, apperrors.FromHTTPStatus(resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// toolCall converts one wire tool call. Arguments that cannot be repaired
// are recorded on the call so the invoker can ask the model to resend them.
func (c *openaiClient) toolCall(prefix, callID, name, rawArgs string) ports.ToolCall {
	args, err := parseToolArguments(rawArgs)
	if err != nil {
		c.logger.Warn("%sTool call %s (%s) has unreadable arguments: %v", prefix, callID, name, err)
		return ports.ToolCall{ID: callID, Name: name, Arguments: map[string]any{}, ArgumentsError: err.Error()}
	}
	return ports.ToolCall{ID: callID, Name: name, Arguments: args}
}

func (c *openaiClient) logSummary(prefix string, result *ports.CompletionResponse) {
	c.logger.Debug("%sStop Reason: %s, Content Length: %d chars, Tool Calls: %s, Usage: %d prompt + %d completion = %d total tokens",
		prefix,
		result.StopReason,
		len(result.Content),
		marshalForLog(result.ToolCalls),
		result.Usage.PromptTokens,
		result.Usage.CompletionTokens,
		result.Usage.TotalTokens)
}

func requestPrefix(req ports.CompletionRequest) string {
	requestID := extractRequestID(req.Metadata)
	if requestID == "" {
		requestID = id.NewRequestID()
	}
	return fmt.Sprintf("[req:%s] ", requestID)
}
