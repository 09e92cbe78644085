package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "souschef/internal/errors"
	"souschef/internal/logging"
)

// EmbedderConfig holds embedding configuration
type EmbedderConfig struct {
	Model     string // "text-embedding-3-small"
	APIKey    string
	BaseURL   string // Optional, defaults to OpenAI
	CacheSize int    // LRU cache size, default 10000
	Timeout   time.Duration
	Retry     apperrors.RetryConfig
}

// Embedder generates text embeddings
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts (up to 100)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

const maxEmbedBatch = 100

// openaiEmbedder calls an OpenAI-compatible /embeddings endpoint.
type openaiEmbedder struct {
	config     EmbedderConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
	logger     logging.Logger
}

// NewEmbedder creates a new embedder. A nil client gets one with config.Timeout.
func NewEmbedder(config EmbedderConfig, client *http.Client, logger logging.Logger) (Embedder, error) {
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.CacheSize == 0 {
		config.CacheSize = 10000
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Retry.MaxAttempts == 0 && config.Retry.BaseDelay == 0 {
		config.Retry = apperrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 10 * time.Second, JitterFactor: 0.25}
	}

	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &openaiEmbedder{
		config:     config,
		httpClient: client,
		cache:      cache,
		logger:     logging.OrNop(logger),
	}, nil
}

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > maxEmbedBatch {
		return nil, fmt.Errorf("batch size exceeds limit: %d > %d", len(texts), maxEmbedBatch)
	}

	results := make([][]float32, len(texts))
	var uncachedIndices []int
	var uncachedTexts []string
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			results[i] = cached
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}
	if len(uncachedTexts) == 0 {
		return results, nil
	}

	embeddings, err := apperrors.RetryWithResult(ctx, e.config.Retry, func(ctx context.Context) ([][]float32, error) {
		return e.callAPI(ctx, uncachedTexts)
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	for i, idx := range uncachedIndices {
		e.cache.Add(texts[idx], embeddings[i])
		results[idx] = embeddings[i]
	}
	return results, nil
}

func (e *openaiEmbedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": e.config.Model,
		"input": texts,
	})
	if err != nil {
		return nil, apperrors.NewPermanentError(err, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewPermanentError(err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apperrors.FromHTTPStatus(resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, apperrors.NewPermanentError(err, "decode embedding response")
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range apiResp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, apperrors.NewPermanentError(fmt.Errorf("invalid index: %d", item.Index), "malformed embedding response")
		}
		embeddings[item.Index] = item.Embedding
	}
	for i, emb := range embeddings {
		if len(emb) == 0 {
			return nil, apperrors.NewPermanentError(fmt.Errorf("missing embedding %d", i), "malformed embedding response")
		}
	}
	return embeddings, nil
}
