package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "souschef/internal/errors"
)

type embeddingServer struct {
	calls  atomic.Int32
	mu     sync.Mutex
	inputs [][]string
	status func(call int32) int
}

func (s *embeddingServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := s.calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if s.status != nil {
			if code := s.status(call); code != http.StatusOK {
				http.Error(w, "nope", code)
				return
			}
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		s.mu.Lock()
		s.inputs = append(s.inputs, req.Input)
		s.mu.Unlock()

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		// Reverse order to check re-sequencing by index.
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Embedding: []float32{float32(len(req.Input[i])), float32(i)}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
}

func newTestEmbedder(t *testing.T, srv *httptest.Server) Embedder {
	t.Helper()
	e, err := NewEmbedder(EmbedderConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/",
		Retry:   apperrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, srv.Client(), nil)
	require.NoError(t, err)
	return e
}

func TestEmbedderBatchKeepsInputOrder(t *testing.T) {
	es := &embeddingServer{}
	srv := httptest.NewServer(es.handler(t))
	defer srv.Close()

	got, err := newTestEmbedder(t, srv).EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {3, 1}, {2, 2}}, got)
}

func TestEmbedderCachesPerText(t *testing.T) {
	es := &embeddingServer{}
	srv := httptest.NewServer(es.handler(t))
	defer srv.Close()
	e := newTestEmbedder(t, srv)
	ctx := context.Background()

	_, err := e.Embed(ctx, "vegan")
	require.NoError(t, err)
	_, err = e.Embed(ctx, "vegan")
	require.NoError(t, err)
	assert.Equal(t, int32(1), es.calls.Load())

	_, err = e.EmbedBatch(ctx, []string{"vegan", "cake"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), es.calls.Load())
	es.mu.Lock()
	defer es.mu.Unlock()
	assert.Equal(t, []string{"cake"}, es.inputs[1])
}

func TestEmbedderRetriesTransientFailures(t *testing.T) {
	es := &embeddingServer{status: func(call int32) int {
		if call == 1 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	}}
	srv := httptest.NewServer(es.handler(t))
	defer srv.Close()

	_, err := newTestEmbedder(t, srv).Embed(context.Background(), "soup")
	require.NoError(t, err)
	assert.Equal(t, int32(2), es.calls.Load())
}

func TestEmbedderDoesNotRetryAuthFailures(t *testing.T) {
	es := &embeddingServer{status: func(int32) int { return http.StatusUnauthorized }}
	srv := httptest.NewServer(es.handler(t))
	defer srv.Close()

	_, err := newTestEmbedder(t, srv).Embed(context.Background(), "soup")
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
	assert.Equal(t, int32(1), es.calls.Load())
}

func TestEmbedderRejectsBadBatches(t *testing.T) {
	e, err := NewEmbedder(EmbedderConfig{}, nil, nil)
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), nil)
	require.Error(t, err)
	_, err = e.EmbedBatch(context.Background(), make([]string, maxEmbedBatch+1))
	require.Error(t, err)
}
