package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	chromem "github.com/philippgille/chromem-go"
)

// StoreConfig holds vector store configuration
type StoreConfig struct {
	PersistPath string // Directory to persist data; empty keeps the index in memory
	Collection  string // Collection name
}

// Document represents a stored document
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// SearchResult represents a search result
type SearchResult struct {
	Document   Document
	Similarity float32 // cosine similarity, higher is closer
}

// VectorStore manages embeddings and similarity search
type VectorStore interface {
	// Upsert adds documents, replacing any with the same ID
	Upsert(ctx context.Context, docs []Document) error

	// SearchByText embeds queryText and returns up to topK matches at or
	// above minSimilarity, most similar first
	SearchByText(ctx context.Context, queryText string, topK int, minSimilarity float32) ([]SearchResult, error)

	// Delete removes documents by ID
	Delete(ctx context.Context, ids []string) error

	// Count returns total document count
	Count() int

	// Close closes the store
	Close() error
}

// chromemStore implements VectorStore using chromem-go
type chromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     StoreConfig
}

// NewVectorStore creates a chromem-backed store that embeds queries with embedder.
func NewVectorStore(config StoreConfig, embedder Embedder) (VectorStore, error) {
	if config.Collection == "" {
		config.Collection = "recipes"
	}

	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(config.PersistPath, "chromem"), false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &chromemStore{
		db:         db,
		collection: collection,
		config:     config,
	}, nil
}

func (s *chromemStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		}
	}
	if err := s.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

func (s *chromemStore) SearchByText(ctx context.Context, queryText string, topK int, minSimilarity float32) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	// chromem rejects nResults larger than the collection.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := s.collection.Query(ctx, queryText, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < minSimilarity {
			continue
		}
		searchResults = append(searchResults, SearchResult{
			Document: Document{
				ID:        r.ID,
				Content:   r.Content,
				Embedding: r.Embedding,
				Metadata:  r.Metadata,
			},
			Similarity: r.Similarity,
		})
	}
	return searchResults, nil
}

func (s *chromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (s *chromemStore) Count() int {
	return s.collection.Count()
}

// Close is a no-op: chromem persists on every write.
func (s *chromemStore) Close() error {
	return nil
}
