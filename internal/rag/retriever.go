package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"souschef/internal/logging"
	"souschef/internal/recipes"
)

// Metadata keys written by the indexer.
const (
	MetadataTitle  = "title"
	MetadataURL    = "url"
	MetadataRecipe = "recipe"
)

// RetrieverConfig holds retrieval configuration
type RetrieverConfig struct {
	TopK          int     // Number of results to return (default: 5)
	MinSimilarity float32 // Matches below this similarity are dropped (default: 0, keep all)
}

// RetrievalResult is one matching recipe.
type RetrievalResult struct {
	Summary    recipes.RecipeSummary
	Similarity float32
}

// Retriever finds indexed recipes similar to a free-text description.
type Retriever struct {
	config RetrieverConfig
	store  VectorStore
	logger logging.Logger
}

// NewRetriever creates a new retriever
func NewRetriever(config RetrieverConfig, store VectorStore, logger logging.Logger) *Retriever {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	return &Retriever{
		config: config,
		store:  store,
		logger: logging.OrNop(logger),
	}
}

// TopK is the maximum number of results Search returns.
func (r *Retriever) TopK() int {
	return r.config.TopK
}

// Search returns up to TopK recipes ranked by similarity to query.
// Documents whose stored recipe cannot be decoded are skipped.
func (r *Retriever) Search(ctx context.Context, query string) ([]RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	searchResults, err := r.store.SearchByText(ctx, query, r.config.TopK, r.config.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("search store: %w", err)
	}

	results := make([]RetrievalResult, 0, len(searchResults))
	for _, sr := range searchResults {
		summary, err := summaryFromDocument(sr.Document)
		if err != nil {
			r.logger.Warn("Skipping document %s: %v", sr.Document.ID, err)
			continue
		}
		results = append(results, RetrievalResult{Summary: summary, Similarity: sr.Similarity})
	}
	return results, nil
}

// FormatResults renders results the way the model expects to read them.
func FormatResults(results []RetrievalResult) string {
	if len(results) == 0 {
		return "No matching recipes found."
	}
	summaries := make([]recipes.RecipeSummary, len(results))
	for i, result := range results {
		summaries[i] = result.Summary
	}
	return recipes.FormatSummaries(summaries)
}

func summaryFromDocument(doc Document) (recipes.RecipeSummary, error) {
	raw, ok := doc.Metadata[MetadataRecipe]
	if !ok {
		return recipes.RecipeSummary{}, fmt.Errorf("missing %q metadata", MetadataRecipe)
	}
	var detail recipes.RecipeDetail
	if err := json.Unmarshal([]byte(raw), &detail); err != nil {
		return recipes.RecipeSummary{}, fmt.Errorf("decode recipe: %w", err)
	}
	summary := detail.RecipeSummary
	if summary.Title == "" {
		summary.Title = doc.Metadata[MetadataTitle]
	}
	if summary.URL == "" {
		summary.URL = doc.Metadata[MetadataURL]
	}
	return summary, nil
}

// documentForRecipe builds the stored document for a scraped recipe. The
// searchable content is the rewritten description.
func documentForRecipe(detail *recipes.RecipeDetail, description string, embedding []float32) (Document, error) {
	data, err := json.Marshal(detail)
	if err != nil {
		return Document{}, fmt.Errorf("encode recipe %s: %w", detail.URL, err)
	}
	id := detail.ID
	if id == "" {
		id = recipes.IDForURL(detail.URL)
	}
	return Document{
		ID:        id,
		Content:   description,
		Embedding: embedding,
		Metadata: map[string]string{
			MetadataTitle:  detail.Title,
			MetadataURL:    detail.URL,
			MetadataRecipe: string(data),
		},
	}, nil
}
