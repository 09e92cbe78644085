package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"souschef/internal/agent/ports"
	"souschef/internal/logging"
	"souschef/internal/recipes"
)

// DescriptionPrompt asks the model for a searchable description of a recipe.
const DescriptionPrompt = "Given the following recipe data, rewrite the description to be more informative, " +
	"in a way that would easily allow the recipe to be found through matching its description to " +
	"a user query. Make sure to include information such as key ingredients, key dietary information, " +
	"and the relevant cuisine if available. Output only the description and nothing else. Limit your " +
	"output to one or two sentences and don't include a url or any quantitative data\n\n"

// RecipeSource discovers and scrapes recipe pages.
type RecipeSource interface {
	SearchPageURL(page int) string
	RecipeLinks(ctx context.Context, pageURL string) ([]string, error)
	GetMetadata(ctx context.Context, pageURL string) (*recipes.RecipeDetail, error)
}

// IndexerConfig holds indexing configuration
type IndexerConfig struct {
	Concurrency int // recipes processed at once per page, default 4
}

// IndexStats holds indexing statistics
type IndexStats struct {
	Pages        int
	FailedPages  int
	Links        int
	Indexed      int
	FailedRecipe int
}

// Indexer crawls search pages and upserts every recipe it finds.
type Indexer struct {
	config   IndexerConfig
	source   RecipeSource
	llm      ports.LLMClient
	embedder Embedder
	store    VectorStore
	logger   logging.Logger
}

// NewIndexer creates a new indexer
func NewIndexer(config IndexerConfig, source RecipeSource, llm ports.LLMClient, embedder Embedder, store VectorStore, logger logging.Logger) *Indexer {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Indexer{
		config:   config,
		source:   source,
		llm:      llm,
		embedder: embedder,
		store:    store,
		logger:   logging.OrNop(logger),
	}
}

// Index processes search pages startPage..endPage inclusive. A page or recipe
// that fails is logged and skipped; only cancellation stops the run.
func (idx *Indexer) Index(ctx context.Context, startPage, endPage int) (*IndexStats, error) {
	if startPage < 1 || endPage < startPage {
		return nil, fmt.Errorf("invalid page range %d..%d", startPage, endPage)
	}
	stats := &IndexStats{}

	for page := startPage; page <= endPage; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Pages++
		if err := idx.indexPage(ctx, page, stats); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.FailedPages++
			idx.logger.Warn("Skipping search page %d: %v", page, err)
		}
	}

	idx.logger.Info("Indexed %d recipes from %d pages (%d recipe failures, %d page failures), collection holds %d",
		stats.Indexed, stats.Pages, stats.FailedRecipe, stats.FailedPages, idx.store.Count())
	return stats, nil
}

func (idx *Indexer) indexPage(ctx context.Context, page int, stats *IndexStats) error {
	links, err := idx.source.RecipeLinks(ctx, idx.source.SearchPageURL(page))
	if err != nil {
		return fmt.Errorf("discover links: %w", err)
	}
	stats.Links += len(links)

	var (
		mu   sync.Mutex
		docs = make([]Document, 0, len(links))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.config.Concurrency)
	for _, link := range links {
		g.Go(func() error {
			doc, err := idx.buildDocument(gctx, link)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				stats.FailedRecipe++
				idx.logger.Warn("Skipping recipe %s: %v", link, err)
				return nil
			}
			docs = append(docs, doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := idx.store.Upsert(ctx, docs); err != nil {
		stats.FailedRecipe += len(docs)
		return fmt.Errorf("upsert %d recipes: %w", len(docs), err)
	}
	stats.Indexed += len(docs)
	idx.logger.Debug("Page %d: upserted %d of %d recipes", page, len(docs), len(links))
	return nil
}

func (idx *Indexer) buildDocument(ctx context.Context, link string) (Document, error) {
	detail, err := idx.source.GetMetadata(ctx, link)
	if err != nil {
		return Document{}, fmt.Errorf("scrape: %w", err)
	}
	description, err := idx.describe(ctx, detail)
	if err != nil {
		return Document{}, fmt.Errorf("describe: %w", err)
	}
	embedding, err := idx.embedder.Embed(ctx, description)
	if err != nil {
		return Document{}, fmt.Errorf("embed: %w", err)
	}
	return documentForRecipe(detail, description, embedding)
}

// describe asks the model for a searchable description, falling back to the
// page's own description when the model returns nothing.
func (idx *Indexer) describe(ctx context.Context, detail *recipes.RecipeDetail) (string, error) {
	data, err := json.Marshal(detail)
	if err != nil {
		return "", err
	}
	resp, err := idx.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: DescriptionPrompt + string(data)}},
	})
	if err != nil {
		return "", err
	}
	description := strings.TrimSpace(resp.Content)
	if description == "" {
		description = strings.TrimSpace(detail.Description)
	}
	if description == "" {
		description = detail.Title
	}
	return description, nil
}
