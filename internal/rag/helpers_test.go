package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"souschef/internal/agent/ports"
	"souschef/internal/recipes"
)

// keywordEmbedder maps texts onto three axes so similarity is predictable.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := []float32{0.05, 0.05, 0.05}
	if strings.Contains(lower, "vegan") {
		vec[0] = 1
	}
	if strings.Contains(lower, "chicken") {
		vec[1] = 1
	}
	if strings.Contains(lower, "cake") {
		vec[2] = 1
	}
	return vec, nil
}

func (k keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = k.Embed(ctx, text)
	}
	return out, nil
}

func newMemoryStore(t *testing.T) VectorStore {
	t.Helper()
	store, err := NewVectorStore(StoreConfig{Collection: "test"}, keywordEmbedder{})
	require.NoError(t, err)
	return store
}

func recipeDetail(title string) *recipes.RecipeDetail {
	url := "https://www.bbcgoodfood.com/recipes/" + strings.ReplaceAll(strings.ToLower(title), " ", "-")
	rating := 4.5
	return &recipes.RecipeDetail{
		ID: recipes.IDForURL(url),
		RecipeSummary: recipes.RecipeSummary{
			Title:           title,
			URL:             url,
			Ingredients:     []string{"salt"},
			NutritionalInfo: []string{"kcal 100"},
			PrepTime:        "10minutes",
			CookingTime:     "20minutes",
			AvgRating:       &rating,
			Serves:          recipes.DefaultServes,
		},
		Description: title + " from the page",
		DietTypes:   []string{},
		Cuisine:     []string{},
		MethodSteps: []string{"Step 1: Cook."},
	}
}

// fakeSource serves a fixed site map: page number -> recipe titles.
type fakeSource struct {
	pages    map[int][]string
	pageErrs map[int]error
	failing  map[string]bool
}

func (f *fakeSource) SearchPageURL(page int) string {
	return fmt.Sprintf("search://%d", page)
}

func (f *fakeSource) RecipeLinks(_ context.Context, pageURL string) ([]string, error) {
	var page int
	if _, err := fmt.Sscanf(pageURL, "search://%d", &page); err != nil {
		return nil, err
	}
	if err := f.pageErrs[page]; err != nil {
		return nil, err
	}
	links := make([]string, 0, len(f.pages[page]))
	for _, title := range f.pages[page] {
		links = append(links, "recipe://"+title)
	}
	return links, nil
}

func (f *fakeSource) GetMetadata(_ context.Context, pageURL string) (*recipes.RecipeDetail, error) {
	title := strings.TrimPrefix(pageURL, "recipe://")
	if f.failing[title] {
		return nil, errors.New("status 500: boom")
	}
	return recipeDetail(title), nil
}

// describingLLM rewrites every recipe description as "<title> rewritten".
type describingLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) string
}

func (d *describingLLM) Model() string { return "describer" }

func (d *describingLLM) Complete(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	d.mu.Lock()
	d.prompts = append(d.prompts, prompt)
	d.mu.Unlock()
	if d.reply != nil {
		return &ports.CompletionResponse{Content: d.reply(prompt)}, nil
	}
	return &ports.CompletionResponse{Content: "A searchable description."}, nil
}
