// Package recipes provides the capabilities the assistant uses to find and
// read recipes.
package recipes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"souschef/internal/agent/ports"
	"souschef/internal/rag"
)

// Tool names.
const (
	RetrieverToolName = "recipe_retriever"
	ScraperToolName   = "recipe_scraper"
)

var errMissingArgument = errors.New("missing argument")

// RecipeSearcher finds indexed recipes similar to a description.
type RecipeSearcher interface {
	Search(ctx context.Context, query string) ([]rag.RetrievalResult, error)
	TopK() int
}

type recipeRetriever struct {
	searcher RecipeSearcher
}

// NewRetriever returns the recipe_retriever capability.
func NewRetriever(searcher RecipeSearcher) ports.Capability {
	return &recipeRetriever{searcher: searcher}
}

func (t *recipeRetriever) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: RetrieverToolName,
		Description: fmt.Sprintf("Searches for relevant recipes and returns data for the top %d results. "+
			"Input should be a generic recipe description that could be matched to the user's query.", t.searcher.TopK()),
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query": {
					Type:        "string",
					Description: "Generic recipe description to match against the recipe index",
				},
			},
			Required: []string{"query"},
		},
	}
}

func (t *recipeRetriever) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	query, _ := call.StringArg("query")
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query", errMissingArgument)
	}

	results, err := t.searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return &ports.ToolResult{CallID: call.ID, Content: rag.FormatResults(results)}, nil
}
