package recipes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"souschef/internal/agent/ports"
	"souschef/internal/recipes"
)

// MetadataScraper reads one recipe page.
type MetadataScraper interface {
	GetMetadata(ctx context.Context, pageURL string) (*recipes.RecipeDetail, error)
}

type recipeScraper struct {
	scraper MetadataScraper
}

// NewScraper returns the recipe_scraper capability. Its result is the
// RecipeDetail encoded as JSON.
func NewScraper(scraper MetadataScraper) ports.Capability {
	return &recipeScraper{scraper: scraper}
}

func (t *recipeScraper) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        ScraperToolName,
		Description: "Given a recipe URL, scrapes and returns recipe metadata and method",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"url": {
					Type:        "string",
					Description: "URL of the recipe to scrape",
				},
			},
			Required: []string{"url"},
		},
	}
}

func (t *recipeScraper) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	url, _ := call.StringArg("url")
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: url", errMissingArgument)
	}

	detail, err := t.scraper.GetMetadata(ctx, url)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode recipe: %w", err)
	}
	return &ports.ToolResult{CallID: call.ID, Content: string(data)}, nil
}
