// Package recipes defines the recipe records exchanged between the scraper,
// the vector index and the capabilities the assistant invokes.
package recipes

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// DefaultServes is used when a page does not state a serving count.
const DefaultServes = 2

// RecipeSummary is what the retriever returns for each match.
type RecipeSummary struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Ingredients     []string `json:"ingredients"`
	NutritionalInfo []string `json:"nutritional_info"`
	PrepTime        string   `json:"prep_time"`
	CookingTime     string   `json:"cooking_time"`
	AvgRating       *float64 `json:"avg_rating,omitempty"`
	Serves          int      `json:"serves"`
}

// RecipeDetail is the full record scraped from a recipe page. Ratings are
// pointers because pages without a ratings block leave them unknown.
type RecipeDetail struct {
	ID string `json:"id"`
	RecipeSummary
	Description string   `json:"description"`
	DietTypes   []string `json:"diet_types"`
	Cuisine     []string `json:"cuisine"`
	MethodSteps []string `json:"method_steps"`
	NoOfRatings *int     `json:"no_of_ratings,omitempty"`
}

// IDForURL is the stable record id: the hex md5 of the page URL.
func IDForURL(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// FormatMinutes renders a duration in seconds as whole minutes, e.g. "25minutes".
func FormatMinutes(seconds int) string {
	return strconv.Itoa(seconds/60) + "minutes"
}

// FormatSummary renders a summary the way the retriever presents it to the
// model.
func FormatSummary(s RecipeSummary) string {
	rating := "N/A"
	if s.AvgRating != nil {
		rating = strconv.FormatFloat(*s.AvgRating, 'f', -1, 64)
	}
	return fmt.Sprintf(
		"Recipe Title: %s, Ingredients: %s, Nutritional Information: %s, Prep Time: %s Cooking Time: %s Average Rating: %s, Serves: %d, URL: %s, ",
		s.Title,
		formatList(s.Ingredients),
		formatList(s.NutritionalInfo),
		s.PrepTime,
		s.CookingTime,
		rating,
		s.Serves,
		s.URL,
	)
}

// FormatSummaries joins formatted summaries with blank lines.
func FormatSummaries(summaries []RecipeSummary) string {
	parts := make([]string, len(summaries))
	for i, s := range summaries {
		parts[i] = FormatSummary(s)
	}
	return strings.Join(parts, "\n\n")
}

func formatList(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}
