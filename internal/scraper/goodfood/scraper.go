// Package goodfood scrapes recipe metadata from BBC Good Food pages.
package goodfood

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	apperrors "souschef/internal/errors"
	"souschef/internal/logging"
	"souschef/internal/recipes"
)

const (
	DefaultBaseURL    = "https://www.bbcgoodfood.com"
	DefaultSearchPath = "/search?tab=recipe&mealType=dinner&sort=rating&page="
	defaultUserAgent  = "souschef/1.0 (recipe assistant)"
	maxPageBytes      = 8 << 20
)

// ErrMissingRecipeData means the page has no recipe settings block, so
// nothing about the recipe can be recovered.
var ErrMissingRecipeData = errors.New("page has no recipe data")

// Config configures the scraper.
type Config struct {
	BaseURL    string
	SearchPath string
	UserAgent  string
	Timeout    time.Duration
	CacheSize  int
	CacheTTL   time.Duration
	Retry      apperrors.RetryConfig
}

// Scraper fetches GoodFood pages over HTTP. It is safe for concurrent use.
type Scraper struct {
	config Config
	client *http.Client
	cache  *expirable.LRU[string, *recipes.RecipeDetail]
	logger logging.Logger
}

// New creates a scraper. A nil client gets a default with cfg.Timeout and a
// redirect limit.
func New(cfg Config, client *http.Client, logger logging.Logger) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SearchPath == "" {
		cfg.SearchPath = DefaultSearchPath
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = apperrors.RetryConfig{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, JitterFactor: 0.25}
	}
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		}
	}
	return &Scraper{
		config: cfg,
		client: client,
		cache:  expirable.NewLRU[string, *recipes.RecipeDetail](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logging.OrNop(logger),
	}
}

// BaseURL returns the site root used to resolve relative links.
func (s *Scraper) BaseURL() string {
	return s.config.BaseURL
}

// SearchPageURL returns the URL of a search results page.
func (s *Scraper) SearchPageURL(page int) string {
	return fmt.Sprintf("%s%s%d", s.config.BaseURL, s.config.SearchPath, page)
}

// GetMetadata scrapes one recipe page. A page without the ratings or method
// block still yields a RecipeDetail with those fields left empty; a page
// without the recipe settings block returns ErrMissingRecipeData.
func (s *Scraper) GetMetadata(ctx context.Context, pageURL string) (*recipes.RecipeDetail, error) {
	if _, err := validateURL(pageURL); err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(pageURL); ok {
		s.logger.Debug("Recipe cache hit for %s", pageURL)
		return cloneDetail(cached), nil
	}

	doc, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	detail, err := parseRecipe(doc, pageURL)
	if err != nil {
		return nil, err
	}
	s.cache.Add(pageURL, detail)
	return cloneDetail(detail), nil
}

// RecipeLinks returns the distinct recipe page URLs linked from pageURL,
// sorted. Category and collection pages are skipped.
func (s *Scraper) RecipeLinks(ctx context.Context, pageURL string) ([]string, error) {
	doc, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return extractRecipeLinks(doc, s.config.BaseURL), nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	return apperrors.RetryWithResult(ctx, s.config.Retry, func(ctx context.Context) (*goquery.Document, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, apperrors.NewPermanentError(err, fmt.Sprintf("invalid request for %s", pageURL))
		}
		req.Header.Set("User-Agent", s.config.UserAgent)
		req.Header.Set("Accept", "text/html")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("fetch %s: %w", pageURL, apperrors.FromHTTPStatus(resp.StatusCode, string(snippet)))
		}
		doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return nil, apperrors.NewPermanentError(err, fmt.Sprintf("could not parse %s", pageURL))
		}
		return doc, nil
	}, s.logger)
}

func parseRecipe(doc *goquery.Document, pageURL string) (*recipes.RecipeDetail, error) {
	settingsText := scriptText(doc, adSettingsScriptID)
	if settingsText == "" {
		return nil, fmt.Errorf("%s: %w", pageURL, ErrMissingRecipeData)
	}
	var settings adSettings
	if err := json.Unmarshal([]byte(settingsText), &settings); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", pageURL, adSettingsScriptID, err)
	}
	model := settings.PermutiveConfig.PermutiveModel
	if model.Title == "" {
		return nil, fmt.Errorf("%s: %w", pageURL, ErrMissingRecipeData)
	}

	serves := recipes.DefaultServes
	if model.Recipe.Serves.Valid && model.Recipe.Serves.Int() > 0 {
		serves = model.Recipe.Serves.Int()
	}

	detail := &recipes.RecipeDetail{
		ID: recipes.IDForURL(pageURL),
		RecipeSummary: recipes.RecipeSummary{
			Title:           model.Title,
			URL:             pageURL,
			Ingredients:     nonNil(model.Recipe.Ingredients),
			NutritionalInfo: nonNil(model.Recipe.NutritionInfo),
			PrepTime:        recipes.FormatMinutes(model.Recipe.PrepTime.Int()),
			CookingTime:     recipes.FormatMinutes(model.Recipe.CookingTime.Int()),
			Serves:          serves,
		},
		Description: cleanText(model.Article.Description),
		DietTypes:   nonNil(model.Recipe.DietTypes),
		Cuisine:     settings.cuisine(),
		MethodSteps: []string{},
	}

	// The post content block carries ratings and method; either may be
	// missing without invalidating the rest of the record.
	contentText := scriptText(doc, postContentScriptID)
	if contentText == "" {
		return detail, nil
	}
	var content postContent
	if err := json.Unmarshal([]byte(contentText), &content); err != nil {
		return detail, nil
	}
	if r := content.UserRatings; r != nil {
		if r.Total.Valid {
			total := r.Total.Int()
			detail.NoOfRatings = &total
		}
		if r.Avg.Valid {
			avg := r.Avg.Value
			detail.AvgRating = &avg
		}
	}
	for _, step := range content.MethodSteps {
		if len(step.Content) == 0 {
			continue
		}
		text := cleanText(step.Content[0].Data.Value)
		detail.MethodSteps = append(detail.MethodSteps, fmt.Sprintf("Step %d: %s", len(detail.MethodSteps)+1, text))
	}
	return detail, nil
}

func scriptText(doc *goquery.Document, id string) string {
	return strings.TrimSpace(doc.Find("script#" + id).First().Text())
}

func extractRecipeLinks(doc *goquery.Document, baseURL string) []string {
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.Contains(href, "/recipes/") || strings.Contains(href, "category") || strings.Contains(href, "collection") {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = baseURL + href
		}
		seen[href] = struct{}{}
	})
	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)
	return links
}

func validateURL(raw string) (*neturl.URL, error) {
	parsed, err := neturl.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperrors.NewPermanentError(err, fmt.Sprintf("invalid URL %q", raw))
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, apperrors.NewPermanentError(fmt.Errorf("unsupported url %q", raw), fmt.Sprintf("URL must be an absolute http(s) link, got %q", raw))
	}
	return parsed, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func cloneDetail(d *recipes.RecipeDetail) *recipes.RecipeDetail {
	out := *d
	out.Ingredients = append([]string{}, d.Ingredients...)
	out.NutritionalInfo = append([]string{}, d.NutritionalInfo...)
	out.DietTypes = append([]string{}, d.DietTypes...)
	out.Cuisine = append([]string{}, d.Cuisine...)
	out.MethodSteps = append([]string{}, d.MethodSteps...)
	return &out
}
