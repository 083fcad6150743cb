package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// SearcherConfig configures the web search capability.
type SearcherConfig struct {
	// Endpoint is the DuckDuckGo HTML search endpoint.
	Endpoint string

	// MaxResults caps the number of serialized result snippets (default: 5).
	MaxResults int

	// Timeout bounds a single search request (default: 15s).
	Timeout time.Duration

	// RequestsPerMinute throttles outbound searches (default: 20).
	RequestsPerMinute int
}

// DefaultSearcherConfig returns sensible defaults.
func DefaultSearcherConfig() *SearcherConfig {
	return &SearcherConfig{
		Endpoint:          "https://html.duckduckgo.com/html/",
		MaxResults:        5,
		Timeout:           15 * time.Second,
		RequestsPerMinute: 20,
	}
}

// Searcher runs web searches against the DuckDuckGo HTML endpoint.
type Searcher struct {
	cfg     *SearcherConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSearcher creates a search capability.
func NewSearcher(cfg *SearcherConfig, logger *zap.Logger) *Searcher {
	if cfg == nil {
		cfg = DefaultSearcherConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute),
		logger:  logger,
	}
}

// searchResult is one parsed result snippet.
type searchResult struct {
	title   string
	url     string
	snippet string
}

// Search runs a query and serializes up to MaxResults snippets.
func (s *Searcher) Search(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", errors.New("empty search query")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("search rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search request: unexpected status %d", resp.StatusCode)
	}

	results, err := parseSearchResults(resp.Body, s.cfg.MaxResults)
	if err != nil {
		return "", fmt.Errorf("parse search results: %w", err)
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	s.logger.Debug("search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   url: %s\n   %s\n", i+1, r.title, r.url, r.snippet)
	}
	return b.String(), nil
}

// parseSearchResults extracts result anchors and snippets from the
// DuckDuckGo HTML response.
func parseSearchResults(body io.Reader, limit int) ([]searchResult, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return nil, err
	}

	var results []searchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit && limit > 0 {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				results = append(results, searchResult{
					title: strings.TrimSpace(nodeText(n)),
					url:   resolveResultURL(attr(n, "href")),
				})
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].snippet == "" {
					results[len(results)-1].snippet = strings.TrimSpace(nodeText(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// resolveResultURL unwraps DuckDuckGo redirect links (uddg parameter).
func resolveResultURL(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		if decoded, err := url.QueryUnescape(uddg); err == nil {
			return decoded
		}
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	return strings.Contains(attr(n, "class"), class)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
