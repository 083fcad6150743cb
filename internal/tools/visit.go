package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// VisitorConfig configures the page-extraction capability.
type VisitorConfig struct {
	// Timeout bounds a single fetch attempt (default: 15s).
	Timeout time.Duration

	// MaxChars caps the extracted text returned to the provider
	// (default: 10000).
	MaxChars int

	// MaxAttempts bounds transient-failure retries (default: 3).
	MaxAttempts int
}

// DefaultVisitorConfig returns sensible defaults.
func DefaultVisitorConfig() *VisitorConfig {
	return &VisitorConfig{
		Timeout:     15 * time.Second,
		MaxChars:    10000,
		MaxAttempts: 3,
	}
}

// Visitor fetches a page and extracts its main textual content.
type Visitor struct {
	cfg    *VisitorConfig
	client *http.Client
	logger *zap.Logger
}

// NewVisitor creates a page-extraction capability.
func NewVisitor(cfg *VisitorConfig, logger *zap.Logger) *Visitor {
	if cfg == nil {
		cfg = DefaultVisitorConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Visitor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Visit fetches the URL and returns up to MaxChars of extracted text.
// Transient fetch failures are retried with jittered exponential backoff;
// client errors (4xx) and extraction failures are not retried.
func (v *Visitor) Visit(ctx context.Context, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("empty url")
	}

	fetch := func() (string, error) {
		text, err := v.fetchOnce(ctx, rawURL)
		if err != nil {
			var pe *permanentFetchError
			if errors.As(err, &pe) {
				return "", backoff.Permanent(pe.err)
			}
			return "", err
		}
		return text, nil
	}

	text, err := backoff.Retry(ctx, fetch,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(v.cfg.MaxAttempts)),
	)
	if err != nil {
		return "", err
	}
	return text, nil
}

// permanentFetchError marks failures that retrying cannot fix.
type permanentFetchError struct{ err error }

func (e *permanentFetchError) Error() string { return e.err.Error() }
func (e *permanentFetchError) Unwrap() error { return e.err }

func (v *Visitor) fetchOnce(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &permanentFetchError{fmt.Errorf("could not fetch page: %w", err)}
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not fetch page: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("could not fetch page: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", &permanentFetchError{fmt.Errorf("could not fetch page: status %d", resp.StatusCode)}
	}

	text, err := extractText(resp.Body)
	if err != nil {
		return "", &permanentFetchError{fmt.Errorf("extract content: %w", err)}
	}
	if strings.TrimSpace(text) == "" {
		return "", &permanentFetchError{errors.New("no main content found on this page")}
	}

	text = truncateRunes(text, v.cfg.MaxChars)

	v.logger.Debug("visited page",
		zap.String("url", rawURL),
		zap.Int("chars", utf8.RuneCountInString(text)),
	)
	return text, nil
}

// extractText pulls headings, paragraphs, and list items from the page,
// skipping script and style blocks. Very short fragments are dropped.
func extractText(body io.Reader) (string, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return "", err
	}

	contentTags := map[string]bool{
		"h1": true, "h2": true, "h3": true, "p": true, "li": true,
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
			if contentTags[n.Data] {
				text := strings.TrimSpace(collapseSpace(nodeText(n)))
				if len(text) > 5 {
					parts = append(parts, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(parts, "\n"), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes caps s at max runes, never splitting a multi-byte
// sequence.
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
