package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNotFound marks a URL whose remote resource does not exist (HTTP 404).
// Callers surface it to the model as a descriptive failure rather than
// aborting the whole answer.
var ErrNotFound = errors.New("remote resource not found")

// DefaultTimeout bounds a single fetch. A slow page fails on its own without
// affecting other in-flight operations.
const DefaultTimeout = 5 * time.Second

const maxTextBytes = 32 * 1024

// Client retrieves a URL and reduces it to plain text.
type Client struct {
	http *http.Client
}

// New creates a fetch client with the default per-request timeout.
func New() *Client {
	return NewWithTimeout(DefaultTimeout)
}

// NewWithTimeout creates a fetch client with a custom per-request timeout.
func NewWithTimeout(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Fetch downloads rawURL and returns its visible text, truncated to a
// context-safe size. A 404 returns ErrNotFound; other non-200 statuses fail
// with the status code.
func (c *Client) Fetch(ctx context.Context, rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", errors.New("fetch url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "ninochat/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, trimmed)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("fetch http %d for %s", resp.StatusCode, trimmed)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing page: %w", err)
	}

	doc.Find("script, style, nav, header, footer, noscript").Remove()
	text := collapseWhitespace(doc.Find("body").Text())
	if text == "" {
		// Non-HTML payloads parse into an empty body; keep the raw text.
		text = collapseWhitespace(doc.Text())
	}

	if len(text) > maxTextBytes {
		text = text[:maxTextBytes] + "\n[TRUNCATED]"
	}
	return text, nil
}

var reSpaces = regexp.MustCompile(`[ \t]+`)

func collapseWhitespace(s string) string {
	s = reSpaces.ReplaceAllString(s, " ")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}
