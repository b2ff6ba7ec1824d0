package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave Web Search API. An API key is required via the
// X-Subscription-Token header.
type Brave struct {
	APIKey   string
	Endpoint string
	client   *http.Client
}

// NewBrave constructs a Brave search client with a modest timeout.
func NewBrave(apiKey string) *Brave {
	return &Brave{APIKey: apiKey, Endpoint: braveEndpoint, client: &http.Client{Timeout: 10 * time.Second}}
}

// NewBraveWithClient constructs a Brave search client using the supplied
// HTTP client, useful for overriding the default timeout.
func NewBraveWithClient(apiKey string, client *http.Client) *Brave {
	return &Brave{APIKey: apiKey, Endpoint: braveEndpoint, client: client}
}

// Search executes one Brave query. count and offset map onto Brave's paging
// parameters; an empty result page decodes to an empty slice, not an error.
func (b *Brave) Search(ctx context.Context, query string, count, offset int) ([]Result, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, errors.New("brave: API key is missing")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))
	params.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave http %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}
