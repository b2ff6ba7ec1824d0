package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Result is a single item returned by a search backend.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client executes a query against a search backend. An empty result slice is
// a valid, non-error outcome.
type Client interface {
	Search(ctx context.Context, query string, count, offset int) ([]Result, error)
}

const (
	// The two authoritative domains for El Niño material.
	primaryDomain   = "noaa.gov"
	secondaryDomain = "climate.gov"

	phenomenonClause = `("El Niño" OR "El Nino" OR "La Niña" OR "La Nina")`
)

// Widener retries a query with progressively relaxed constraints. The
// backend does literal keyword matching, so an exact phrase plus site
// restriction can easily be too strict for what is actually indexed;
// broadening recovers results the strict form misses.
type Widener struct {
	Backend Client
	Logger  *slog.Logger
}

// NewWidener wraps backend with the query-broadening fallback.
func NewWidener(backend Client, logger *slog.Logger) *Widener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Widener{Backend: backend, Logger: logger}
}

// variants returns the query forms to try, most constrained first:
// synonyms plus site restriction, synonyms only, site restriction only,
// and finally the bare query.
func variants(query string) []string {
	siteClause := fmt.Sprintf("(site:%s OR site:%s)", primaryDomain, secondaryDomain)
	return []string{
		strings.Join([]string{query, phenomenonClause, siteClause}, " "),
		strings.Join([]string{query, phenomenonClause}, " "),
		strings.Join([]string{query, siteClause}, " "),
		query,
	}
}

// Search tries each variant in order and returns the first non-empty result
// set. If every variant comes back empty the final empty set is returned
// without error. Exactly one variant's results are ever returned; partial or
// merged results across variants do not occur.
func (w *Widener) Search(ctx context.Context, query string, count, offset int) ([]Result, error) {
	if count <= 0 {
		count = 1
	}
	if offset < 0 {
		offset = 0
	}

	var results []Result
	for i, q := range variants(query) {
		w.Logger.Debug("Trying search variant", "variant", i+1, "query", q)

		var err error
		results, err = w.Backend.Search(ctx, q, count, offset)
		if err != nil {
			return nil, fmt.Errorf("search variant %d: %w", i+1, err)
		}
		if len(results) > 0 {
			break
		}
		w.Logger.Warn("Search variant returned no results", "variant", i+1, "query", q)
	}

	w.Logger.Debug("Search complete", "query", query, "results", len(results))
	return results, nil
}
