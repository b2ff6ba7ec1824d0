package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"ninochat/pkg/fetch"
	"ninochat/pkg/search"
	"ninochat/pkg/splitter"
)

// Fetcher retrieves the visible text of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// WebToolset exposes web search, page fetch and the current time to the
// agent. The agent decides when and whether to call them.
type WebToolset struct {
	Searcher search.Client
	Fetcher  Fetcher

	// Now is the clock behind current_time. Defaults to time.Now.
	Now func() time.Time

	// DefaultCount is the result count used when the model omits one.
	DefaultCount int
}

func NewWebToolset(searcher search.Client, fetcher Fetcher, defaultCount int) *WebToolset {
	if defaultCount <= 0 {
		defaultCount = 1
	}
	return &WebToolset{
		Searcher:     searcher,
		Fetcher:      fetcher,
		Now:          time.Now,
		DefaultCount: defaultCount,
	}
}

func (t *WebToolset) Name() string {
	return "web_tools"
}

func (t *WebToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchWebArgs, SearchWebResp](
		functiontool.Config{
			Name:        "search_web",
			Description: "Search the web for information about the El Niño weather phenomenon.",
		},
		t.searchWebTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	fetchTool, err := functiontool.New[FetchPageArgs, FetchPageResp](
		functiontool.Config{
			Name:        "fetch_page",
			Description: "Fetch the text content of a web page by URL.",
		},
		t.fetchPageTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch tool: %w", err)
	}

	timeTool, err := functiontool.New[CurrentTimeArgs, CurrentTimeResp](
		functiontool.Config{
			Name:        "current_time",
			Description: "Get the current UTC date and time.",
		},
		t.currentTimeTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create time tool: %w", err)
	}

	return []tool.Tool{searchTool, fetchTool, timeTool}, nil
}

// --- Tool Implementations ---

type SearchWebArgs struct {
	Query  string `json:"query" description:"The search query"`
	Count  int    `json:"count,omitempty" description:"Number of results to return (default 1)"`
	Offset int    `json:"offset,omitempty" description:"Pagination offset (default 0)"`
}

type SearchWebResp struct {
	Results string `json:"results"`
}

// Wrapper for ADK tool interface
func (t *WebToolset) searchWebTool(ctx tool.Context, args SearchWebArgs) (SearchWebResp, error) {
	return t.SearchWeb(ctx, args)
}

// Public method using standard context
func (t *WebToolset) SearchWeb(ctx context.Context, args SearchWebArgs) (SearchWebResp, error) {
	if args.Count == 0 {
		args.Count = t.DefaultCount
	}

	slog.Info("Search web", "query", args.Query, "count", args.Count, "offset", args.Offset)

	results, err := t.Searcher.Search(ctx, args.Query, args.Count, args.Offset)
	if err != nil {
		return SearchWebResp{}, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return SearchWebResp{Results: "No results found for query: " + args.Query}, nil
	}

	var formattedResults []string
	for _, r := range results {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("[Title]: %s\n[URL]: %s\n[Snippet]: %s", r.Title, r.URL, r.Snippet))
		formattedResults = append(formattedResults, sb.String())
	}

	return SearchWebResp{Results: strings.Join(formattedResults, "\n\n")}, nil
}

type FetchPageArgs struct {
	URL string `json:"url" description:"The URL of the page to fetch"`
}

type FetchPageResp struct {
	Content string `json:"content"`
}

// Only the leading chunks of a long page are handed back to the model.
const (
	fetchChunkSize = 4000
	fetchMaxChunks = 3
)

// Wrapper for ADK tool interface
func (t *WebToolset) fetchPageTool(ctx tool.Context, args FetchPageArgs) (FetchPageResp, error) {
	return t.FetchPage(ctx, args)
}

// Public method using standard context
func (t *WebToolset) FetchPage(ctx context.Context, args FetchPageArgs) (FetchPageResp, error) {
	slog.Info("Fetch page", "url", args.URL)

	text, err := t.Fetcher.Fetch(ctx, args.URL)
	if errors.Is(err, fetch.ErrNotFound) {
		// A missing page fails this one call only; the model may relay the
		// failure or work around it.
		return FetchPageResp{Content: fmt.Sprintf("The page at %s does not exist (HTTP 404).", args.URL)}, nil
	}
	if err != nil {
		return FetchPageResp{}, fmt.Errorf("failed to fetch page: %w", err)
	}

	ts := splitter.NewRecursiveCharacterTextSplitter(fetchChunkSize, 0)
	chunks, err := ts.SplitText(text)
	if err != nil {
		return FetchPageResp{}, fmt.Errorf("failed to split page text: %w", err)
	}
	if len(chunks) > fetchMaxChunks {
		chunks = chunks[:fetchMaxChunks]
	}

	return FetchPageResp{Content: strings.Join(chunks, "\n\n")}, nil
}

type CurrentTimeArgs struct{}

type CurrentTimeResp struct {
	Time string `json:"time"`
}

// Wrapper for ADK tool interface
func (t *WebToolset) currentTimeTool(ctx tool.Context, args CurrentTimeArgs) (CurrentTimeResp, error) {
	return t.CurrentTime(ctx, args)
}

// Public method using standard context
func (t *WebToolset) CurrentTime(ctx context.Context, _ CurrentTimeArgs) (CurrentTimeResp, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return CurrentTimeResp{Time: now().UTC().Format(time.RFC1123)}, nil
}
