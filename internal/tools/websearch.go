// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// websearch.go implements the web_search tool on DuckDuckGo HTML search.
package tools

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/kgassist/internal/util"
)

// WebSearchName is the fixed name of the web search tool.
const WebSearchName = "web_search"

// Search types accepted by web_search.
var searchTypes = []string{"general", "news", "policy", "academic"}

// searchTypeHints narrow the query for non-general search types.
var searchTypeHints = map[string]string{
	"news":     "新闻",
	"policy":   "政策 教育部",
	"academic": "研究 论文",
}

// =============================================================================
// PERFORMANCE: Pre-compiled regex (compiled once at startup)
// =============================================================================

var (
	ddgTitleRegex   = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.+?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.+?)</a>`)

	ddgTagRegex        = regexp.MustCompile(`<[^>]*>`)
	ddgWhitespaceRegex = regexp.MustCompile(`\s+`)
)

// =============================================================================
// DUCKDUCKGO SEARCH EXECUTOR
// =============================================================================

// DuckDuckGoSearchExecutor implements web search using DuckDuckGo HTML.
type DuckDuckGoSearchExecutor struct {
	// BaseURL is the DuckDuckGo HTML search endpoint
	BaseURL string

	// MaxResults is the maximum number of results to return (default: 5, max: 10)
	MaxResults int

	// Timeout is the maximum time for the request (default: 15s)
	Timeout time.Duration

	// UserAgent is the User-Agent header to send
	UserAgent string

	// Client overrides the HTTP client (tests)
	Client *http.Client
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

func (e *DuckDuckGoSearchExecutor) defaults() (base string, max int, timeout time.Duration, ua string) {
	base, max, timeout, ua = e.BaseURL, e.MaxResults, e.Timeout, e.UserAgent
	if base == "" {
		base = "https://html.duckduckgo.com/html/"
	}
	if max <= 0 {
		max = 5
	}
	if max > 10 {
		max = 10
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if ua == "" {
		ua = "Mozilla/5.0 (compatible; kgassist/1.0)"
	}
	return base, max, timeout, ua
}

// Execute performs a DuckDuckGo search and returns formatted results.
func (e *DuckDuckGoSearchExecutor) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	start := time.Now()
	call := &ToolCall{Params: params}

	query := strings.TrimSpace(call.GetString("query", ""))
	if query == "" {
		return Result{Success: false, Error: "query parameter is required"}, nil
	}
	searchType := call.GetString("searchType", "general")
	if hint, ok := searchTypeHints[searchType]; ok {
		query = query + " " + hint
	}

	base, max, timeout, ua := e.defaults()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := e.search(ctx, base, ua, timeout, query)
	if err != nil {
		return Result{
			Success:  false,
			Error:    "search failed: " + err.Error(),
			Duration: time.Since(start),
		}, nil
	}
	if len(results) > max {
		results = results[:max]
	}

	return Result{
		Success:    true,
		Output:     formatResults(query, results),
		MatchCount: len(results),
		Duration:   time.Since(start),
	}, nil
}

// search performs the actual DuckDuckGo search.
func (e *DuckDuckGoSearchExecutor) search(ctx context.Context, base, ua string, timeout time.Duration, query string) ([]SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	client := e.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return nil
			},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, err
	}
	return parseResultsHTML(string(body)), nil
}

// parseResultsHTML extracts search results from DuckDuckGo HTML.
//
//	<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=URL">Title</a>
//	<a class="result__snippet" href="...">Snippet text</a>
func parseResultsHTML(page string) []SearchResult {
	var results []SearchResult

	titleMatches := ddgTitleRegex.FindAllStringSubmatch(page, 30)
	snippetMatches := ddgSnippetRegex.FindAllStringSubmatch(page, 30)

	for i, match := range titleMatches {
		if len(match) < 3 {
			continue
		}
		actualURL := extractActualURL(strings.ReplaceAll(match[1], "&amp;", "&"))
		title := cleanHTML(match[2])
		if title == "" || actualURL == "" {
			continue
		}

		snippet := ""
		if i < len(snippetMatches) && len(snippetMatches[i]) >= 2 {
			snippet = cleanHTML(snippetMatches[i][1])
		}

		results = append(results, SearchResult{Title: title, URL: actualURL, Snippet: snippet})
		if len(results) >= 20 {
			break
		}
	}
	return results
}

// extractActualURL extracts the real URL from DuckDuckGo's redirect wrapper.
func extractActualURL(ddgURL string) string {
	if strings.Contains(ddgURL, "uddg=") {
		if strings.HasPrefix(ddgURL, "//") {
			ddgURL = "https:" + ddgURL
		}
		parsed, err := url.Parse(ddgURL)
		if err != nil {
			return ""
		}
		if encoded := parsed.Query().Get("uddg"); encoded != "" {
			return encoded
		}
	}
	if strings.HasPrefix(ddgURL, "http://") || strings.HasPrefix(ddgURL, "https://") {
		return ddgURL
	}
	return ""
}

// cleanHTML removes HTML tags and decodes entities.
func cleanHTML(s string) string {
	text := ddgTagRegex.ReplaceAllString(s, "")
	text = html.UnescapeString(text)
	text = ddgWhitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// formatResults formats search results as readable text for the provider.
func formatResults(query string, results []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for: %s\n", query)
	fmt.Fprintf(&b, "Found %d results\n\n", len(results))
	if len(results) == 0 {
		b.WriteString("No results found.\n")
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n    URL: %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "    %s\n", util.TruncateRunes(r.Snippet, 300))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// WebSearchTool is the fixed web search descriptor. It is injected on its own
// whenever web search is enabled, independent of the general tool flag.
var WebSearchTool = &Tool{
	Name:             WebSearchName,
	ShortDescription: "Search the web for current information such as news, education policy or research.",
	Description: `Search the web for current information.

Use for questions the kindergarten directory cannot answer: recent news,
education policy, parenting research or public guidance.`,
	Schema: Schema{
		Parameters: []Parameter{
			{
				Name:        "query",
				Type:        "string",
				Required:    true,
				Description: "The search query in natural language or keywords.",
			},
			{
				Name:        "searchType",
				Type:        "string",
				Required:    false,
				Description: "Kind of search to run.",
				Default:     "general",
				Enum:        searchTypes,
			},
		},
	},
	RiskLevel: RiskLow,
	MinRole:   RoleUser,
	Keywords:  []string{"搜索", "网上", "最新", "新闻", "政策", "search", "news", "policy"},
	Executor:  &DuckDuckGoSearchExecutor{},
}
