package tools

import (
	"context"
	"fmt"
)

// Builtin tool names.
const (
	WikipediaSearch  = "wikipedia_search"
	DuckDuckGoSearch = "duckduckgo_search"
	GetWebContent    = "get_web_content"
)

// Searcher answers a free-text query with a text digest.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// PageReader turns a URL into the text handed back to the assistant.
// It reports failures inside the returned text.
type PageReader interface {
	Read(ctx context.Context, url string) string
}

// WikipediaArgs are the arguments of wikipedia_search.
type WikipediaArgs struct {
	Query string `json:"query" jsonschema:"description=The search query for Wikipedia."`
}

// SearchArgs are the arguments of duckduckgo_search.
type SearchArgs struct {
	Query string `json:"query" jsonschema:"description=The search query."`
}

// WebContentArgs are the arguments of get_web_content.
type WebContentArgs struct {
	URL string `json:"url" jsonschema:"description=The URL of the website to scrape."`
}

// Builtins carries the backends of the three research tools.
type Builtins struct {
	Wikipedia  Searcher
	DuckDuckGo Searcher
	Web        PageReader
	// Cache fronts the two search tools when set.
	Cache *ResultCache
}

// RegisterBuiltins registers wikipedia_search, duckduckgo_search and
// get_web_content on reg.
func RegisterBuiltins(reg *Registry, b Builtins) error {
	if b.Wikipedia == nil || b.DuckDuckGo == nil || b.Web == nil {
		return fmt.Errorf("all builtin tool backends are required")
	}

	wiki, err := NewTool(WikipediaSearch,
		"Search Wikipedia for a query.",
		func(ctx context.Context, args WikipediaArgs) (string, error) {
			return b.Wikipedia.Search(ctx, args.Query)
		})
	if err != nil {
		return err
	}
	ddg, err := NewTool(DuckDuckGoSearch,
		"Search the web using DuckDuckGo to find relevant information or URLs.",
		func(ctx context.Context, args SearchArgs) (string, error) {
			return b.DuckDuckGo.Search(ctx, args.Query)
		})
	if err != nil {
		return err
	}
	web, err := NewTool(GetWebContent,
		"Scrapes and extracts complete text content from a given URL.  Preserves all original formatting and structure. "+
			"Returns the full page content without summarization or truncation. Ideal for gathering comprehensive information from web sources.",
		func(ctx context.Context, args WebContentArgs) (string, error) {
			return b.Web.Read(ctx, args.URL), nil
		})
	if err != nil {
		return err
	}

	for _, tool := range []Tool{b.Cache.Wrap(wiki), b.Cache.Wrap(ddg), web} {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
