// Package wikipedia queries the MediaWiki action API for page summaries.
package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// NoResult is returned as text when a query matches nothing.
const NoResult = "No good Wikipedia Search Result was found"

const (
	defaultTopK     = 3
	defaultMaxChars = 4000
	maxQueryLength  = 300
)

// Client searches one Wikipedia language edition.
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
	topK       int
	maxChars   int
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the api.php URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header required by Wikimedia.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for lang (for example "en").
func NewClient(lang string, opts ...Option) *Client {
	if lang == "" {
		lang = "en"
	}
	c := &Client{
		endpoint:   fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		userAgent:  "research-assistant/0.1",
		topK:       defaultTopK,
		maxChars:   defaultMaxChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
	Error *apiError `json:"error"`
}

type extractResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

// Search returns up to three "Page:/Summary:" blocks for query.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) > maxQueryLength {
		query = string([]rune(query)[:maxQueryLength])
	}
	if query == "" {
		return NoResult, nil
	}

	var sr searchResponse
	if err := c.get(ctx, url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {fmt.Sprint(c.topK)},
	}, &sr); err != nil {
		return "", err
	}
	if sr.Error != nil {
		return "", fmt.Errorf("wikipedia search: %s: %s", sr.Error.Code, sr.Error.Info)
	}
	if len(sr.Query.Search) == 0 {
		return NoResult, nil
	}

	titles := make([]string, 0, len(sr.Query.Search))
	for _, hit := range sr.Query.Search {
		titles = append(titles, hit.Title)
	}

	var er extractResponse
	if err := c.get(ctx, url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"titles":      {strings.Join(titles, "|")},
	}, &er); err != nil {
		return "", err
	}
	if er.Error != nil {
		return "", fmt.Errorf("wikipedia extracts: %s: %s", er.Error.Code, er.Error.Info)
	}

	extracts := make(map[string]string, len(er.Query.Pages))
	for _, p := range er.Query.Pages {
		if !p.Missing {
			extracts[p.Title] = strings.TrimSpace(p.Extract)
		}
	}

	var blocks []string
	for _, title := range titles {
		summary, ok := extracts[title]
		if !ok || summary == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Page: %s\nSummary: %s", title, summary))
	}
	if len(blocks) == 0 {
		return NoResult, nil
	}
	out := strings.Join(blocks, "\n\n")
	if utf8.RuneCountInString(out) > c.maxChars {
		out = string([]rune(out)[:c.maxChars])
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, params url.Values, v any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wikipedia request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("wikipedia returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode wikipedia response: %w", err)
	}
	return nil
}
