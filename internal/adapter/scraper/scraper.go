// Package scraper fetches web pages and reduces them to readable text.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// TruncationMarker is appended to content cut at the character cap.
const TruncationMarker = "\n\n... (Content truncated)"

const (
	// DefaultMaxChars is the content cap in characters.
	DefaultMaxChars = 10000
	maxBodyBytes    = 5 << 20
	maxRedirects    = 10
)

// URLGuard vets a URL before the scraper follows it.
type URLGuard func(ctx context.Context, u *url.URL) error

// Scraper turns URLs into text results for the assistant.
type Scraper struct {
	httpClient    *http.Client
	userAgent     string
	maxChars      int
	redirectGuard URLGuard
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Scraper) { s.httpClient = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Scraper) { s.userAgent = ua }
}

// WithMaxChars sets the content cap.
func WithMaxChars(n int) Option {
	return func(s *Scraper) {
		if n > 0 {
			s.maxChars = n
		}
	}
}

// WithRedirectGuard checks every redirect target with guard before it is followed.
func WithRedirectGuard(guard URLGuard) Option {
	return func(s *Scraper) { s.redirectGuard = guard }
}

// New creates a Scraper.
func New(opts ...Option) *Scraper {
	s := &Scraper{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		userAgent:  "research-assistant/0.1",
		maxChars:   DefaultMaxChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	// The client may be shared with other tools; redirect handling is ours.
	client := *s.httpClient
	client.CheckRedirect = s.checkRedirect
	s.httpClient = &client
	return s
}

func (s *Scraper) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to unsupported url scheme %q", req.URL.Scheme)
	}
	if s.redirectGuard != nil {
		if err := s.redirectGuard(req.Context(), req.URL); err != nil {
			return fmt.Errorf("redirect to %s: %w", req.URL.Redacted(), err)
		}
	}
	return nil
}

// Read fetches rawURL and returns the formatted tool output. Failures are
// described in the returned text rather than returned as errors.
func (s *Scraper) Read(ctx context.Context, rawURL string) string {
	content, err := s.Extract(ctx, rawURL)
	if err != nil {
		return fmt.Sprintf("Error scraping %s: %v", rawURL, err)
	}
	if content == "" {
		return fmt.Sprintf("No content found at %s.", rawURL)
	}
	return fmt.Sprintf("Content from %s:\n\n%s", rawURL, Truncate(content, s.maxChars))
}

// Extract downloads rawURL and returns its visible text.
func (s *Scraper) Extract(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		return normalize(string(data)), nil
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	return ExtractText(doc), nil
}

// ExtractText returns the visible text of doc with one line per text block.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, iframe, svg, template, head").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find("br, p, div, li, tr, h1, h2, h3, h4, h5, h6, section, article, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return normalize(root.Text())
}

// normalize trims every line and collapses runs of blank lines.
func normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Truncate cuts content to limit characters and appends TruncationMarker.
// Content within the limit is returned unchanged.
func Truncate(content string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return content
	}
	return string([]rune(content)[:limit]) + TruncationMarker
}
