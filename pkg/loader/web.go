package loader

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/schema"
)

// DefaultSelector keeps the main article body of a typical page.
const DefaultSelector = "article, main"

// Web fetches a single page and extracts the text of the regions matching
// Selector. An empty Selector falls back to DefaultSelector; if nothing on the
// page matches, the whole body is kept instead.
type Web struct {
	URL      string
	Selector string
	Client   *http.Client
}

func NewWeb(url, selector string) *Web {
	return &Web{
		URL:      url,
		Selector: selector,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (l *Web) Load(ctx context.Context) ([]schema.Document, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", l.URL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", l.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s returned status %d", l.URL, resp.StatusCode)
	}

	page, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", l.URL, err)
	}

	title := strings.TrimSpace(page.Find("title").First().Text())

	selector := l.Selector
	if selector == "" {
		selector = DefaultSelector
	}

	region := page.Find(selector)
	if region.Length() == 0 {
		region = page.Find("body")
	}

	var parts []string
	region.Each(func(_ int, s *goquery.Selection) {
		if text := collapseWhitespace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	text := strings.Join(parts, "\n\n")
	if text == "" {
		return nil, fmt.Errorf("no text extracted from %s with selector %q", l.URL, selector)
	}

	doc := schema.Document{
		PageContent: text,
		Metadata: map[string]any{
			"source": l.URL,
			"title":  title,
		},
	}

	return []schema.Document{doc}, nil
}

// collapseWhitespace squeezes intra-line whitespace and runs of blank lines,
// keeping at most one blank line between paragraphs.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")

	var out []string
	blank := true // swallow leading blank lines
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}

	// drop a trailing blank line
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}

	return strings.Join(out, "\n")
}
