/*
Logic:       Scraper worker: fetch a URL and extract a bounded plain-text
             excerpt. Intentionally thin — this orchestrator's job is
             routing and budget enforcement, not HTML parsing, so
             extraction is a crude tag-stripper rather than a full DOM
             parser.
Root Cause:  Spec §3 WorkerDescriptor kind scraper, used after a
             web-search step in research workflows to pull full page
             content for synthesis.
Context:     Grounded on the same HTTP-call-then-classify-status idiom as
             the other worker kinds here (tokenhub's openai adapter); no
             file anywhere in the pack performs HTML scraping, so the
             extraction step is stdlib-only by necessity (see DESIGN.md).
*/
package workers

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/modelmanager"
	"github.com/vantage-ai/orchestrator/orcherr"
)

const maxScrapeBytes = 512 * 1024
const maxExcerptChars = 8000

var tagPattern = regexp.MustCompile(`<[^>]*>`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// Scraper fetches a URL and returns a bounded plain-text excerpt.
type Scraper struct {
	transport *TransportPool
}

// NewScraper constructs a Scraper worker kind.
func NewScraper(transport *TransportPool) *Scraper {
	return &Scraper{transport: transport}
}

func (s *Scraper) Generate(ctx context.Context, workerID, url string, params modelmanager.GenerateParams) (execstate.NodeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return execstate.NodeResult{}, orcherr.New(orcherr.Unknown, "invalid scrape target: "+url)
	}
	req.Header.Set("User-Agent", "orchestrator-scraper/1.0")

	cfg := DefaultPoolConfig()
	cfg.Timeout = 20 * time.Second
	client := s.transport.ClientFor(workerID, cfg)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.WorkerTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return execstate.NodeResult{}, orcherr.New(orcherr.WorkerTimeout, "scrape target returned 5xx")
	}
	if resp.StatusCode >= 400 {
		return execstate.NodeResult{}, orcherr.New(orcherr.Unknown, "scrape target returned 4xx")
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxScrapeBytes))
	if err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.Unknown, err)
	}

	excerpt := extractText(string(raw))
	return execstate.NodeResult{
		Success:       true,
		Confidence:    0.7,
		Data:          excerpt,
		ExecutionTime: time.Since(start),
	}, nil
}

func extractText(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if len(text) > maxExcerptChars {
		text = text[:maxExcerptChars]
	}
	return text
}
