// Package fetch retrieves selected source URLs with egress checks, caching,
// paywall detection and HTML-to-text extraction. Fetch failures are results,
// not errors: a batch never fails because one page did.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/graphmind-ai/graphmind/cache"
	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/egress"
)

const (
	userAgent          = "graphmind/1.0 (knowledge-graph ingestion; +https://github.com/graphmind-ai/graphmind)"
	requestTimeout     = 20 * time.Second
	maxBodyBytes       = 4 << 20
	maxConcurrent      = 5
	defaultMaxLength   = 50000
	retryBackoffBase   = 500 * time.Millisecond
	cacheTypeDocument  = "doc"
)

// Metadata describes how a fetch result was produced.
type Metadata struct {
	Title     string    `json:"title,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Truncated bool      `json:"truncated,omitempty"`
	FromCache bool      `json:"from_cache,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// Result is the outcome for one URL.
type Result struct {
	URL        string   `json:"url"`
	Content    string   `json:"content,omitempty"`
	Accessible bool     `json:"accessible"`
	Error      string   `json:"error,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Metadata   Metadata `json:"metadata"`
}

// Fetcher retrieves pages within the egress allowlist.
type Fetcher struct {
	client *http.Client
	guard  *egress.Guard
	cache  *cache.Cache
	log    *logrus.Entry
	sleep  func(time.Duration)
}

// New builds a fetcher.
func New(guard *egress.Guard, c *cache.Cache) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: requestTimeout},
		guard:  guard,
		cache:  c,
		log:    common.ServiceLogger("fetch"),
		sleep:  time.Sleep,
	}
}

// Fetch retrieves one URL, truncating content to maxLength runes.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxLength int) Result {
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	if !f.guard.IsURLAllowed(rawURL) {
		return Result{URL: rawURL, Error: "URL outside egress allowlist", Metadata: Metadata{FetchedAt: time.Now().UTC()}}
	}

	cacheArgs := []string{rawURL, strconv.Itoa(maxLength)}
	if data, ok := f.cache.Get(ctx, cacheTypeDocument, cacheArgs...); ok {
		var cached Result
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Metadata.FromCache = true
			return cached
		}
	}

	body, err := f.get(ctx, rawURL)
	if err != nil {
		f.log.WithError(err).WithField("url", rawURL).Warn("fetch failed")
		return Result{
			URL: rawURL, Error: common.Truncate(err.Error(), common.MaxTransportMessageLen),
			Metadata: Metadata{FetchedAt: time.Now().UTC()},
		}
	}

	if paywall := egress.DetectPaywall(body); paywall.IsPaywall {
		// Paywalled pages are recorded but never cached as content.
		return Result{
			URL: rawURL, Error: "Paywall detected", Confidence: paywall.Confidence,
			Metadata: Metadata{FetchedAt: time.Now().UTC()},
		}
	}

	title, text, degraded := extractText(body)
	text = egress.SanitizeContent(text, maxLength)

	result := Result{
		URL: rawURL, Content: text, Accessible: true,
		Metadata: Metadata{
			Title:     title,
			FetchedAt: time.Now().UTC(),
			Truncated: len([]rune(text)) >= maxLength,
			Degraded:  degraded,
		},
	}
	if data, err := json.Marshal(result); err == nil {
		f.cache.Set(ctx, cacheTypeDocument, data, cacheArgs...)
	}
	return result
}

// FetchAll retrieves a batch with bounded concurrency, preserving input
// order in the results.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, maxLength int) []Result {
	results := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = f.Fetch(gctx, u, maxLength)
			return nil
		})
	}
	g.Wait()
	return results
}

// get issues the request with one retry for transient failures.
func (f *Fetcher) get(ctx context.Context, rawURL string) (string, error) {
	body, err := f.getOnce(ctx, rawURL)
	if err == nil || !isTransient(err) {
		return body, err
	}
	f.sleep(retryBackoffBase + time.Duration(rand.Int63n(int64(retryBackoffBase))))
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return f.getOnce(ctx, rawURL)
}

func (f *Fetcher) getOnce(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d from %s", resp.StatusCode, req.URL.Host)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "timed out", "connection reset", "connection refused",
		"unexpected eof", "status 500", "status 502", "status 503", "status 504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// extractText pulls readable text from HTML with the tolerant parser,
// falling back to a minimal tag stripper. It never fails; degraded marks
// the fallback path.
func extractText(body string) (title, text string, degraded bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", stripTags(body), true
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "object", "embed", "form":
				return
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "tr":
				sb.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text = strings.TrimSpace(sb.String())
	if text == "" {
		return title, stripTags(body), true
	}
	return title, text, false
}

// stripTags is the last-resort extractor: drop everything between < and >.
func stripTags(body string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range body {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			sb.WriteRune(' ')
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
