package discovery

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	userAgent      = "graphmind/1.0 (knowledge-graph ingestion; +https://github.com/graphmind-ai/graphmind)"
	requestTimeout = 15 * time.Second
)

// Provider pools.
const (
	PoolAcademic    = "academic"
	PoolEducational = "educational"
	PoolGeneral     = "general"
)

// Source is one discovered candidate document.
type Source struct {
	URL          string  `json:"url"`
	Title        string  `json:"title"`
	Provider     string  `json:"provider"`
	Pool         string  `json:"pool"`
	SourceType   string  `json:"source_type"`
	Year         int     `json:"year,omitempty"`
	Citations    int     `json:"citations,omitempty"`
	PeerReviewed bool    `json:"peer_reviewed,omitempty"`
	Free         bool    `json:"free,omitempty"`
	Paywalled    bool    `json:"paywalled,omitempty"`
	Quality      float64 `json:"quality"`
	Cost         float64 `json:"cost"`
	Priority     float64 `json:"priority"`
	Error        string  `json:"error,omitempty"`
}

// Provider queries one upstream catalog.
type Provider interface {
	Name() string
	Pool() string
	Search(ctx context.Context, query string, limit int) ([]Source, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, req.URL.Host)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ArxivProvider searches the arXiv Atom API.
type ArxivProvider struct {
	client  *http.Client
	baseURL string
}

func NewArxivProvider() *ArxivProvider {
	return &ArxivProvider{client: newHTTPClient(), baseURL: "https://export.arxiv.org/api/query"}
}

func (p *ArxivProvider) Name() string { return "arxiv" }
func (p *ArxivProvider) Pool() string { return PoolAcademic }

func (p *ArxivProvider) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	u := fmt.Sprintf("%s?search_query=all:%s&max_results=%d", p.baseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from arxiv", resp.StatusCode)
	}

	var feed struct {
		Entries []struct {
			ID        string `xml:"id"`
			Title     string `xml:"title"`
			Published string `xml:"published"`
		} `xml:"entry"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to parse arxiv feed: %w", err)
	}

	sources := make([]Source, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		year := 0
		if len(e.Published) >= 4 {
			fmt.Sscanf(e.Published[:4], "%d", &year)
		}
		sources = append(sources, Source{
			URL:        e.ID,
			Title:      strings.TrimSpace(e.Title),
			Provider:   p.Name(),
			Pool:       p.Pool(),
			SourceType: "paper",
			Year:       year,
			Free:       true,
		})
	}
	return sources, nil
}

// SemanticScholarProvider searches the Semantic Scholar graph API.
type SemanticScholarProvider struct {
	client  *http.Client
	baseURL string
}

func NewSemanticScholarProvider() *SemanticScholarProvider {
	return &SemanticScholarProvider{client: newHTTPClient(), baseURL: "https://api.semanticscholar.org/graph/v1"}
}

func (p *SemanticScholarProvider) Name() string { return "semanticscholar" }
func (p *SemanticScholarProvider) Pool() string { return PoolAcademic }

func (p *SemanticScholarProvider) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	u := fmt.Sprintf("%s/paper/search?query=%s&limit=%d&fields=title,url,year,citationCount,isOpenAccess",
		p.baseURL, url.QueryEscape(query), limit)

	var payload struct {
		Data []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Year          int    `json:"year"`
			CitationCount int    `json:"citationCount"`
			IsOpenAccess  bool   `json:"isOpenAccess"`
		} `json:"data"`
	}
	if err := getJSON(ctx, p.client, u, &payload); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(payload.Data))
	for _, d := range payload.Data {
		if d.URL == "" {
			continue
		}
		sources = append(sources, Source{
			URL:          d.URL,
			Title:        d.Title,
			Provider:     p.Name(),
			Pool:         p.Pool(),
			SourceType:   "paper",
			Year:         d.Year,
			Citations:    d.CitationCount,
			PeerReviewed: true,
			Free:         d.IsOpenAccess,
		})
	}
	return sources, nil
}

// OpenAlexProvider searches the OpenAlex works API.
type OpenAlexProvider struct {
	client  *http.Client
	baseURL string
}

func NewOpenAlexProvider() *OpenAlexProvider {
	return &OpenAlexProvider{client: newHTTPClient(), baseURL: "https://api.openalex.org"}
}

func (p *OpenAlexProvider) Name() string { return "openalex" }
func (p *OpenAlexProvider) Pool() string { return PoolAcademic }

func (p *OpenAlexProvider) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	u := fmt.Sprintf("%s/works?search=%s&per-page=%d", p.baseURL, url.QueryEscape(query), limit)

	var payload struct {
		Results []struct {
			DisplayName     string `json:"display_name"`
			DOI             string `json:"doi"`
			PublicationYear int    `json:"publication_year"`
			CitedByCount    int    `json:"cited_by_count"`
			OpenAccess      struct {
				IsOA bool `json:"is_oa"`
			} `json:"open_access"`
		} `json:"results"`
	}
	if err := getJSON(ctx, p.client, u, &payload); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.DOI == "" {
			continue
		}
		sources = append(sources, Source{
			URL:          r.DOI,
			Title:        r.DisplayName,
			Provider:     p.Name(),
			Pool:         p.Pool(),
			SourceType:   "paper",
			Year:         r.PublicationYear,
			Citations:    r.CitedByCount,
			PeerReviewed: true,
			Free:         r.OpenAccess.IsOA,
		})
	}
	return sources, nil
}

// CrossrefProvider searches the Crossref works API.
type CrossrefProvider struct {
	client  *http.Client
	baseURL string
}

func NewCrossrefProvider() *CrossrefProvider {
	return &CrossrefProvider{client: newHTTPClient(), baseURL: "https://api.crossref.org"}
}

func (p *CrossrefProvider) Name() string { return "crossref" }
func (p *CrossrefProvider) Pool() string { return PoolAcademic }

func (p *CrossrefProvider) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	u := fmt.Sprintf("%s/works?query=%s&rows=%d", p.baseURL, url.QueryEscape(query), limit)

	var payload struct {
		Message struct {
			Items []struct {
				Title             []string `json:"title"`
				URL               string   `json:"URL"`
				ReferencedByCount int      `json:"is-referenced-by-count"`
			} `json:"items"`
		} `json:"message"`
	}
	if err := getJSON(ctx, p.client, u, &payload); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(payload.Message.Items))
	for _, item := range payload.Message.Items {
		if item.URL == "" || len(item.Title) == 0 {
			continue
		}
		sources = append(sources, Source{
			URL:          item.URL,
			Title:        item.Title[0],
			Provider:     p.Name(),
			Pool:         p.Pool(),
			SourceType:   "paper",
			Citations:    item.ReferencedByCount,
			PeerReviewed: true,
		})
	}
	return sources, nil
}

// WikipediaProvider searches Wikipedia articles.
type WikipediaProvider struct {
	client  *http.Client
	baseURL string
}

func NewWikipediaProvider() *WikipediaProvider {
	return &WikipediaProvider{client: newHTTPClient(), baseURL: "https://en.wikipedia.org"}
}

func (p *WikipediaProvider) Name() string { return "wikipedia" }
func (p *WikipediaProvider) Pool() string { return PoolGeneral }

func (p *WikipediaProvider) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	u := fmt.Sprintf("%s/w/api.php?action=query&list=search&srsearch=%s&srlimit=%d&format=json",
		p.baseURL, url.QueryEscape(query), limit)

	var payload struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := getJSON(ctx, p.client, u, &payload); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(payload.Query.Search))
	for _, s := range payload.Query.Search {
		sources = append(sources, Source{
			URL:        p.baseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(s.Title, " ", "_")),
			Title:      s.Title,
			Provider:   p.Name(),
			Pool:       p.Pool(),
			SourceType: "encyclopedia",
			Free:       true,
		})
	}
	return sources, nil
}

// WikiversityProvider searches Wikiversity course material through the same
// MediaWiki API.
type WikiversityProvider struct {
	client  *http.Client
	baseURL string
}

func NewWikiversityProvider() *WikiversityProvider {
	return &WikiversityProvider{client: newHTTPClient(), baseURL: "https://en.wikiversity.org"}
}

func (p *WikiversityProvider) Name() string { return "wikiversity" }
func (p *WikiversityProvider) Pool() string { return PoolEducational }

func (p *WikiversityProvider) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	u := fmt.Sprintf("%s/w/api.php?action=query&list=search&srsearch=%s&srlimit=%d&format=json",
		p.baseURL, url.QueryEscape(query), limit)

	var payload struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := getJSON(ctx, p.client, u, &payload); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(payload.Query.Search))
	for _, s := range payload.Query.Search {
		sources = append(sources, Source{
			URL:        p.baseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(s.Title, " ", "_")),
			Title:      s.Title,
			Provider:   p.Name(),
			Pool:       p.Pool(),
			SourceType: "course",
			Free:       true,
		})
	}
	return sources, nil
}

// DefaultProviders returns the standard provider set across all three pools.
func DefaultProviders() []Provider {
	return []Provider{
		NewArxivProvider(),
		NewSemanticScholarProvider(),
		NewOpenAlexProvider(),
		NewCrossrefProvider(),
		NewWikiversityProvider(),
		NewWikipediaProvider(),
	}
}
