// Package discovery finds candidate sources for a domain across academic,
// educational and general provider pools, ranks them by quality and cost,
// and enforces source-type diversity in the result.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/graphmind-ai/graphmind/breaker"
	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/ratelimit"
)

const (
	maxConcurrentQueries = 5
	queryAssistTimeout   = 5 * time.Second
)

// Request asks for sources covering one domain.
type Request struct {
	Domain      string
	MaxSources  int
	MinQuality  float64
	SourceTypes []string
}

// Stats summarizes one discovery run.
type Stats struct {
	ProvidersQueried int      `json:"providers_queried"`
	ProvidersSkipped int      `json:"providers_skipped"`
	ProvidersFailed  int      `json:"providers_failed"`
	Candidates       int      `json:"candidates"`
	Returned         int      `json:"returned"`
	AvgQuality       float64  `json:"avg_quality"`
	Skipped          []string `json:"skipped,omitempty"`
}

// Result is the ranked source list with run statistics and advice.
type Result struct {
	Sources         []Source `json:"sources"`
	Stats           Stats    `json:"stats"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// QueryAssist optionally proposes extra search queries (model-backed). A
// timeout or error yields the deterministic queries only, never a failure.
type QueryAssist func(ctx context.Context, domain string) ([]string, error)

// Discoverer fans search queries out across providers, consulting the rate
// limiter and circuit breakers before each dispatch.
type Discoverer struct {
	providers     []Provider
	limiter       *ratelimit.Limiter
	breakers      *breaker.Breakers
	assist        QueryAssist
	assistTimeout time.Duration
	log           *logrus.Entry
}

// New builds a discoverer.
func New(providers []Provider, limiter *ratelimit.Limiter, breakers *breaker.Breakers, assist QueryAssist) *Discoverer {
	return &Discoverer{
		providers:     providers,
		limiter:       limiter,
		breakers:      breakers,
		assist:        assist,
		assistTimeout: queryAssistTimeout,
		log:           common.ServiceLogger("discovery"),
	}
}

// Queries returns the deterministic search variants for a domain, extended
// by the assist function when it answers within its timeout.
func (d *Discoverer) Queries(ctx context.Context, domain string) []string {
	queries := []string{
		domain,
		domain + " introduction",
		domain + " review",
		domain + " fundamentals",
	}
	if d.assist == nil {
		return queries
	}

	assistCtx, cancel := context.WithTimeout(ctx, d.assistTimeout)
	defer cancel()
	extra, err := d.assist(assistCtx, domain)
	if err != nil {
		d.log.WithError(err).WithField("domain", domain).Debug("query assist unavailable, using deterministic queries")
		return queries
	}
	seen := make(map[string]bool, len(queries))
	for _, q := range queries {
		seen[q] = true
	}
	for _, q := range extra {
		if q != "" && !seen[q] {
			seen[q] = true
			queries = append(queries, q)
		}
	}
	return queries
}

// Discover runs one discovery cycle for the request's domain.
func (d *Discoverer) Discover(ctx context.Context, req Request) (*Result, error) {
	if req.Domain == "" {
		return nil, common.NewValidationError("domain", "missing")
	}
	if req.MaxSources <= 0 {
		req.MaxSources = 10
	}

	queries := d.Queries(ctx, req.Domain)
	primary := queries[0]

	result := &Result{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)

	for _, provider := range d.providers {
		if allowed, reason := d.limiter.Check(provider.Name(), req.Domain); !allowed {
			mu.Lock()
			result.Stats.ProvidersSkipped++
			result.Stats.Skipped = append(result.Stats.Skipped, reason)
			mu.Unlock()
			d.log.WithField("provider", provider.Name()).Debug("provider rate limited, skipping")
			continue
		}
		if !d.breakers.Allow(provider.Name()) {
			mu.Lock()
			result.Stats.ProvidersSkipped++
			result.Stats.Skipped = append(result.Stats.Skipped, fmt.Sprintf("circuit open for %s", provider.Name()))
			mu.Unlock()
			continue
		}

		provider := provider
		d.limiter.Record(provider.Name(), req.Domain)
		g.Go(func() error {
			sources, err := provider.Search(gctx, primary, req.MaxSources)
			mu.Lock()
			defer mu.Unlock()
			result.Stats.ProvidersQueried++
			if err != nil {
				result.Stats.ProvidersFailed++
				d.breakers.RecordFailure(provider.Name())
				d.log.WithError(err).WithField("provider", provider.Name()).Warn("provider query failed")
				return nil
			}
			d.breakers.RecordSuccess(provider.Name())
			for _, s := range sources {
				result.Sources = append(result.Sources, Prioritize(s))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Sources = filterByType(result.Sources, req.SourceTypes)
	result.Stats.Candidates = len(result.Sources)
	result.Sources = RankDiverse(result.Sources, req.MaxSources)
	result.Stats.Returned = len(result.Sources)
	result.Stats.AvgQuality = avgQuality(result.Sources)
	result.Recommendations = recommendations(result, req)

	d.log.WithFields(logrus.Fields{
		"domain":     req.Domain,
		"candidates": result.Stats.Candidates,
		"returned":   result.Stats.Returned,
	}).Info("discovery cycle complete")
	return result, nil
}

func filterByType(sources []Source, types []string) []Source {
	if len(types) == 0 {
		return sources
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	out := sources[:0]
	for _, s := range sources {
		if allowed[s.SourceType] {
			out = append(out, s)
		}
	}
	return out
}

func avgQuality(sources []Source) float64 {
	if len(sources) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range sources {
		total += s.Quality
	}
	return total / float64(len(sources))
}

func recommendations(result *Result, req Request) []string {
	var recs []string
	if req.MinQuality > 0 && result.Stats.AvgQuality < req.MinQuality {
		recs = append(recs, fmt.Sprintf("quality below threshold (avg %.2f < %.2f)", result.Stats.AvgQuality, req.MinQuality))
	}
	types := make(map[string]bool)
	for _, s := range result.Sources {
		types[s.SourceType] = true
	}
	if len(result.Sources) >= 3 && len(types) < 2 {
		recs = append(recs, "low diversity: all sources share one type")
	}
	if result.Stats.ProvidersSkipped > 0 {
		recs = append(recs, fmt.Sprintf("%d providers skipped by limits or breakers", result.Stats.ProvidersSkipped))
	}
	return recs
}
