// Package ratelimit provides per-source sliding windows for upstream
// providers. The limiter is advisory: Check never blocks or sleeps, it only
// reports whether a request may proceed and why not.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/graphmind-ai/graphmind/common"
)

// Limits caps one source's request rate.
type Limits struct {
	PerMinute int
	PerHour   int
}

// defaultLimits are the provider caps. Unknown sources use defaultSource.
var defaultLimits = map[string]Limits{
	"arxiv":           {PerMinute: 10, PerHour: 100},
	"semanticscholar": {PerMinute: 100, PerHour: 1000},
	"openalex":        {PerMinute: 100, PerHour: 1000},
	"crossref":        {PerMinute: 50, PerHour: 500},
	"wikipedia":       {PerMinute: 200, PerHour: 5000},
}

var defaultSource = Limits{PerMinute: 30, PerHour: 300}

// Limiter tracks request timestamps per source and per (source, domain).
// A domain may use at most half a source's per-minute cap so one domain
// cannot monopolize a provider.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limits
	sources map[string][]time.Time
	domains map[string][]time.Time
	now     func() time.Time
}

// New builds a limiter with the default provider caps.
func New() *Limiter {
	limits := make(map[string]Limits, len(defaultLimits))
	for k, v := range defaultLimits {
		limits[k] = v
	}
	return &Limiter{
		limits:  limits,
		sources: make(map[string][]time.Time),
		domains: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// SetLimits overrides one source's caps.
func (l *Limiter) SetLimits(source string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[source] = limits
}

// Check reports whether a request to source (optionally on behalf of a
// domain) is currently allowed. It does not record the request.
func (l *Limiter) Check(source, domain string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	limits := l.limitsFor(source)

	minuteCount := countSince(l.sources[source], now.Add(-time.Minute))
	if minuteCount >= limits.PerMinute {
		return false, fmt.Sprintf("%d/%d requests per minute for %s", minuteCount, limits.PerMinute, source)
	}
	hourCount := countSince(l.sources[source], now.Add(-time.Hour))
	if hourCount >= limits.PerHour {
		return false, fmt.Sprintf("%d/%d requests per hour for %s", hourCount, limits.PerHour, source)
	}

	if domain != "" {
		domainCap := limits.PerMinute / 2
		if domainCap < 1 {
			domainCap = 1
		}
		domainCount := countSince(l.domains[domainKey(source, domain)], now.Add(-time.Minute))
		if domainCount >= domainCap {
			return false, fmt.Sprintf("%d/%d requests per minute for %s (domain %s)", domainCount, domainCap, source, domain)
		}
	}
	return true, ""
}

// CheckErr wraps Check in the typed error used across component boundaries.
func (l *Limiter) CheckErr(source, domain string) error {
	allowed, reason := l.Check(source, domain)
	if !allowed {
		return &common.RateLimitedError{Source: source, Reason: reason}
	}
	return nil
}

// Record notes one request and lazily trims entries older than an hour.
func (l *Limiter) Record(source, domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-time.Hour)
	l.sources[source] = append(trimBefore(l.sources[source], cutoff), now)
	if domain != "" {
		key := domainKey(source, domain)
		l.domains[key] = append(trimBefore(l.domains[key], cutoff), now)
	}
}

// Stats returns current per-minute and per-hour counts for a source.
func (l *Limiter) Stats(source string) (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	return countSince(l.sources[source], now.Add(-time.Minute)),
		countSince(l.sources[source], now.Add(-time.Hour))
}

func (l *Limiter) limitsFor(source string) Limits {
	if limits, ok := l.limits[source]; ok {
		return limits
	}
	return defaultSource
}

func domainKey(source, domain string) string { return source + "|" + domain }

func countSince(stamps []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range stamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func trimBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	out := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}
