// Package cost tracks model spend. Every model call is recorded with its
// token counts and USD cost and rolled up by (date, domain, queue) so daily
// budget checks are O(1).
package cost

import (
	"sync"
	"time"
)

// Pricing is USD per 1M tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// pricingTable maps model names to pricing. Unknown models fall back to
// "default" and are tracked, never rejected.
var pricingTable = map[string]Pricing{
	"gpt-4o":                     {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":                {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4.1":                    {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"gpt-4.1-mini":               {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"o3-mini":                    {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"claude-sonnet-4-20250514":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-opus-4-20250514":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"moonshot-v1-8k":             {InputPerMTok: 0.20, OutputPerMTok: 0.20},
	"moonshot-v1-32k":            {InputPerMTok: 1.00, OutputPerMTok: 1.00},
	"text-embedding-3-small":     {InputPerMTok: 0.02, OutputPerMTok: 0.00},
	"default":                    {InputPerMTok: 3.00, OutputPerMTok: 15.00},
}

// PricingFor returns the pricing for a model, falling back to "default".
func PricingFor(model string) Pricing {
	if p, ok := pricingTable[model]; ok {
		return p
	}
	return pricingTable["default"]
}

// Estimate computes the USD cost for a token count under a model's pricing.
func Estimate(model string, inputTokens, outputTokens int) float64 {
	p := PricingFor(model)
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

// CallRecord is one tracked model call.
type CallRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Domain       string    `json:"domain,omitempty"`
	Queue        string    `json:"queue,omitempty"`
	Agent        string    `json:"agent,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

type dailyKey struct {
	date   string
	domain string
	queue  string
}

// Stats is the tracker's aggregate view.
type Stats struct {
	TotalUSD     float64            `json:"total_usd"`
	TotalCalls   int                `json:"total_calls"`
	FailedCalls  int                `json:"failed_calls"`
	TodayUSD     float64            `json:"today_usd"`
	DomainCosts  map[string]float64 `json:"domain_costs"`
	QueueCosts   map[string]float64 `json:"queue_costs"`
	ByModelCalls map[string]int     `json:"by_model_calls"`
}

// Tracker accumulates call records and rollups. All methods are safe for
// concurrent use.
type Tracker struct {
	mu sync.Mutex

	records     []CallRecord
	maxRecords  int
	daily       map[dailyKey]float64
	domainCosts map[string]float64
	queueCosts  map[string]float64
	agentDaily  map[string]float64
	modelCalls  map[string]int
	totalUSD    float64
	failed      int
	totalCalls  int
	now         func() time.Time
}

// NewTracker builds an empty tracker keeping the last 1000 call records.
func NewTracker() *Tracker {
	return &Tracker{
		maxRecords:  1000,
		daily:       make(map[dailyKey]float64),
		domainCosts: make(map[string]float64),
		queueCosts:  make(map[string]float64),
		agentDaily:  make(map[string]float64),
		modelCalls:  make(map[string]int),
		now:         time.Now,
	}
}

// Record tracks one call, stamping it if the caller did not.
func (t *Tracker) Record(rec CallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}
	if rec.CostUSD == 0 {
		rec.CostUSD = Estimate(rec.Model, rec.InputTokens, rec.OutputTokens)
	}

	date := rec.Timestamp.UTC().Format("2006-01-02")
	t.daily[dailyKey{date: date, domain: rec.Domain, queue: rec.Queue}] += rec.CostUSD
	if rec.Domain != "" {
		t.domainCosts[rec.Domain] += rec.CostUSD
	}
	if rec.Queue != "" {
		t.queueCosts[rec.Queue] += rec.CostUSD
	}
	if rec.Agent != "" {
		t.agentDaily[date+"|"+rec.Agent] += rec.CostUSD
	}
	t.modelCalls[rec.Model]++
	t.totalUSD += rec.CostUSD
	t.totalCalls++
	if !rec.Success {
		t.failed++
	}

	t.records = append(t.records, rec)
	if len(t.records) > t.maxRecords {
		t.records = t.records[len(t.records)-t.maxRecords:]
	}
}

// Daily returns today's spend for a (domain, queue) pair. Empty strings
// aggregate across that dimension.
func (t *Tracker) Daily(domain, queue string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	date := t.now().UTC().Format("2006-01-02")
	total := 0.0
	for key, usd := range t.daily {
		if key.date != date {
			continue
		}
		if domain != "" && key.domain != domain {
			continue
		}
		if queue != "" && key.queue != queue {
			continue
		}
		total += usd
	}
	return total
}

// AgentDaily returns today's spend attributed to one agent.
func (t *Tracker) AgentDaily(agent string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	date := t.now().UTC().Format("2006-01-02")
	return t.agentDaily[date+"|"+agent]
}

// Domain returns all-time spend for a domain.
func (t *Tracker) Domain(domain string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.domainCosts[domain]
}

// Queue returns all-time spend for a queue.
func (t *Tracker) Queue(queue string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queueCosts[queue]
}

// Total returns all-time spend.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUSD
}

// Recent returns the most recent records, newest first.
func (t *Tracker) Recent(limit int) []CallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}
	out := make([]CallRecord, 0, limit)
	for i := len(t.records) - 1; i >= len(t.records)-limit; i-- {
		out = append(out, t.records[i])
	}
	return out
}

// ErrorRate returns the failure ratio over the last n calls.
func (t *Tracker) ErrorRate(n int) float64 {
	recent := t.Recent(n)
	if len(recent) == 0 {
		return 0
	}
	failed := 0
	for _, rec := range recent {
		if !rec.Success {
			failed++
		}
	}
	return float64(failed) / float64(len(recent))
}

// Stats returns the aggregate view.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	date := t.now().UTC().Format("2006-01-02")
	today := 0.0
	for key, usd := range t.daily {
		if key.date == date {
			today += usd
		}
	}

	stats := Stats{
		TotalUSD:     t.totalUSD,
		TotalCalls:   t.totalCalls,
		FailedCalls:  t.failed,
		TodayUSD:     today,
		DomainCosts:  make(map[string]float64, len(t.domainCosts)),
		QueueCosts:   make(map[string]float64, len(t.queueCosts)),
		ByModelCalls: make(map[string]int, len(t.modelCalls)),
	}
	for k, v := range t.domainCosts {
		stats.DomainCosts[k] = v
	}
	for k, v := range t.queueCosts {
		stats.QueueCosts[k] = v
	}
	for k, v := range t.modelCalls {
		stats.ByModelCalls[k] = v
	}
	return stats
}
