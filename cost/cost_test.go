package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingFor_DefaultFallback(t *testing.T) {
	known := PricingFor("gpt-4o-mini")
	assert.Equal(t, 0.15, known.InputPerMTok)

	unknown := PricingFor("experimental-model-x")
	assert.Equal(t, pricingTable["default"], unknown)
}

func TestEstimate(t *testing.T) {
	// 1M input tokens of gpt-4o costs $2.50.
	assert.InDelta(t, 2.50, Estimate("gpt-4o", 1_000_000, 0), 1e-9)
	assert.InDelta(t, 0.0025+0.010, Estimate("gpt-4o", 1000, 1000), 1e-9)
	assert.Zero(t, Estimate("gpt-4o", 0, 0))
}

func TestTracker_Rollups(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Record(CallRecord{
		Model: "gpt-4o-mini", Provider: "openai",
		InputTokens: 100_000, OutputTokens: 10_000,
		Domain: "Algebra", Queue: "graph_run", Agent: "extract_node",
		Success: true,
	})
	tr.Record(CallRecord{
		Model: "gpt-4o-mini", Provider: "openai",
		InputTokens: 100_000, OutputTokens: 10_000,
		Domain: "Topology", Queue: "graph_run", Agent: "extract_node",
		Success: false, Error: "timeout",
	})

	perCall := Estimate("gpt-4o-mini", 100_000, 10_000)
	assert.InDelta(t, perCall, tr.Domain("Algebra"), 1e-9)
	assert.InDelta(t, 2*perCall, tr.Queue("graph_run"), 1e-9)
	assert.InDelta(t, 2*perCall, tr.Total(), 1e-9)
	assert.InDelta(t, perCall, tr.Daily("Algebra", ""), 1e-9)
	assert.InDelta(t, 2*perCall, tr.Daily("", "graph_run"), 1e-9)
	assert.InDelta(t, 2*perCall, tr.AgentDaily("extract_node"), 1e-9)

	// A new day starts with a clean daily rollup but keeps totals.
	now = now.Add(24 * time.Hour)
	assert.Zero(t, tr.Daily("Algebra", ""))
	assert.InDelta(t, 2*perCall, tr.Total(), 1e-9)
}

func TestTracker_RecentAndErrorRate(t *testing.T) {
	tr := NewTracker()

	for i := 0; i < 4; i++ {
		tr.Record(CallRecord{Model: "gpt-4o-mini", Success: i%2 == 0})
	}

	recent := tr.Recent(2)
	require.Len(t, recent, 2)
	assert.False(t, recent[0].Success) // newest first

	assert.InDelta(t, 0.5, tr.ErrorRate(4), 1e-9)
	assert.Zero(t, NewTracker().ErrorRate(10))
}

func TestTracker_UnknownModelTracked(t *testing.T) {
	tr := NewTracker()
	tr.Record(CallRecord{Model: "mystery-model", InputTokens: 1_000_000, Success: true})

	stats := tr.Stats()
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 1, stats.ByModelCalls["mystery-model"])
	assert.InDelta(t, pricingTable["default"].InputPerMTok, stats.TotalUSD, 1e-9)
}
