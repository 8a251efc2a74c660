package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/cost"
)

func TestGovernor_GlobalDailyCap(t *testing.T) {
	tracker := cost.NewTracker()
	g := NewGovernor(tracker, Caps{GlobalDailyUSD: 0.01}, Envelopes{})

	ok, _ := g.Check("", "", 0.008)
	require.True(t, ok)

	tracker.Record(cost.CallRecord{Model: "gpt-4o-mini", CostUSD: 0.008, Success: true})

	ok, berr := g.Check("", "", 0.008)
	assert.False(t, ok)
	assert.Equal(t, "global_daily", berr.Scope)
	assert.InDelta(t, 0.008, berr.SpentUSD, 1e-9)

	err := g.Enforce("", "", 0.008)
	assert.True(t, common.IsBudgetExceeded(err))
}

func TestGovernor_DomainCaps(t *testing.T) {
	tracker := cost.NewTracker()
	g := NewGovernor(tracker, Caps{
		DomainDailyUSD: map[string]float64{"Algebra": 0.05},
		DomainTotalUSD: map[string]float64{"Algebra": 0.10},
	}, Envelopes{})

	tracker.Record(cost.CallRecord{Model: "gpt-4o-mini", CostUSD: 0.04, Domain: "Algebra", Success: true})

	err := g.Enforce("Algebra", "", 0.02)
	require.Error(t, err)
	var berr *common.BudgetExceededError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "domain_daily", berr.Scope)
	assert.Equal(t, "Algebra", berr.Key)

	// Another domain is unaffected.
	assert.NoError(t, g.Enforce("Topology", "", 0.02))
}

func TestGovernor_EnvelopeLayering(t *testing.T) {
	tracker := cost.NewTracker()
	g := NewGovernor(tracker, Caps{}, Envelopes{
		PerTaskUSD:     0.10,
		PerToolCallUSD: 0.02,
	})

	// Per-call envelope denies alone, so enforce_all_caps denies.
	err := g.EnforceAllCaps("task-1", "", "", "web_fetch", "", 0.03)
	require.Error(t, err)
	var berr *common.BudgetExceededError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "per_tool_call", berr.Scope)

	// Per-task envelope accumulates across calls.
	g.RecordTaskSpend("task-1", 0.09)
	err = g.EnforceAllCaps("task-1", "", "", "", "", 0.02)
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "per_task", berr.Scope)

	// A fresh task has a fresh envelope.
	assert.NoError(t, g.EnforceAllCaps("task-2", "", "", "", "", 0.02))
}

func TestGovernor_PerAgentDaily(t *testing.T) {
	tracker := cost.NewTracker()
	g := NewGovernor(tracker, Caps{}, Envelopes{PerAgentDailyUSD: 0.05})

	tracker.Record(cost.CallRecord{Model: "gpt-4o-mini", CostUSD: 0.04, Agent: "extract_node", Success: true})

	err := g.EnforceAllCaps("", "extract_node", "", "", "", 0.02)
	require.Error(t, err)
	var berr *common.BudgetExceededError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "per_agent_daily", berr.Scope)
}

func TestGovernor_DailyRemaining(t *testing.T) {
	tracker := cost.NewTracker()
	g := NewGovernor(tracker, Caps{GlobalDailyUSD: 1.00}, Envelopes{})

	tracker.Record(cost.CallRecord{Model: "gpt-4o-mini", CostUSD: 0.25, Success: true})
	assert.InDelta(t, 0.75, g.DailyRemaining(), 1e-9)

	tracker.Record(cost.CallRecord{Model: "gpt-4o-mini", CostUSD: 2.00, Success: true})
	assert.Zero(t, g.DailyRemaining())
}

func TestGovernor_RuntimeCapUpdate(t *testing.T) {
	tracker := cost.NewTracker()
	g := NewGovernor(tracker, Caps{}, Envelopes{})

	assert.NoError(t, g.Enforce("Algebra", "", 10))

	g.SetDomainDailyCap("Algebra", 0.01)
	err := g.Enforce("Algebra", "", 10)
	assert.True(t, common.IsBudgetExceeded(err))
}
