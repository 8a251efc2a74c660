package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/breaker"
	"github.com/graphmind-ai/graphmind/budget"
	"github.com/graphmind-ai/graphmind/cost"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/schema"
)

func fullAggregator(t *testing.T) (*Aggregator, *kg.Versioner, *queue.MemoryQueue) {
	t.Helper()
	breakers := breaker.New()
	tracker := cost.NewTracker()
	governor := budget.NewGovernor(tracker, budget.Caps{GlobalDailyUSD: 10}, budget.Envelopes{})
	q := queue.NewMemory()
	store := kg.NewMemoryStore()
	versioner := kg.NewVersioner(store, kg.NewMemoryChangelog())
	return New(breakers, tracker, governor, q, versioner.Changelog(), store), versioner, q
}

func TestSnapshot_AllSections(t *testing.T) {
	ctx := context.Background()
	agg, versioner, q := fullAggregator(t)

	agg.breakers.ForceOpen("Algebra")
	agg.tracker.Record(cost.CallRecord{Model: "gpt-4o-mini", InputTokens: 1000, OutputTokens: 500, Domain: "Biology", Queue: "ingest", Success: true})

	id, err := q.Enqueue(ctx, queue.TypeGraphRun, nil, queue.EnqueueOptions{})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, queue.TypeGraphRun, 1)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, id, nil))

	diff := &kg.Diff{Nodes: kg.NodeOps{Add: []kg.Node{{
		ID: schema.GenerateID(schema.KindConcept), Label: schema.KindConcept,
		Properties: kg.Properties{"name": "algebra"},
	}}}}
	_, _, err = versioner.Commit(ctx, diff, "", "writer_node", "", "test")
	require.NoError(t, err)

	snap := agg.Snapshot(ctx)

	breakers := snap["breakers"].(map[string]interface{})
	assert.Contains(t, breakers["open"], "Algebra")

	costs := snap["cost"].(map[string]interface{})
	assert.Equal(t, 1, costs["calls"])
	assert.Greater(t, costs["total_usd"].(float64), 0.0)
	assert.Greater(t, costs["daily_remaining_usd"].(float64), 0.0)

	tasks := snap["tasks"].(map[string]interface{})
	counts := tasks["counts"].(map[string]int)
	assert.Equal(t, 1, counts[queue.StatusCompleted])

	processing := snap["processing"].(map[string]interface{})
	assert.Equal(t, 1, processing["tasks_last_hour"])
	assert.Equal(t, 1.0, processing["completion_ratio"])

	kgSection := snap["kg"].(map[string]interface{})
	assert.Equal(t, int64(1), kgSection["version"])
	assert.Equal(t, 1, kgSection["nodes"])
}

func TestSnapshot_NeverRaisesWithNilDeps(t *testing.T) {
	agg := New(nil, nil, nil, nil, nil, nil)
	snap := agg.Snapshot(context.Background())

	for _, section := range []string{"breakers", "cost", "tasks", "processing", "kg"} {
		m, ok := snap[section].(map[string]interface{})
		require.Truef(t, ok, "section %s missing", section)
		assert.NotEmptyf(t, m["error"], "section %s should report an error", section)
	}
}

func TestSummarize_CompactReport(t *testing.T) {
	ctx := context.Background()
	agg, versioner, _ := fullAggregator(t)

	agg.tracker.Record(cost.CallRecord{Model: "gpt-4o-mini", InputTokens: 100, OutputTokens: 50, Success: true})
	diff := &kg.Diff{Nodes: kg.NodeOps{Add: []kg.Node{{
		ID: schema.GenerateID(schema.KindConcept), Label: schema.KindConcept,
		Properties: kg.Properties{"name": "topology"},
	}}}}
	_, _, err := versioner.Commit(ctx, diff, "", "writer_node", "", "test")
	require.NoError(t, err)

	report := agg.Summarize(ctx)
	assert.Contains(t, report, "Circuits: all closed")
	assert.Contains(t, report, "Spend: $")
	assert.Contains(t, report, "KG: version 1")
	assert.Contains(t, report, "+1 nodes")
}

func TestSummarize_OpenCircuitsNamed(t *testing.T) {
	agg, _, _ := fullAggregator(t)
	agg.breakers.ForceOpen("arxiv")

	report := agg.Summarize(context.Background())
	assert.Contains(t, report, "1 open (arxiv)")
}
