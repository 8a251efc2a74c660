package supervisor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/breaker"
	"github.com/graphmind-ai/graphmind/discovery"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/llm"
	"github.com/graphmind-ai/graphmind/pipeline"
	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/ratelimit"
)

type fakeModel struct {
	response string
	err      error
}

func (f *fakeModel) Invoke(ctx context.Context, req llm.Request, scope llm.CallScope) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.response}, nil
}

type fakeProvider struct {
	name    string
	pool    string
	sources []discovery.Source
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Pool() string { return p.pool }
func (p *fakeProvider) Search(ctx context.Context, query string, limit int) ([]discovery.Source, error) {
	return p.sources, nil
}

func newTestSupervisor(t *testing.T, model pipeline.ModelInvoker) (*Supervisor, *kg.Versioner, *queue.MemoryQueue) {
	t.Helper()

	store := kg.NewMemoryStore()
	versioner := kg.NewVersioner(store, kg.NewMemoryChangelog())
	checkpoints := queue.NewMemory()
	breakers := breaker.New()

	provider := &fakeProvider{name: "wikipedia", pool: discovery.PoolGeneral, sources: []discovery.Source{
		{URL: "https://en.wikipedia.org/wiki/Algebra", Title: "Algebra", Provider: "wikipedia", SourceType: "encyclopedia", Free: true},
	}}
	discoverer := discovery.New([]discovery.Provider{provider}, ratelimit.New(), breakers, nil)

	sup := New(Options{
		Versioner:   versioner,
		Pipeline:    pipeline.New(pipeline.NewExtractor(model, "gpt-4o-mini", false), pipeline.NewLinker(store), pipeline.NewWriter()),
		Discoverer:  discoverer,
		Checkpoints: checkpoints,
		Breakers:    breakers,
		Model:       model,
		Router:      llm.NewRouter(llm.TierModels{Cheap: "gpt-4o-mini", Mid: "gpt-4o"}),
		Expansion:   ExpansionConfig{Domains: []string{"Algebra", "Topology"}, MaxDomains: 2, MaxSourcesPerDomain: 10},
	})
	return sup, versioner, checkpoints
}

func TestSupervisor_IngestThenApproveCommits(t *testing.T) {
	ctx := context.Background()
	model := &fakeModel{response: `{"entities":[{"name":"photosynthesis","label":"Concept"}],"relations":[],"claims":[]}`}
	sup, versioner, _ := newTestSupervisor(t, model)

	// Turn 1: the proposal is surfaced for approval, nothing committed yet.
	state, err := sup.Run(ctx, &AgentState{UserInput: "topic=photosynthesis", ChatID: "42"})
	require.NoError(t, err)
	assert.Equal(t, IntentIngest, state.Intent)
	assert.True(t, state.ApprovalRequired)
	assert.NotEmpty(t, state.DiffID)
	assert.Contains(t, state.FinalResponse, "+1 nodes")
	assert.Equal(t, pipeline.CrucialDecisionKGWrite, state.CrucialDecisionType)

	version, err := versioner.Changelog().CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	// Turn 2: approval commits and clears the pending diff.
	state, err = sup.Run(ctx, &AgentState{UserInput: "approve", ChatID: "42"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "✅ Committed")
	assert.Contains(t, state.FinalResponse, "nodes.added=1")
	assert.Empty(t, state.ProposedDiff)
	assert.False(t, state.ApprovalRequired)

	version, err = versioner.Changelog().CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	node, err := versioner.Store().NodeByName(ctx, "photosynthesis")
	require.NoError(t, err)
	prov, ok := kg.ProvenanceOf(node.Properties)
	require.True(t, ok)
	assert.Equal(t, pipeline.WriterAgent, prov.SourceAgent)
}

func TestSupervisor_RejectDiscardsProposal(t *testing.T) {
	ctx := context.Background()
	model := &fakeModel{response: `{"entities":[{"name":"topology","label":"Concept"}],"relations":[],"claims":[]}`}
	sup, versioner, _ := newTestSupervisor(t, model)

	_, err := sup.Run(ctx, &AgentState{UserInput: "topic=topology", ChatID: "7"})
	require.NoError(t, err)

	state, err := sup.Run(ctx, &AgentState{UserInput: "reject", ChatID: "7"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "Rejected")
	assert.Empty(t, state.ProposedDiff)

	version, err := versioner.Changelog().CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestSupervisor_CancelClearsPendingDiff(t *testing.T) {
	ctx := context.Background()
	model := &fakeModel{response: `{"entities":[{"name":"calculus","label":"Concept"}],"relations":[],"claims":[]}`}
	sup, _, checkpoints := newTestSupervisor(t, model)

	_, err := sup.Run(ctx, &AgentState{UserInput: "topic=calculus", ChatID: "9"})
	require.NoError(t, err)

	state, err := sup.Run(ctx, &AgentState{UserInput: "cancel", ChatID: "9"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "Cancelled")
	assert.Empty(t, state.ProposedDiff)
	assert.Empty(t, state.DiffID)

	// The cleared state is what got checkpointed.
	data, err := checkpoints.LoadCheckpoint(ctx, ThreadID("9"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "proposed_diff")
}

func TestSupervisor_GatherSourcesPausedDomain(t *testing.T) {
	ctx := context.Background()
	sup, _, _ := newTestSupervisor(t, &fakeModel{response: "{}"})
	sup.breakers.ForceOpen("Algebra")

	state, err := sup.Run(ctx, &AgentState{UserInput: "gather sources for Algebra", ChatID: "11"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "paused")
	assert.Contains(t, state.FinalResponse, "Algebra")
}

func TestSupervisor_GatherSourcesRanked(t *testing.T) {
	ctx := context.Background()
	sup, _, _ := newTestSupervisor(t, &fakeModel{response: "{}"})

	state, err := sup.Run(ctx, &AgentState{UserInput: "gather sources for Algebra", ChatID: "12"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "Top sources for Algebra")
	assert.Contains(t, state.FinalResponse, "wikipedia")
}

func TestSupervisor_ApproveWithoutPendingDiff(t *testing.T) {
	ctx := context.Background()
	sup, _, _ := newTestSupervisor(t, &fakeModel{response: "{}"})

	state, err := sup.Run(ctx, &AgentState{UserInput: "approve", ChatID: "13"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "no pending proposed change")
}

func TestSupervisor_UnknownInputAsksForClarification(t *testing.T) {
	ctx := context.Background()
	sup, _, _ := newTestSupervisor(t, &fakeModel{err: fmt.Errorf("model unavailable")})

	state, err := sup.Run(ctx, &AgentState{UserInput: "blargh", ChatID: "14"})
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, state.Intent)
	assert.Contains(t, state.FinalResponse, "didn't understand")

	state, err = sup.Run(ctx, &AgentState{UserInput: "   ", ChatID: "14"})
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, state.Intent)
}

func TestSupervisor_ModelIntentFallbackConstrainedToEnum(t *testing.T) {
	ctx := context.Background()
	sup, _, _ := newTestSupervisor(t, &fakeModel{response: "launch_missiles"})

	// An out-of-enum classification degrades to unknown.
	assert.Equal(t, IntentUnknown, sup.DetectIntent(ctx, "do the thing"))

	sup.model = &fakeModel{response: "status"}
	assert.Equal(t, IntentStatus, sup.DetectIntent(ctx, "how are things going over there"))
}

func TestSupervisor_KeywordIntents(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, &fakeModel{response: "{}"})
	ctx := context.Background()

	tests := []struct {
		input string
		want  string
	}{
		{"help", IntentHelp},
		{"/start", IntentHelp},
		{"status", IntentStatus},
		{"cancel", IntentCancel},
		{"approve", IntentApprove},
		{"no", IntentReject},
		{"topic=photosynthesis", IntentIngest},
		{"gather sources for Algebra", IntentGatherSources},
		{"https://en.wikipedia.org/wiki/Algebra", IntentFetchContent},
		{"scout domains", IntentScoutDomains},
		{"what is algebra", IntentQuery},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, sup.DetectIntent(ctx, tt.input), "input %q", tt.input)
	}
}

func TestSupervisor_QueryNode(t *testing.T) {
	ctx := context.Background()
	model := &fakeModel{response: `{"entities":[{"name":"photosynthesis","label":"Concept"}],"relations":[],"claims":[]}`}
	sup, _, _ := newTestSupervisor(t, model)

	_, err := sup.Run(ctx, &AgentState{UserInput: "topic=photosynthesis", ChatID: "15"})
	require.NoError(t, err)
	_, err = sup.Run(ctx, &AgentState{UserInput: "approve", ChatID: "15"})
	require.NoError(t, err)

	state, err := sup.Run(ctx, &AgentState{UserInput: "what is photosynthesis", ChatID: "15"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "C:")
	assert.Contains(t, state.FinalResponse, "Concept")

	state, err = sup.Run(ctx, &AgentState{UserInput: "query unobtainium", ChatID: "15"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "No node named")
}

func TestSupervisor_ScoutDomains(t *testing.T) {
	ctx := context.Background()
	sup, _, _ := newTestSupervisor(t, &fakeModel{response: "{}"})

	state, err := sup.Run(ctx, &AgentState{UserInput: "scout domains", ChatID: "16"})
	require.NoError(t, err)
	assert.Contains(t, state.FinalResponse, "Algebra")
	assert.Contains(t, state.FinalResponse, "Topology")
}

func TestSupervisor_RecursionLimit(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, &fakeModel{response: "{}"})
	assert.Equal(t, DefaultRecursionLimit, sup.RecursionLimit())
}

func TestValidateStateUpdateRejectsUnknownKey(t *testing.T) {
	state := &AgentState{}
	err := applyUpdate(state, map[string]interface{}{"shell_command": "rm -rf /"})
	require.Error(t, err)
}
