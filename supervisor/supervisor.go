package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/breaker"
	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/discovery"
	"github.com/graphmind-ai/graphmind/fetch"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/llm"
	"github.com/graphmind-ai/graphmind/pipeline"
	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/validate"
)

// DefaultRecursionLimit bounds node transitions per turn so a routing bug
// cannot loop forever.
const DefaultRecursionLimit = 30

const (
	nodeDetectIntent  = "detect_intent"
	nodeRouteApproval = "route_approval"
	nodeCommit        = "commit"
	nodeHandleReject  = "handle_reject"
	nodeEnd           = "end"

	fetchMaxLength  = 50000
	fetchPreviewLen = 600
	topSourcesShown = 5
)

// ExpansionConfig bounds autonomous domain expansion.
type ExpansionConfig struct {
	Domains             []string
	MaxDomains          int
	MaxSourcesPerDomain int
}

// Options wires the supervisor's collaborators.
type Options struct {
	Versioner      *kg.Versioner
	Pipeline       *pipeline.Pipeline
	Discoverer     *discovery.Discoverer
	Fetcher        *fetch.Fetcher
	Checkpoints    queue.CheckpointStore
	Breakers       *breaker.Breakers
	Model          pipeline.ModelInvoker
	Router         *llm.Router
	Summarize      func(ctx context.Context) string
	Expansion      ExpansionConfig
	RecursionLimit int
}

// Supervisor routes one conversation turn through the intent state machine.
type Supervisor struct {
	versioner      *kg.Versioner
	pipe           *pipeline.Pipeline
	discoverer     *discovery.Discoverer
	fetcher        *fetch.Fetcher
	checkpoints    queue.CheckpointStore
	breakers       *breaker.Breakers
	model          pipeline.ModelInvoker
	router         *llm.Router
	summarize      func(ctx context.Context) string
	expansion      ExpansionConfig
	recursionLimit int
	log            *logrus.Entry
}

// New builds a supervisor.
func New(opts Options) *Supervisor {
	limit := opts.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	return &Supervisor{
		versioner:      opts.Versioner,
		pipe:           opts.Pipeline,
		discoverer:     opts.Discoverer,
		fetcher:        opts.Fetcher,
		checkpoints:    opts.Checkpoints,
		breakers:       opts.Breakers,
		model:          opts.Model,
		router:         opts.Router,
		summarize:      opts.Summarize,
		expansion:      opts.Expansion,
		recursionLimit: limit,
		log:            common.ServiceLogger("supervisor"),
	}
}

// RecursionLimit reports the configured transition cap for diagnostics.
func (s *Supervisor) RecursionLimit() int { return s.recursionLimit }

// Run executes the state machine for one turn. The checkpoint for the
// thread is loaded first, every node's update is validated and merged, and
// the final state is persisted before returning.
func (s *Supervisor) Run(ctx context.Context, incoming *AgentState) (*AgentState, error) {
	threadID := ThreadID(incoming.ChatID)
	state, err := loadCheckpoint(ctx, s.checkpoints, threadID, incoming)
	if err != nil {
		return nil, err
	}

	node := nodeDetectIntent
	for steps := 0; node != nodeEnd; steps++ {
		if steps >= s.recursionLimit {
			state.Error = fmt.Sprintf("recursion limit %d reached at node %s", s.recursionLimit, node)
			state.FinalResponse = "Something went wrong routing your request. Please try again."
			s.log.WithFields(logrus.Fields{"thread_id": threadID, "node": node}).Error("recursion limit reached")
			break
		}

		update, next := s.step(ctx, node, state)
		if err := applyUpdate(state, update); err != nil {
			state.Error = err.Error()
			state.FinalResponse = common.SanitizeUserError(err)
			break
		}
		if err := saveCheckpoint(ctx, s.checkpoints, threadID, state); err != nil {
			s.log.WithError(err).WithField("thread_id", threadID).Error("checkpoint save failed")
		}
		node = next
	}

	if err := saveCheckpoint(ctx, s.checkpoints, threadID, state); err != nil {
		return state, fmt.Errorf("failed to persist final checkpoint: %w", err)
	}
	return state, nil
}

// step executes one node and names the next.
func (s *Supervisor) step(ctx context.Context, node string, state *AgentState) (map[string]interface{}, string) {
	switch node {
	case nodeDetectIntent:
		return s.detectIntentNode(ctx, state)
	case nodeRouteApproval:
		if state.ApprovalDecision == "approve" {
			return map[string]interface{}{}, nodeCommit
		}
		return map[string]interface{}{}, nodeHandleReject
	case nodeCommit:
		return s.commitNode(ctx, state), nodeEnd
	case nodeHandleReject:
		return s.rejectNode(state), nodeEnd
	case IntentHelp:
		return s.helpNode(), nodeEnd
	case IntentStatus:
		return s.statusNode(ctx), nodeEnd
	case IntentCancel:
		return s.cancelNode(state), nodeEnd
	case IntentGatherSources:
		return s.gatherSourcesNode(ctx, state), nodeEnd
	case IntentFetchContent:
		return s.fetchContentNode(ctx, state), nodeEnd
	case IntentScoutDomains:
		return s.scoutDomainsNode(), nodeEnd
	case IntentIngest:
		return s.ingestNode(ctx, state), nodeEnd
	case IntentQuery:
		return s.queryNode(ctx, state), nodeEnd
	default:
		return s.unknownNode(), nodeEnd
	}
}

func (s *Supervisor) detectIntentNode(ctx context.Context, state *AgentState) (map[string]interface{}, string) {
	// A pending approval decision bypasses classification entirely.
	if state.ApprovalDecision != "" && len(state.ProposedDiff) > 0 {
		return map[string]interface{}{"intent": state.ApprovalDecision}, nodeRouteApproval
	}

	intent := s.DetectIntent(ctx, state.UserInput)
	if intent == IntentApprove || intent == IntentReject {
		if len(state.ProposedDiff) == 0 {
			return map[string]interface{}{
				"intent":         intent,
				"final_response": "There is no pending proposed change to decide on.",
			}, nodeEnd
		}
		decision := "approve"
		if intent == IntentReject {
			decision = "reject"
		}
		return map[string]interface{}{"intent": intent, "approval_decision": decision}, nodeRouteApproval
	}
	return map[string]interface{}{"intent": intent}, intent
}

func (s *Supervisor) commitNode(ctx context.Context, state *AgentState) map[string]interface{} {
	diff, err := kg.ParseDiff(state.ProposedDiff)
	if err != nil {
		return map[string]interface{}{
			"error":          err.Error(),
			"final_response": "The pending change could not be read; it has been discarded.",
			"proposed_diff":  nil, "diff_id": nil,
			"approval_required": false, "approval_decision": nil,
			"crucial_decision_type": nil,
		}
	}

	entry, result, err := s.versioner.Commit(ctx, diff, state.DiffID, pipeline.WriterAgent, state.ChatID, "user approved")
	if err != nil {
		// Keep the proposed diff so the user can retry the commit.
		return map[string]interface{}{
			"error":             err.Error(),
			"approval_decision": nil,
			"final_response":    "Commit failed: " + common.SanitizeUserError(err) + " Reply approve to retry.",
		}
	}

	return map[string]interface{}{
		"final_response": fmt.Sprintf("✅ Committed version %d: %s (nodes.added=%d, edges.added=%d)",
			entry.Version, entry.Summary, result.NodesAdded, result.EdgesAdded),
		"proposed_diff": nil, "diff_id": nil,
		"approval_required": false, "approval_decision": nil,
		"crucial_decision_type": nil, "crucial_decision_context": nil,
	}
}

func (s *Supervisor) rejectNode(state *AgentState) map[string]interface{} {
	return map[string]interface{}{
		"final_response": "❌ Rejected. The proposed change was discarded.",
		"proposed_diff":  nil, "diff_id": nil,
		"approval_required": false, "approval_decision": nil,
		"crucial_decision_type": nil, "crucial_decision_context": nil,
	}
}

func (s *Supervisor) helpNode() map[string]interface{} {
	return map[string]interface{}{"final_response": strings.TrimSpace(`
I build a knowledge graph from public sources. Commands:
- topic=<subject> — extract and propose graph changes for a subject
- gather sources for <domain> — rank candidate sources
- fetch <url> — fetch and sanitize one allowlisted page
- scout domains — list configured expansion domains
- query <name> — look up a graph node
- status, cancel, help
Graph writes always wait for your approve/reject.`)}
}

func (s *Supervisor) statusNode(ctx context.Context) map[string]interface{} {
	if s.summarize != nil {
		return map[string]interface{}{"final_response": s.summarize(ctx)}
	}
	version, err := s.versioner.Changelog().CurrentVersion(ctx)
	if err != nil {
		return map[string]interface{}{"final_response": "Status unavailable: " + common.SanitizeUserError(err)}
	}
	return map[string]interface{}{"final_response": fmt.Sprintf("KG at version %d.", version)}
}

func (s *Supervisor) cancelNode(state *AgentState) map[string]interface{} {
	response := "Nothing to cancel."
	if len(state.ProposedDiff) > 0 {
		response = "Cancelled. The pending proposed change was cleared."
	}
	return map[string]interface{}{
		"final_response": response,
		"proposed_diff":  nil, "diff_id": nil,
		"approval_required": false, "approval_decision": nil,
		"crucial_decision_type": nil, "crucial_decision_context": nil,
	}
}

func (s *Supervisor) gatherSourcesNode(ctx context.Context, state *AgentState) map[string]interface{} {
	domain := topicOf(state.UserInput)
	if domain == "" {
		return map[string]interface{}{"final_response": "Which domain should I gather sources for?"}
	}
	if s.breakers != nil && s.breakers.StateOf(domain) == breaker.StateOpen {
		return map[string]interface{}{
			"final_response": fmt.Sprintf("⏸️ Domain %q is paused while its budget or failure circuit recovers. Try again later.", domain),
		}
	}

	intent := validate.ClampFetchIntent(
		validate.FetchIntent{MaxSources: s.expansion.MaxSourcesPerDomain, Domains: []string{domain}},
		s.expansion.MaxSourcesPerDomain, s.expansion.MaxDomains,
	)
	result, err := s.discoverer.Discover(ctx, discovery.Request{Domain: domain, MaxSources: intent.MaxSources})
	if err != nil {
		return map[string]interface{}{
			"error":          err.Error(),
			"final_response": "Source discovery failed: " + common.SanitizeUserError(err),
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top sources for %s (%d candidates, avg quality %.2f):\n",
		domain, result.Stats.Candidates, result.Stats.AvgQuality)
	for i, src := range result.Sources {
		if i >= topSourcesShown {
			break
		}
		fmt.Fprintf(&b, "%d. %s [%s/%s] priority=%.2f\n%s\n", i+1, src.Title, src.Provider, src.SourceType, src.Priority, src.URL)
	}
	for _, rec := range result.Recommendations {
		fmt.Fprintf(&b, "⚠️ %s\n", rec)
	}
	return map[string]interface{}{"final_response": strings.TrimSpace(b.String())}
}

func (s *Supervisor) fetchContentNode(ctx context.Context, state *AgentState) map[string]interface{} {
	url := topicOf(state.UserInput)
	result := s.fetcher.Fetch(ctx, url, fetchMaxLength)
	if !result.Accessible {
		return map[string]interface{}{
			"final_response": fmt.Sprintf("Could not fetch %s: %s", url, result.Error),
		}
	}

	preview := result.Content
	if len(preview) > fetchPreviewLen {
		preview = preview[:fetchPreviewLen] + "…"
	}
	return map[string]interface{}{
		"working_notes":  result.Content,
		"final_response": fmt.Sprintf("Fetched %s (%d chars):\n%s", url, len(result.Content), preview),
	}
}

func (s *Supervisor) scoutDomainsNode() map[string]interface{} {
	if len(s.expansion.Domains) == 0 {
		return map[string]interface{}{"final_response": "No expansion domains are configured."}
	}
	domains := s.expansion.Domains
	if s.expansion.MaxDomains > 0 && len(domains) > s.expansion.MaxDomains {
		domains = domains[:s.expansion.MaxDomains]
	}
	return map[string]interface{}{
		"final_response": fmt.Sprintf("Expansion domains (%d sources each): %s",
			s.expansion.MaxSourcesPerDomain, strings.Join(domains, ", ")),
	}
}

func (s *Supervisor) ingestNode(ctx context.Context, state *AgentState) map[string]interface{} {
	topic := topicOf(state.UserInput)
	if topic == "" {
		return map[string]interface{}{"final_response": "What topic should I ingest? Use topic=<subject>."}
	}

	proposal, err := s.pipe.Run(ctx, topic, state.ChatID, topic, llm.CallScope{
		Domain: topic, Queue: "ingest", Agent: pipeline.WriterAgent,
	})
	if err != nil {
		update := map[string]interface{}{
			"error":          err.Error(),
			"final_response": "Ingestion failed: " + common.SanitizeUserError(err),
		}
		if common.IsBudgetExceeded(err) || common.IsCircuitOpen(err) {
			update["final_response"] = fmt.Sprintf("⏸️ Domain %q is paused (budget or circuit). Try again later.", topic)
		}
		return update
	}

	serialized, err := proposal.Diff.Serialize()
	if err != nil {
		return map[string]interface{}{
			"error":          err.Error(),
			"final_response": "Ingestion produced an unusable change: " + common.SanitizeUserError(err),
		}
	}
	return map[string]interface{}{
		"proposed_diff":            json.RawMessage(serialized),
		"diff_id":                  proposal.DiffID,
		"approval_required":        true,
		"crucial_decision_type":    proposal.CrucialDecisionType,
		"crucial_decision_context": fmt.Sprintf("topic=%s scale=%s", topic, proposal.Scale),
		"final_response":           fmt.Sprintf("Proposed change for %s: %s\nReply approve or reject.", topic, proposal.Summary),
	}
}

func (s *Supervisor) queryNode(ctx context.Context, state *AgentState) map[string]interface{} {
	name := topicOf(state.UserInput)
	node, err := s.versioner.Store().NodeByName(ctx, kg.NormalizeName(name))
	if errors.Is(err, kg.ErrNodeNotFound) {
		return map[string]interface{}{"final_response": fmt.Sprintf("No node named %q in the graph.", name)}
	}
	if err != nil {
		return map[string]interface{}{
			"error":          err.Error(),
			"final_response": "Lookup failed: " + common.SanitizeUserError(err),
		}
	}

	props, _ := json.MarshalIndent(node.Properties, "", "  ")
	return map[string]interface{}{
		"final_response": fmt.Sprintf("%s (%s)\n%s", node.ID, node.Label, common.Truncate(string(props), 1500)),
	}
}

// AutonomousCycle runs one background expansion step while the user
// deliberates: discover sources for the given domain (or the first
// configured one) and report what was found. Paused domains are skipped.
func (s *Supervisor) AutonomousCycle(ctx context.Context, domain string) (string, error) {
	if domain == "" && len(s.expansion.Domains) > 0 {
		domain = s.expansion.Domains[0]
	}
	if domain == "" {
		return "", nil
	}
	if s.breakers != nil && s.breakers.StateOf(domain) == breaker.StateOpen {
		s.log.WithField("domain", domain).Info("skipping expansion for paused domain")
		return "", nil
	}

	result, err := s.discoverer.Discover(ctx, discovery.Request{
		Domain:     domain,
		MaxSources: s.expansion.MaxSourcesPerDomain,
	})
	if err != nil {
		return "", fmt.Errorf("expansion discovery for %s failed: %w", domain, err)
	}
	if len(result.Sources) == 0 {
		return fmt.Sprintf("🔭 Background expansion: no sources found for %s yet.", domain), nil
	}
	return fmt.Sprintf("🔭 Background expansion: found %d sources for %s (top: %s).",
		len(result.Sources), domain, result.Sources[0].Title), nil
}

func (s *Supervisor) unknownNode() map[string]interface{} {
	return map[string]interface{}{
		"final_response": "I didn't understand that. Try topic=<subject>, gather sources for <domain>, or help.",
	}
}
