package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/graphmind-ai/graphmind/llm"
)

// Intents the state machine routes on.
const (
	IntentHelp          = "help"
	IntentStatus        = "status"
	IntentCancel        = "cancel"
	IntentGatherSources = "gather_sources"
	IntentFetchContent  = "fetch_content"
	IntentScoutDomains  = "scout_domains"
	IntentIngest        = "ingest"
	IntentQuery         = "query"
	IntentApprove       = "approve"
	IntentReject        = "reject"
	IntentUnknown       = "unknown"
)

var allIntents = []string{
	IntentHelp, IntentStatus, IntentCancel, IntentGatherSources,
	IntentFetchContent, IntentScoutDomains, IntentIngest, IntentQuery,
}

const intentFallbackTimeout = 5 * time.Second

// DetectIntent classifies user input keyword-first; the model fallback is
// constrained to the intent enum and a wrong or slow answer degrades to
// unknown rather than failing the turn.
func (s *Supervisor) DetectIntent(ctx context.Context, input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return IntentUnknown
	}
	lower := strings.ToLower(trimmed)

	switch lower {
	case "help", "/help", "/start":
		return IntentHelp
	case "status", "/status":
		return IntentStatus
	case "cancel", "/cancel", "abort", "stop":
		return IntentCancel
	case "approve", "yes", "✅ approve":
		return IntentApprove
	case "reject", "no", "❌ reject":
		return IntentReject
	}

	switch {
	case strings.HasPrefix(lower, "topic="), strings.HasPrefix(lower, "ingest "), strings.HasPrefix(lower, "learn "):
		return IntentIngest
	case strings.HasPrefix(lower, "gather sources"), strings.HasPrefix(lower, "sources for "), strings.HasPrefix(lower, "/sources"):
		return IntentGatherSources
	case strings.HasPrefix(lower, "fetch "), strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return IntentFetchContent
	case strings.HasPrefix(lower, "scout"), strings.HasPrefix(lower, "expand"):
		return IntentScoutDomains
	case strings.HasPrefix(lower, "query "), strings.HasPrefix(lower, "what is "), strings.HasPrefix(lower, "lookup "):
		return IntentQuery
	}

	return s.modelIntent(ctx, trimmed)
}

// modelIntent asks the cheap-tier model to pick one intent from the enum.
func (s *Supervisor) modelIntent(ctx context.Context, input string) string {
	if s.model == nil {
		return IntentUnknown
	}

	ctx, cancel := context.WithTimeout(ctx, intentFallbackTimeout)
	defer cancel()

	model := ""
	if s.router != nil {
		model = s.router.ModelForTask("intent_detection")
	}
	resp, err := s.model.Invoke(ctx, llm.Request{
		Model:  model,
		System: "Classify the user message into exactly one of: " + strings.Join(allIntents, ", ") + ". Respond with the single word only.",
		Prompt: input,

		MaxTokens:   8,
		Temperature: 0,
	}, llm.CallScope{Agent: "supervisor", Tool: "intent_detection"})
	if err != nil {
		s.log.WithError(err).Debug("intent fallback failed, treating as unknown")
		return IntentUnknown
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Text))
	for _, intent := range allIntents {
		if answer == intent {
			return intent
		}
	}
	return IntentUnknown
}

// topicOf strips intent prefixes off the user input to get the subject.
func topicOf(input string) string {
	trimmed := strings.TrimSpace(input)
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"topic=", "ingest ", "learn ", "gather sources for ", "gather sources ", "sources for ", "scout ", "expand ", "query ", "what is ", "lookup ", "fetch "} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return trimmed
}
