package validate

import (
	"fmt"
	"sort"

	"github.com/graphmind-ai/graphmind/common"
)

const MaxFinalResponseLength = 50000

// stateUpdateAllowlist names the keys an agent node may merge into the
// conversation state, each with its type check.
var stateUpdateAllowlist = map[string]func(v interface{}) error{
	"user_input":               isString,
	"chat_id":                  isString,
	"intent":                   isString,
	"task_queue":               anyValue,
	"working_notes":            isString,
	"proposed_diff":            anyValue,
	"diff_id":                  isString,
	"approval_required":        isBool,
	"approval_decision":        isApprovalDecision,
	"final_response":           isBoundedString(MaxFinalResponseLength),
	"error":                    isString,
	"crucial_decision_type":    isString,
	"crucial_decision_context": anyValue,
}

// ValidateStateUpdate filters an agent-produced state update down to the
// allowlisted, correctly-typed keys. Unknown keys are rejected outright so a
// misbehaving node cannot smuggle state.
func ValidateStateUpdate(update map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(update))
	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		check, ok := stateUpdateAllowlist[k]
		if !ok {
			return nil, common.NewValidationError(k, "key not in state update allowlist")
		}
		v := update[k]
		if v == nil {
			out[k] = nil
			continue
		}
		if err := check(v); err != nil {
			return nil, common.NewValidationError(k, "%s", err.Error())
		}
		out[k] = v
	}
	return out, nil
}

// FetchIntent is the parsed form of a content-fetch request.
type FetchIntent struct {
	Domains     []string
	MaxSources  int
	MinPriority float64
}

// ClampFetchIntent forces a parsed fetch intent into safe ranges:
// max_sources into [1, maxSourcesCap], min_priority into [0, 1], domains
// deduplicated and bounded by maxDomains.
func ClampFetchIntent(in FetchIntent, maxSourcesCap, maxDomains int) FetchIntent {
	out := FetchIntent{MaxSources: in.MaxSources, MinPriority: in.MinPriority}

	if out.MaxSources < 1 {
		out.MaxSources = 1
	}
	if maxSourcesCap > 0 && out.MaxSources > maxSourcesCap {
		out.MaxSources = maxSourcesCap
	}
	if out.MinPriority < 0 {
		out.MinPriority = 0
	}
	if out.MinPriority > 1 {
		out.MinPriority = 1
	}

	seen := make(map[string]bool, len(in.Domains))
	for _, d := range in.Domains {
		if d == "" || seen[d] {
			continue
		}
		if maxDomains > 0 && len(out.Domains) >= maxDomains {
			break
		}
		seen[d] = true
		out.Domains = append(out.Domains, d)
	}
	return out
}

func isString(v interface{}) error {
	if _, ok := v.(string); !ok {
		return fmt.Errorf("expected string, got %T", v)
	}
	return nil
}

func isBool(v interface{}) error {
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", v)
	}
	return nil
}

func isApprovalDecision(v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", v)
	}
	if s != "approve" && s != "reject" {
		return fmt.Errorf("must be approve or reject, got %q", s)
	}
	return nil
}

func isBoundedString(max int) func(v interface{}) error {
	return func(v interface{}) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		if len(s) > max {
			return fmt.Errorf("length %d exceeds limit %d", len(s), max)
		}
		return nil
	}
}

func anyValue(interface{}) error { return nil }
