// Package supervisor drives one conversation turn through the ingestion
// state machine: detect the intent, run the matching pipeline node, gate
// graph writes behind user approval, and checkpoint the merged state after
// every node so a process restart resumes mid-conversation.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/validate"
)

// AgentState is the conversation checkpoint payload, keyed by thread id.
type AgentState struct {
	UserInput              string          `json:"user_input"`
	ChatID                 string          `json:"chat_id"`
	Intent                 string          `json:"intent,omitempty"`
	TaskQueue              []string        `json:"task_queue,omitempty"`
	WorkingNotes           string          `json:"working_notes,omitempty"`
	ProposedDiff           json.RawMessage `json:"proposed_diff,omitempty"`
	DiffID                 string          `json:"diff_id,omitempty"`
	ApprovalRequired       bool            `json:"approval_required"`
	ApprovalDecision       string          `json:"approval_decision,omitempty"`
	FinalResponse          string          `json:"final_response,omitempty"`
	Error                  string          `json:"error,omitempty"`
	CrucialDecisionType    string          `json:"crucial_decision_type,omitempty"`
	CrucialDecisionContext string          `json:"crucial_decision_context,omitempty"`
}

// ThreadID derives the stable conversation key from a chat id.
func ThreadID(chatID string) string {
	return "telegram:" + chatID
}

// applyUpdate merges a node-produced update into the state after running it
// through the state-update allowlist. Nodes never mutate state directly.
func applyUpdate(state *AgentState, update map[string]interface{}) error {
	clean, err := validate.ValidateStateUpdate(update)
	if err != nil {
		return err
	}
	for k, v := range clean {
		switch k {
		case "user_input":
			state.UserInput, _ = v.(string)
		case "chat_id":
			state.ChatID, _ = v.(string)
		case "intent":
			state.Intent, _ = v.(string)
		case "task_queue":
			state.TaskQueue = toStringSlice(v)
		case "working_notes":
			state.WorkingNotes, _ = v.(string)
		case "proposed_diff":
			state.ProposedDiff = toRawJSON(v)
		case "diff_id":
			state.DiffID, _ = v.(string)
		case "approval_required":
			state.ApprovalRequired, _ = v.(bool)
		case "approval_decision":
			state.ApprovalDecision, _ = v.(string)
		case "final_response":
			state.FinalResponse, _ = v.(string)
		case "error":
			state.Error, _ = v.(string)
		case "crucial_decision_type":
			state.CrucialDecisionType, _ = v.(string)
		case "crucial_decision_context":
			state.CrucialDecisionContext, _ = v.(string)
		}
		if v == nil {
			clearStateKey(state, k)
		}
	}
	return nil
}

func clearStateKey(state *AgentState, key string) {
	switch key {
	case "proposed_diff":
		state.ProposedDiff = nil
	case "diff_id":
		state.DiffID = ""
	case "approval_decision":
		state.ApprovalDecision = ""
	case "crucial_decision_type":
		state.CrucialDecisionType = ""
	case "crucial_decision_context":
		state.CrucialDecisionContext = ""
	case "error":
		state.Error = ""
	}
}

func toStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toRawJSON(v interface{}) json.RawMessage {
	switch raw := v.(type) {
	case json.RawMessage:
		return raw
	case []byte:
		return json.RawMessage(raw)
	case string:
		return json.RawMessage(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// loadCheckpoint restores the prior state for a thread and overlays the new
// turn's input. A missing checkpoint starts a fresh conversation.
func loadCheckpoint(ctx context.Context, store queue.CheckpointStore, threadID string, incoming *AgentState) (*AgentState, error) {
	data, err := store.LoadCheckpoint(ctx, threadID)
	if err == queue.ErrCheckpointNotFound {
		return incoming, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", threadID, err)
	}

	var prior AgentState
	if err := json.Unmarshal(data, &prior); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", threadID, err)
	}

	prior.UserInput = incoming.UserInput
	prior.ChatID = incoming.ChatID
	prior.ApprovalDecision = incoming.ApprovalDecision
	prior.Intent = ""
	prior.FinalResponse = ""
	prior.Error = ""
	return &prior, nil
}

func saveCheckpoint(ctx context.Context, store queue.CheckpointStore, threadID string, state *AgentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint %s: %w", threadID, err)
	}
	return store.SaveCheckpoint(ctx, threadID, data)
}
