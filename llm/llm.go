// Package llm defines the model-client abstraction and the tracked wrapper
// that enforces budgets and circuit breakers around every model call.
package llm

import "context"

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response carries the completion text and the provider's token accounting.
// Token counts are zero when the provider returned no usage metadata.
type Response struct {
	Text         string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
}

// ModelClient is implemented by each provider adapter. The tracked client
// composes a ModelClient rather than subclassing provider SDKs.
type ModelClient interface {
	Provider() string
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// EstimateTokens approximates the token count of a text at 4 characters per
// token, the pre-call estimate used for budget checks.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
