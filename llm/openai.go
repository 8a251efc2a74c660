package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// moonshotBaseURL is the OpenAI-compatible endpoint for Moonshot models.
const moonshotBaseURL = "https://api.moonshot.ai/v1"

// OpenAIClient adapts the OpenAI chat completions API (and any compatible
// endpoint) to ModelClient.
type OpenAIClient struct {
	client   openai.Client
	provider string
	model    string
}

// NewOpenAI builds an adapter against api.openai.com.
func NewOpenAI(apiKey, defaultModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	return &OpenAIClient{
		client:   openai.NewClient(option.WithAPIKey(apiKey)),
		provider: "openai",
		model:    defaultModel,
	}, nil
}

// NewMoonshot builds an adapter against Moonshot's OpenAI-compatible API.
func NewMoonshot(apiKey, defaultModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("moonshot api key is required")
	}
	return &OpenAIClient{
		client:   openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(moonshotBaseURL)),
		provider: "moonshot",
		model:    defaultModel,
	}, nil
}

func (c *OpenAIClient) Provider() string { return c.provider }

// Invoke issues one chat completion.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("empty completion")
	}

	return &Response{
		Text:         completion.Choices[0].Message.Content,
		Model:        model,
		Provider:     c.provider,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}, nil
}
