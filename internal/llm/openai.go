package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIBackend talks to one OpenAI-compatible endpoint.
type OpenAIBackend struct {
	name   string
	model  string
	client *openai.Client
}

// OpenAIOptions configure an OpenAIBackend.
type OpenAIOptions struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// NewOpenAIBackend builds a backend; an empty BaseURL targets api.openai.com.
func NewOpenAIBackend(opts OpenAIOptions) *OpenAIBackend {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIBackend{name: name, model: opts.DefaultModel, client: openai.NewClientWithConfig(cfg)}
}

// Name of the backend, used in errors and routing.
func (b *OpenAIBackend) Name() string { return b.name }

func (b *OpenAIBackend) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return b.GenerateMessages(ctx, BuildMessages(prompt, opts), opts)
}

func (b *OpenAIBackend) GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}
	model := opts.Model
	if model == "" {
		model = b.model
	}
	if model == "" {
		return "", &ProviderError{Provider: b.name, Kind: ErrInvalidRequest, Err: fmt.Errorf("model not set")}
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   opts.maxTokens(),
		Temperature: wireTemperature(opts.Temperature),
	}
	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, req)
	recordCall(ctx, b.name, model, time.Since(start), err)
	if err != nil {
		return "", Classify(b.name, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &ProviderError{Provider: b.name, Kind: ErrUpstream, Err: fmt.Errorf("empty completion")}
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// wireTemperature keeps an explicit zero on the wire; the client omits a
// literal 0 and the server would then apply its own default of 1.
func wireTemperature(t float64) float32 {
	if t <= 0 {
		return 1e-6
	}
	return float32(t)
}
