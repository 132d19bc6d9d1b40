package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names known to the router.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// DefaultOpenRouterPrefixes are model namespaces served through OpenRouter.
var DefaultOpenRouterPrefixes = []string{"anthropic/", "deepseek/", "meta-llama/", "google/", "mistral/"}

// Router dispatches each call to a backend chosen from the model name.
type Router struct {
	backends     map[string]Client
	defaultModel string
	prefixes     []string
}

// NewRouter returns an empty router. Models without a known prefix go to
// the openai backend.
func NewRouter(defaultModel string, openRouterPrefixes []string) *Router {
	if len(openRouterPrefixes) == 0 {
		openRouterPrefixes = DefaultOpenRouterPrefixes
	}
	return &Router{backends: make(map[string]Client), defaultModel: defaultModel, prefixes: openRouterPrefixes}
}

// Register attaches a backend under a provider name.
func (r *Router) Register(provider string, c Client) {
	r.backends[strings.ToLower(provider)] = c
}

// ProviderFor returns the provider name a model routes to.
func (r *Router) ProviderFor(model string) string {
	m := strings.ToLower(model)
	for _, p := range r.prefixes {
		if strings.HasPrefix(m, strings.ToLower(p)) {
			return ProviderOpenRouter
		}
	}
	return ProviderOpenAI
}

func (r *Router) resolve(opts GenerateOptions) (Client, GenerateOptions, error) {
	if opts.Model == "" {
		opts.Model = r.defaultModel
	}
	provider := r.ProviderFor(opts.Model)
	c, ok := r.backends[provider]
	if !ok || c == nil {
		return nil, opts, &ProviderError{Provider: provider, Kind: ErrProviderNotConfigured, Err: fmt.Errorf("no backend for model %q", opts.Model)}
	}
	return c, opts, nil
}

func (r *Router) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return r.GenerateMessages(ctx, BuildMessages(prompt, opts), GenerateOptions{Model: opts.Model, MaxTokens: opts.MaxTokens, Temperature: opts.Temperature})
}

func (r *Router) GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	c, opts, err := r.resolve(opts)
	if err != nil {
		return "", err
	}
	return c.GenerateMessages(ctx, messages, opts)
}
