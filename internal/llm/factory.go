package llm

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/marketbrain/config"
)

// NewFromConfig builds a retrying router over every configured provider.
func NewFromConfig(cfg config.LLMConfig, logger *log.Logger) (Client, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	router := NewRouter(cfg.DefaultModel, cfg.OpenRouterPrefixes)
	registered := 0
	for name, p := range cfg.Providers {
		if strings.TrimSpace(p.APIKey) == "" {
			logger.Printf("provider=%s skipped: api_key empty", name)
			continue
		}
		kind := strings.ToLower(p.Type)
		if kind == "" {
			kind = strings.ToLower(name)
		}
		baseURL := p.BaseURL
		if kind == ProviderOpenRouter && baseURL == "" {
			baseURL = OpenRouterBaseURL
		}
		router.Register(kind, NewOpenAIBackend(OpenAIOptions{
			Name:         kind,
			APIKey:       p.APIKey,
			BaseURL:      baseURL,
			DefaultModel: cfg.DefaultModel,
			Timeout:      p.Timeout,
		}))
		registered++
	}
	if registered == 0 {
		return nil, fmt.Errorf("%w: no llm provider has an api key", ErrProviderNotConfigured)
	}
	policy := RetryPolicyFromConfig(cfg.Retry)
	return WithRetry(router, policy, func(err error, wait time.Duration) {
		logger.Printf("retrying in %s: %v", wait, err)
	}), nil
}
