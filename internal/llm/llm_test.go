package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type stubClient struct {
	calls    int
	errs     []error
	reply    string
	lastOpts GenerateOptions
	lastMsgs []Message
}

func (s *stubClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return s.GenerateMessages(ctx, BuildMessages(prompt, opts), opts)
}

func (s *stubClient) GenerateMessages(_ context.Context, msgs []Message, opts GenerateOptions) (string, error) {
	s.calls++
	s.lastOpts = opts
	s.lastMsgs = msgs
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return "", s.errs[s.calls-1]
	}
	return s.reply, nil
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"rate", &openai.APIError{HTTPStatusCode: 429, Message: "slow"}, ErrRateLimited},
		{"server", &openai.APIError{HTTPStatusCode: 502}, ErrUpstream},
		{"bad", &openai.APIError{HTTPStatusCode: 400}, ErrInvalidRequest},
		{"gateway", &openai.RequestError{HTTPStatusCode: 504, Err: errors.New("gw")}, ErrTimeout},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrTimeout},
		{"generic", errors.New("boom"), ErrUpstream},
	}
	for _, tc := range cases {
		got := Classify("openai", tc.err)
		if !errors.Is(got, tc.kind) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.kind, got)
		}
		if !errors.Is(got, tc.err) && tc.name != "deadline" {
			t.Fatalf("%s: cause lost: %v", tc.name, got)
		}
	}
	if got := Classify("openai", context.Canceled); got != context.Canceled {
		t.Fatalf("cancellation should pass through, got %v", got)
	}
	if Classify("x", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	if Transient(&ProviderError{Kind: ErrInvalidRequest}) {
		t.Fatalf("invalid request must not be transient")
	}
}

func TestRetryingRecoversFromTransient(t *testing.T) {
	stub := &stubClient{
		errs:  []error{&ProviderError{Kind: ErrRateLimited}, &ProviderError{Kind: ErrUpstream}},
		reply: "ok",
	}
	var notified int
	c := WithRetry(stub, fastPolicy(), func(error, time.Duration) { notified++ })
	out, err := c.Generate(context.Background(), "hi", GenerateOptions{System: "sys"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "ok" || stub.calls != 3 || notified != 2 {
		t.Fatalf("unexpected out=%q calls=%d notified=%d", out, stub.calls, notified)
	}
	if len(stub.lastMsgs) != 2 || stub.lastMsgs[0].Role != RoleSystem {
		t.Fatalf("system prompt not forwarded: %+v", stub.lastMsgs)
	}
}

func TestRetryingStopsOnPermanent(t *testing.T) {
	stub := &stubClient{errs: []error{&ProviderError{Kind: ErrInvalidRequest}}}
	c := WithRetry(stub, fastPolicy(), nil)
	_, err := c.Generate(context.Background(), "hi", GenerateOptions{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("permanent errors must not retry, calls=%d", stub.calls)
	}
}

func TestRetryingExhausts(t *testing.T) {
	timeout := &ProviderError{Kind: ErrTimeout}
	stub := &stubClient{errs: []error{timeout, timeout, timeout, timeout}}
	c := WithRetry(stub, fastPolicy(), nil)
	_, err := c.Generate(context.Background(), "hi", GenerateOptions{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout after exhaustion, got %v", err)
	}
	if stub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", stub.calls)
	}
}

func TestRetryingRejectsInvalidMessages(t *testing.T) {
	stub := &stubClient{reply: "x"}
	c := WithRetry(stub, fastPolicy(), nil)
	if _, err := c.GenerateMessages(context.Background(), nil, GenerateOptions{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for empty history, got %v", err)
	}
	if _, err := c.GenerateMessages(context.Background(), []Message{{Role: "tool", Content: "x"}}, GenerateOptions{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid role error, got %v", err)
	}
	if stub.calls != 0 {
		t.Fatalf("invalid input reached the backend")
	}
}

func TestRouter(t *testing.T) {
	oa := &stubClient{reply: "from openai"}
	or := &stubClient{reply: "from openrouter"}
	r := NewRouter("gpt-4o-mini", nil)
	r.Register(ProviderOpenAI, oa)

	if p := r.ProviderFor("anthropic/claude-3.5-sonnet"); p != ProviderOpenRouter {
		t.Fatalf("expected openrouter, got %s", p)
	}
	if p := r.ProviderFor("gpt-4o"); p != ProviderOpenAI {
		t.Fatalf("expected openai, got %s", p)
	}

	out, err := r.Generate(context.Background(), "q", GenerateOptions{})
	if err != nil || out != "from openai" {
		t.Fatalf("default route failed: %q %v", out, err)
	}
	if oa.lastOpts.Model != "gpt-4o-mini" {
		t.Fatalf("default model not applied: %q", oa.lastOpts.Model)
	}

	if _, err := r.Generate(context.Background(), "q", GenerateOptions{Model: "deepseek/deepseek-chat"}); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
	r.Register(ProviderOpenRouter, or)
	out, err = r.Generate(context.Background(), "q", GenerateOptions{Model: "deepseek/deepseek-chat"})
	if err != nil || out != "from openrouter" {
		t.Fatalf("openrouter route failed: %q %v", out, err)
	}
}

func TestOpenAIBackendGenerate(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIOptions{APIKey: "k", BaseURL: srv.URL + "/v1", DefaultModel: "gpt-4o-mini"})
	out, err := b.Generate(context.Background(), "say hi", GenerateOptions{System: "be brief", MaxTokens: 50})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected completion %q", out)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 50 || len(got.Messages) != 2 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Temperature <= 0 {
		t.Fatalf("zero temperature should stay on the wire, got %v", got.Temperature)
	}
}

func TestOpenAIBackendRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIOptions{APIKey: "k", BaseURL: srv.URL, DefaultModel: "gpt-4o-mini"})
	_, err := b.Generate(context.Background(), "x", GenerateOptions{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
