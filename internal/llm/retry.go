package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohammad-safakhou/marketbrain/config"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is three attempts with exponential backoff from 2s capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicyFromConfig(config.RetryConfig{})
}

// RetryPolicyFromConfig converts the config section, applying defaults.
func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	c = c.Normalize()
	return RetryPolicy{Attempts: c.Attempts, InitialInterval: c.InitialInterval, MaxInterval: c.MaxInterval}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Retry runs op until it succeeds, fails with a non-transient error or the
// attempts are exhausted. notify, when set, observes each failed attempt
// that will be retried.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error), notify func(error, time.Duration)) (T, error) {
	operation := func() (T, error) {
		v, err := op(ctx)
		if err != nil && !Transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	if notify == nil {
		return backoff.RetryWithData(operation, p.backOff(ctx))
	}
	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}

// Retrying wraps a Client so transient failures are retried.
type Retrying struct {
	next   Client
	policy RetryPolicy
	onErr  func(error, time.Duration)
}

// WithRetry wraps next with the given policy.
func WithRetry(next Client, policy RetryPolicy, notify func(error, time.Duration)) *Retrying {
	return &Retrying{next: next, policy: policy, onErr: notify}
}

func (r *Retrying) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return r.GenerateMessages(ctx, BuildMessages(prompt, opts), GenerateOptions{Model: opts.Model, MaxTokens: opts.MaxTokens, Temperature: opts.Temperature})
}

func (r *Retrying) GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}
	return Retry(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.next.GenerateMessages(ctx, messages, opts)
	}, r.onErr)
}
