package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Error kinds. Rate limiting, timeouts and upstream failures are transient
// and retried; the rest propagate immediately.
var (
	ErrRateLimited           = errors.New("llm: rate limited")
	ErrTimeout               = errors.New("llm: timeout")
	ErrUpstream              = errors.New("llm: upstream failure")
	ErrInvalidRequest        = errors.New("llm: invalid request")
	ErrProviderNotConfigured = errors.New("llm: provider not configured")
)

// ProviderError carries the kind of a provider failure and its cause.
type ProviderError struct {
	Provider   string
	Kind       error
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Kind.Error()
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Provider)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s status=%d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUpstream)
}

// Classify maps a transport error onto a ProviderError. Errors that are
// already classified, and caller cancellation, pass through unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Kind: ErrTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Provider: provider, Kind: ErrTimeout, Err: err}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: provider, Kind: kindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: provider, Kind: kindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &ProviderError{Provider: provider, Kind: ErrUpstream, Err: err}
}

func kindForStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= 500:
		return ErrUpstream
	case code >= 400:
		return ErrInvalidRequest
	default:
		return ErrUpstream
	}
}
