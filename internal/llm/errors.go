package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// remote call failures
var (
	ErrRequestFailed         = errors.New("request failed")
	ErrRateLimit             = errors.New("rate limit reached")
	ErrTooManyRequests       = errors.New("too many requests")
	ErrServerOverloaded      = errors.New("server overloaded")
	ErrServer                = errors.New("server error")
	ErrContextLengthExceeded = errors.New("context length exceeded")
	ErrTokensExhausted       = errors.New("max token usage exceeded")
	ErrBadResponse           = errors.New("bad response")
)

// construction and validation failures
var (
	ErrMissingAPIKey    = errors.New("OPENAI_API_KEY environment variable or openai_api_key must be provided")
	ErrUnknownSource    = errors.New("unknown completion source")
	ErrValidationFailed = errors.New("model validation failed")
	ErrModelUnavailable = errors.New("model is not available to your API key")
)

// APIError is a non-success answer from the remote API. Err is one of the
// sentinels above, Body is the raw response text.
type APIError struct {
	Err        error
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", e.Err, e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassifyError maps an error body onto the error taxonomy. Order matters:
// the first matching row wins.
func ClassifyError(statusCode int, body []byte) error {
	text := string(body)
	lower := strings.ToLower(text)

	var kind error
	switch {
	case strings.Contains(lower, "too many requests"):
		kind = ErrTooManyRequests
	case strings.Contains(lower, "rate limit reached"), strings.Contains(lower, "rate_limit_exceeded"):
		kind = ErrRateLimit
	case strings.Contains(lower, "context_length_exceeded"):
		kind = ErrContextLengthExceeded
	case strings.Contains(lower, "server_error") && strings.Contains(lower, "overloaded"):
		kind = ErrServerOverloaded
	case strings.Contains(lower, "bad gateway"), strings.Contains(lower, "server_error"):
		kind = ErrServer
	default:
		kind = ErrBadResponse
	}

	return &APIError{Err: kind, StatusCode: statusCode, Body: text}
}

// Retryable reports whether a failed call is worth repeating.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case errors.Is(err, ErrRequestFailed),
		errors.Is(err, ErrServer),
		errors.Is(err, ErrRateLimit),
		errors.Is(err, ErrTooManyRequests),
		errors.Is(err, ErrServerOverloaded):
		return true
	}
	return false
}

// Kind returns a short label for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, ErrTooManyRequests):
		return "too_many_requests"
	case errors.Is(err, ErrServerOverloaded):
		return "server_overloaded"
	case errors.Is(err, ErrServer):
		return "server_error"
	case errors.Is(err, ErrContextLengthExceeded):
		return "context_length_exceeded"
	case errors.Is(err, ErrTokensExhausted):
		return "tokens_exhausted"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	case errors.Is(err, ErrRequestFailed):
		return "request_failed"
	default:
		return "error"
	}
}
