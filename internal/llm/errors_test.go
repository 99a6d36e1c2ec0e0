package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      error
		retryable bool
	}{
		{"too many requests", http.StatusTooManyRequests, "Too Many Requests", ErrTooManyRequests, true},
		{"too many requests wins over rate limit", http.StatusTooManyRequests, "too many requests: rate limit reached", ErrTooManyRequests, true},
		{"rate limit reached", http.StatusTooManyRequests, "Rate limit reached for default-gpt-4", ErrRateLimit, true},
		{"rate limit code", http.StatusTooManyRequests, `{"error":{"code":"rate_limit_exceeded"}}`, ErrRateLimit, true},
		{"context length", http.StatusBadRequest, `{"error":{"code":"context_length_exceeded"}}`, ErrContextLengthExceeded, false},
		{"overloaded", http.StatusServiceUnavailable, `{"error":{"type":"server_error","message":"The server is Overloaded"}}`, ErrServerOverloaded, true},
		{"server error upper case", http.StatusInternalServerError, `{"error":{"type":"SERVER_ERROR"}}`, ErrServer, true},
		{"bad gateway", http.StatusBadGateway, "502 Bad Gateway", ErrServer, true},
		{"overloaded without server_error", http.StatusServiceUnavailable, "overloaded", ErrBadResponse, false},
		{"unknown", http.StatusUnauthorized, `{"error":"invalid_api_key"}`, ErrBadResponse, false},
		{"empty body", http.StatusInternalServerError, "", ErrBadResponse, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyError(tt.status, []byte(tt.body))

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryable, Retryable(err))

			var apiErr *APIError
			if assert.True(t, errors.As(err, &apiErr)) {
				assert.Equal(t, tt.status, apiErr.StatusCode)
				assert.Equal(t, tt.body, apiErr.Body)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("%w: connection refused", ErrRequestFailed), true},
		{"server", ErrServer, true},
		{"tokens exhausted", fmt.Errorf("%w: 100", ErrTokensExhausted), false},
		{"bad response", ErrBadResponse, false},
		{"context length", ErrContextLengthExceeded, false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ok", Kind(nil))
	assert.Equal(t, "rate_limit", Kind(ClassifyError(429, []byte("rate limit reached"))))
	assert.Equal(t, "server_error", Kind(ClassifyError(502, []byte("bad gateway"))))
	assert.Equal(t, "tokens_exhausted", Kind(fmt.Errorf("%w: 5", ErrTokensExhausted)))
	assert.Equal(t, "request_failed", Kind(fmt.Errorf("%w: eof", ErrRequestFailed)))
	assert.Equal(t, "error", Kind(errors.New("x")))
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Err: ErrServer, StatusCode: 502, Body: " bad gateway\n"}
	assert.Equal(t, "server error: status 502: bad gateway", err.Error())
}
