package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordLLMRequest("gpt-4", "ok", 2*time.Second)
	m.RecordLLMRequest("gpt-4", "server_error", time.Second)
	m.RecordRetry("server_error")
	m.AddTokens("gpt-4", 120)
	m.AddTokens("gpt-4", 0)
	m.AddTokens("gpt-4", 30)
	m.RecordCompletion("gpt-4", "ok")
	m.IncRequestsInFlight()
	m.IncRequestsInFlight()
	m.DecRequestsInFlight()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("gpt-4", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMRetriesTotal.WithLabelValues("server_error")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.TokensUsedTotal.WithLabelValues("gpt-4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompletionsTotal.WithLabelValues("gpt-4", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsInFlight))
}

func TestHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.AddTokens("gpt-4", 7)

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `completion_source_tokens_used_total{model="gpt-4"} 7`), body)
}
