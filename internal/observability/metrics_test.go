package observability

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordDispatchAttempt("a/b", "main", "ok")
	m.RecordFailoverRun("scheduled", true)
	m.RecordStateFetch("a/b", false)
	m.RecordUpdate("scheduled", "ok")
	m.RecordHTTPRequest(http.MethodGet, "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsCountAndExpose(t *testing.T) {
	m := NewMetrics()
	m.RecordDispatchAttempt("a/b", "main", "permission_denied")
	m.RecordDispatchAttempt("a/b", "main", "permission_denied")
	m.RecordFailoverRun("on_demand", false)
	m.RecordStateFetch("a/b", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchAttempts.WithLabelValues("a/b", "main", "permission_denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failoverRuns.WithLabelValues("on_demand", "exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateFetches.WithLabelValues("a/b", "ok")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "mirrorrelay_dispatch_attempts_total"))
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("mirrorrelay", "warn", &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, `"app":"mirrorrelay"`)
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
}
