package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/permeo/internal/logger"
)

func TestValidateID(t *testing.T) {
	for _, ok := range []string{"AIDAEXAMPLE1", "3f1c2a7e-9b1d-4c51-8f7a-0d4b6a1e2c33", "arn:aws:iam::123:policy/x"} {
		assert.NoError(t, ValidateID("id", ok), ok)
	}
	for _, bad := range []string{"", "has space", "semi;colon", strings.Repeat("a", 256), "nul\x00"} {
		assert.Error(t, ValidateID("id", bad), bad)
	}
}

func TestSanitizeAndValidateName(t *testing.T) {
	assert.Equal(t, "prod snapshot", SanitizeString("  prod\x00 snapshot\x07 "))
	assert.NoError(t, ValidateName("name", "prod"))
	assert.Error(t, ValidateName("name", " \x01 "))
	assert.Error(t, ValidateName("name", strings.Repeat("n", 300)))
}

type checkerFunc func(context.Context) error

func (f checkerFunc) Check(ctx context.Context) error { return f(ctx) }

func TestHealthHandlers(t *testing.T) {
	healthy := map[string]HealthChecker{"database": checkerFunc(func(context.Context) error { return nil })}
	broken := map[string]HealthChecker{"database": checkerFunc(func(context.Context) error { return errors.New("down") })}

	w := httptest.NewRecorder()
	HealthHandler(healthy)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	HealthHandler(broken)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "down")

	w = httptest.NewRecorder()
	ReadinessHandler(broken)(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not_ready")
}

func TestMetrics(t *testing.T) {
	before := GetMetrics()

	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	var rec GenerationMetrics
	rec.Generated("recommendations")
	rec.Degraded("attack_path")
	rec.Failed("recommended_policy")

	after := GetMetrics()
	assert.Equal(t, before["requests_total"].(uint64)+1, after["requests_total"])
	assert.Equal(t, before["requests_failed"].(uint64)+1, after["requests_failed"])
	assert.Equal(t, before["generations_total"].(uint64)+3, after["generations_total"])
	assert.Equal(t, before["generations_degraded"].(uint64)+1, after["generations_degraded"])
	assert.Equal(t, before["generations_failed"].(uint64)+1, after["generations_failed"])
}

func TestLogging_PassesThrough(t *testing.T) {
	var hits int32
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, int32(1), hits)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "short and stout", w.Body.String())
}
