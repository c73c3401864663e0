package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/permeo/internal/domain/ai"
)

func fakeAPI(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate_ReturnsFirstChoice(t *testing.T) {
	var seen map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"- scope it"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL, "gpt-4o-mini", 0)
	out, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "- scope it", out)
	assert.Equal(t, "gpt-4o-mini", seen["model"])
	assert.EqualValues(t, defaultMaxTokens, seen["max_tokens"])
}

func TestGenerate_ReasoningModelUsesCompletionTokens(t *testing.T) {
	var seen map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	_, err := NewClient("sk-test", srv.URL, "o3-mini", 512).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.EqualValues(t, 512, seen["max_completion_tokens"])
	assert.NotContains(t, seen, "max_tokens")
}

func TestGenerate_ErrorClassification(t *testing.T) {
	quota := fakeAPI(t, http.StatusTooManyRequests, `{"error":{"message":"quota","type":"insufficient_quota"}}`)
	_, err := NewClient("sk-test", quota.URL, "", 0).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ai.ErrQuotaExceeded)

	broken := fakeAPI(t, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`)
	_, err = NewClient("sk-test", broken.URL, "", 0).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
}

func TestGenerate_MissingKey(t *testing.T) {
	_, err := NewClient("", "", "", 0).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
}
