package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiOracle {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g := NewGemini("test-key", "test-model")
	g.Endpoint = server.URL
	g.Client = server.Client()
	return g
}

func TestGeminiOracle_Generate(t *testing.T) {
	var got geminiRequest
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[{\"title\":"},{"text":"\"A\"}]"}]}}]}`))
	})

	out, err := g.Generate(context.Background(), "the prompt", "the page")
	require.NoError(t, err)
	assert.Equal(t, `[{"title":"A"}]`, out)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	assert.Equal(t, "the prompt", got.Contents[0].Parts[0].Text)
	assert.Equal(t, "the page", got.Contents[0].Parts[1].Text)
}

func TestGeminiOracle_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "per minute limit",
			status:  http.StatusTooManyRequests,
			body:    `{"error":{"status":"RESOURCE_EXHAUSTED","details":[{"quotaId":"GenerateRequestsPerMinutePerProjectPerModel"}]}}`,
			wantErr: ErrRateLimited,
		},
		{
			name:    "daily quota",
			status:  http.StatusTooManyRequests,
			body:    `{"error":{"status":"RESOURCE_EXHAUSTED","details":[{"quotaId":"GenerateRequestsPerDayPerProjectPerModel"}]}}`,
			wantErr: ErrQuotaExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := g.Generate(context.Background(), "p", "t")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("server error", func(t *testing.T) {
		g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		})
		_, err := g.Generate(context.Background(), "p", "t")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.Code)
		assert.False(t, errors.Is(err, ErrRateLimited))
	})
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "quota exceeded", snippet([]byte("  quota\n exceeded ")))

	long := snippet([]byte("x" + strings.Repeat("ü", 400)))
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, "x"+strings.Repeat("ü", 299)+"...", long)
}
