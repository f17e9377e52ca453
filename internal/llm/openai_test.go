package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAICompleter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
		wantURL string
	}{
		{
			name:    "defaults to groq",
			cfg:     Config{APIKey: "k"},
			wantURL: "https://api.groq.com/openai/v1/chat/completions",
		},
		{
			name:    "trailing slash trimmed",
			cfg:     Config{APIKey: "k", BaseURL: "http://localhost:8000/v1/"},
			wantURL: "http://localhost:8000/v1/chat/completions",
		},
		{
			name:    "missing key",
			cfg:     Config{},
			wantErr: "API key is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOpenAICompleter(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, c.endpoint)
			assert.Equal(t, "llama-3.1-8b-instant", c.Model())
		})
	}
}

func TestOpenAICompleter_Complete(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  CATEGORY: Network\n"}}]}`))
	}))
	defer server.Close()

	c, err := NewOpenAICompleter(Config{APIKey: "secret", BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)

	req := UserPrompt("analyze this", 0.1)
	req.System = "be terse"
	text, err := c.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "CATEGORY: Network", text)
	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "analyze this", got.Messages[1].Content)
}

func TestOpenAICompleter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		isEmpty bool
	}{
		{
			name:    "structured error",
			status:  http.StatusTooManyRequests,
			body:    `{"error":{"message":"rate limited","type":"rate_limit"}}`,
			wantErr: "status 429, type: rate_limit): rate limited",
		},
		{
			name:    "plain error",
			status:  http.StatusBadGateway,
			body:    "upstream down",
			wantErr: "status 502): upstream down",
		},
		{
			name:    "no choices",
			status:  http.StatusOK,
			body:    `{"choices":[]}`,
			isEmpty: true,
		},
		{
			name:    "blank content",
			status:  http.StatusOK,
			body:    `{"choices":[{"message":{"content":"   "}}]}`,
			isEmpty: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, err := NewOpenAICompleter(Config{APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = c.Complete(context.Background(), UserPrompt("x", 0))
			require.Error(t, err)
			if tt.isEmpty {
				assert.ErrorIs(t, err, ErrEmptyCompletion)
				return
			}
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
