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

func TestGeminiClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Contents, 1) && assert.Len(t, req.Contents[0].Parts, 1) {
			assert.Equal(t, "predict", req.Contents[0].Parts[0].Text)
		}
		assert.InDelta(t, defaultTemperature, req.GenerationConfig.Temperature, 0.001)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "` + "```json" + `\n{\"ok\":true}\n"}, {"text": "` + "```" + `"}]}
			}]
		}`))
	}))
	defer server.Close()

	client, err := newGeminiClient(context.Background(), Config{
		Name: "gemini", APIKey: "test-key", Model: "models/gemini-test", BaseURL: server.URL + "/",
	})
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), "predict")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, ExtractJSON(text))
}

func TestGeminiClient_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantMessage  string
		contextLimit bool
	}{
		{
			name:         "error envelope",
			status:       http.StatusRequestEntityTooLarge,
			body:         `{"error":{"code":413,"message":"request too large","status":"INVALID_ARGUMENT"}}`,
			wantMessage:  "request too large",
			contextLimit: true,
		},
		{
			name:        "plain body",
			status:      http.StatusBadGateway,
			body:        "upstream unavailable",
			wantMessage: "upstream unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := newGeminiClient(context.Background(), Config{
				Name: "gemini", APIKey: "k", Model: "gemini-test", BaseURL: server.URL,
			})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), "predict")
			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.Equal(t, tt.wantMessage, perr.Message)
			assert.Equal(t, tt.contextLimit, IsContextLimit(err))
		})
	}
}

func TestGeminiClient_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	client, err := newGeminiClient(context.Background(), Config{
		Name: "gemini", APIKey: "k", Model: "gemini-test", BaseURL: server.URL,
	})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "predict")
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}
