package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "openai", cfg: Config{Name: "openai", APIKey: "k", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"}},
		{name: "mistral upper case", cfg: Config{Name: "Mistral", APIKey: "k", Model: "mistral-large-latest", BaseURL: "https://api.mistral.ai/v1"}},
		{name: "anthropic", cfg: Config{Name: "anthropic", APIKey: "k", Model: "claude-3-5-haiku-latest"}},
		{name: "gemini", cfg: Config{Name: "gemini", APIKey: "k", Model: "gemini-1.5-flash"}},
		{name: "rate limited", cfg: Config{Name: "deepseek", APIKey: "k", Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1", RateLimit: 10}},
		{name: "unknown", cfg: Config{Name: "llama", APIKey: "k"}, wantErr: true},
		{name: "missing key", cfg: Config{Name: "gemini", Model: "gemini-1.5-flash"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer CloseProviders([]Provider{p})
			assert.NotEmpty(t, p.Name())
		})
	}
}

func TestNewProviders_SkipsUnconfigured(t *testing.T) {
	var skipped []string
	providers, err := NewProviders(context.Background(), []Config{
		{Name: "gemini"},
		{Name: "openai", APIKey: "k", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
	}, func(name string, _ error) { skipped = append(skipped, name) })
	require.NoError(t, err)
	defer CloseProviders(providers)

	require.Len(t, providers, 1)
	assert.Equal(t, "openai", providers[0].Name())
	assert.Equal(t, []string{"gemini"}, skipped)

	_, err = NewProviders(context.Background(), []Config{{Name: "gemini"}}, nil)
	require.Error(t, err)
}
