package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/"

// geminiClient calls the Generative Language REST API (models/{model}:generateContent).
type geminiClient struct {
	httpClient  *http.Client
	name        string
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *geminiContent `json:"content"`
	} `json:"candidates"`
}

func newGeminiClient(_ context.Context, cfg Config) (*geminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	cfg = cfg.withDefaults()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	return &geminiClient{
		name:        cfg.Name,
		apiKey:      cfg.APIKey,
		model:       strings.TrimPrefix(cfg.Model, "models/"),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  newHTTPClient(cfg.Timeout),
	}, nil
}

func (c *geminiClient) Name() string {
	return c.name
}

func (c *geminiClient) endpoint() string {
	return c.baseURL + "/v1beta/models/" + url.PathEscape(c.model) + ":generateContent"
}

func (c *geminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: c.name, Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := googleapi.CheckResponse(resp); err != nil {
		return "", c.apiError(resp.StatusCode, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Provider: c.name, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	var response geminiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", &ParseError{Provider: c.name, Reason: "malformed generateContent envelope", Err: err}
	}

	for _, candidate := range response.Candidates {
		if candidate.Content == nil {
			continue
		}
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			return text.String(), nil
		}
	}
	return "", &ParseError{Provider: c.name, Reason: "no candidates in response"}
}

// apiError maps a Google error envelope onto a ProviderError.
func (c *geminiClient) apiError(status int, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.name, StatusCode: status, Message: err.Error(), Err: err}
	}
	msg := apiErr.Message
	if msg == "" {
		msg = strings.TrimSpace(apiErr.Body)
	}
	return &ProviderError{Provider: c.name, StatusCode: apiErr.Code, Message: msg, Err: err}
}
