// Package ocr extracts receipt text with the Unstract LLMWhisperer API. Extraction
// is asynchronous: an upload returns a whisper hash that is polled until the job
// completes, then the text is retrieved.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 60
	apiKeyHeader        = "unstract-key"
)

var (
	// ErrTimeout is returned when a job is still running after the last poll.
	ErrTimeout = errors.New("ocr job did not complete in time")
	// ErrJobNotFound is returned when the service no longer knows the whisper hash.
	ErrJobNotFound = errors.New("ocr job not found")
)

// Config configures the client.
type Config struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration
}

// Job is a submitted extraction.
type Job struct {
	Hash    string `json:"whisper_hash"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Status is one poll result. The job is finished once CompletedAt is set.
type Status struct {
	Status         string  `json:"status"`
	CompletedAt    string  `json:"completed_at"`
	ProcessingTime float64 `json:"processing_time_in_seconds"`
}

// Done reports whether the job has finished.
func (s Status) Done() bool {
	return s.CompletedAt != ""
}

// Result is the extracted text of a finished job.
type Result struct {
	Hash string
	Text string
}

// Client is an LLMWhisperer API client.
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxAttempts  int
}

// NewClient creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: unstract API key", common.ErrMissingConfig)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: unstract base URL", common.ErrMissingConfig)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       slog.Default(),
		sleep:        sleepContext,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
	}, nil
}

// Extract runs the whole upload, poll and retrieve cycle for one image.
func (c *Client) Extract(ctx context.Context, image []byte) (*Result, error) {
	job, err := c.Submit(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := c.Wait(ctx, job.Hash); err != nil {
		return nil, err
	}
	text, err := c.Fetch(ctx, job.Hash)
	if err != nil {
		return nil, err
	}
	return &Result{Hash: job.Hash, Text: text}, nil
}

// Submit uploads image bytes in form mode with layout preserved.
func (c *Client) Submit(ctx context.Context, image []byte) (*Job, error) {
	q := url.Values{"mode": {"form"}, "output_mode": {"layout_preserving"}}
	req, err := c.newRequest(ctx, http.MethodPost, "/whisper", q, bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var job Job
	status, err := c.do(req, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return nil, fmt.Errorf("failed to upload image: status %d", status)
	}
	if job.Hash == "" {
		return nil, errors.New("upload response has no whisper_hash")
	}

	c.logger.Debug("ocr job submitted", "whisper_hash", job.Hash, "bytes", len(image))
	return &job, nil
}

// Poll fetches the current status of a job.
func (c *Client) Poll(ctx context.Context, hash string) (*Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/whisper-detail", url.Values{"whisper_hash": {hash}}, nil)
	if err != nil {
		return nil, err
	}

	var st Status
	status, err := c.do(req, &st)
	if err != nil {
		return nil, fmt.Errorf("failed to check status: %w", err)
	}
	switch status {
	case http.StatusOK:
		return &st, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, hash)
	default:
		return nil, fmt.Errorf("failed to check status: status %d", status)
	}
}

// Wait polls until the job completes, a poll fails, or the attempts run out.
func (c *Client) Wait(ctx context.Context, hash string) error {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		st, err := c.Poll(ctx, hash)
		if err != nil {
			return err
		}
		if st.Done() {
			c.logger.Debug("ocr job completed", "whisper_hash", hash, "attempts", attempt, "processing_seconds", st.ProcessingTime)
			return nil
		}
		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrTimeout, c.maxAttempts)
}

// Fetch retrieves the extracted text of a completed job.
func (c *Client) Fetch(ctx context.Context, hash string) (string, error) {
	q := url.Values{"whisper_hash": {hash}, "text_only": {"false"}}
	req, err := c.newRequest(ctx, http.MethodGet, "/whisper-retrieve", q, nil)
	if err != nil {
		return "", err
	}

	var out struct {
		ResultText string `json:"result_text"`
	}
	status, err := c.do(req, &out)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve text: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("failed to retrieve text: status %d", status)
	}
	return out.ResultText, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+q.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	return req, nil
}

// do sends req and decodes a 2xx JSON body into v. Non-2xx bodies are logged and
// only the status is returned.
func (c *Client) do(req *http.Request, v any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("unstract request failed", "path", req.URL.Path, "status", resp.StatusCode, "body", string(body))
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
