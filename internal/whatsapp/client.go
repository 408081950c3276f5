// Package whatsapp talks to the WhatsApp Cloud API: outbound text, inbound media
// download and webhook payload handling.
package whatsapp

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
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v20.0"
	defaultMimeType   = "image/jpeg"
	maxMediaBytes     = 16 << 20
)

// ErrMissingCredentials is returned by NewClient without a token or phone number ID.
var ErrMissingCredentials = fmt.Errorf("%w: whatsapp token and phone number id are required", common.ErrMissingConfig)

// Config holds the Cloud API credentials.
type Config struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	Timeout       time.Duration
}

// DeliveryResult reports what happened to one outbound message.
type DeliveryResult struct {
	Err       error
	MessageID string
}

// Delivered reports whether the API accepted the message.
func (r DeliveryResult) Delivered() bool {
	return r.Err == nil
}

// Media is a downloaded attachment.
type Media struct {
	MimeType string
	Data     []byte
	FileSize int64
}

// Client sends messages and downloads media.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	token      string
	phoneID    string
	apiURL     string
	retry      service.RetryOptions
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type mediaResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// NewClient creates a Cloud API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
		token:      cfg.Token,
		phoneID:    cfg.PhoneNumberID,
		apiURL:     strings.TrimSuffix(cfg.BaseURL, "/") + "/" + cfg.APIVersion,
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		},
	}, nil
}

// SetRetryOptions overrides the retry policy for sends.
func (c *Client) SetRetryOptions(opts service.RetryOptions) {
	c.retry = opts
}

// Send implements service.Messenger.
func (c *Client) Send(ctx context.Context, userID, text string) error {
	return c.SendText(ctx, userID, text).Err
}

// SendText delivers text to a phone number (country code, no plus sign). Server
// errors and throttling are retried; other client errors are not.
func (c *Client) SendText(ctx context.Context, to, text string) DeliveryResult {
	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: text},
	})
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("failed to marshal message: %w", err)}
	}

	var result DeliveryResult
	err = common.WithRetry(ctx, func() error {
		id, sendErr := c.postMessage(ctx, body)
		if sendErr != nil {
			return sendErr
		}
		result.MessageID = id
		return nil
	}, c.retry)
	if err != nil {
		c.logger.Warn("whatsapp send failed", "to", to, "error", err)
		result.Err = err
	}
	return result
}

func (c *Client) postMessage(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+c.phoneID+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", &common.RetryableError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &common.RetryableError{Err: fmt.Errorf("failed to send message: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", common.ClassifyHTTPResponse(resp,
			fmt.Errorf("whatsapp API error: %d - %s", resp.StatusCode, string(respBody)))
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &common.RetryableError{Err: fmt.Errorf("failed to decode send response: %w", err)}
	}
	if len(parsed.Messages) == 0 {
		return "", nil
	}
	return parsed.Messages[0].ID, nil
}

// DownloadMedia resolves a media ID to its short-lived URL and downloads it.
// The bearer token is required on both requests.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) (*Media, error) {
	if mediaID == "" {
		return nil, errors.New("media id is empty")
	}

	u := c.apiURL + "/" + url.PathEscape(mediaID) + "?" + url.Values{"phone_number_id": {c.phoneID}}.Encode()
	raw, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to get media URL: %w", err)
	}

	var meta mediaResponse
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode media response: %w", err)
	}
	if meta.URL == "" {
		return nil, errors.New("no URL in media response")
	}

	data, err := c.get(ctx, meta.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}

	media := &Media{Data: data, MimeType: meta.MimeType, FileSize: meta.FileSize}
	if media.MimeType == "" {
		media.MimeType = defaultMimeType
	}
	if media.FileSize == 0 {
		media.FileSize = int64(len(data))
	}
	return media, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
