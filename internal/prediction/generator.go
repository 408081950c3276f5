// Package prediction turns purchase-pattern prompts into validated shopping
// predictions and runs the grocery request flow around them.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/llm"
	"github.com/joshsymonds/the-pantry-must-flow/internal/metrics"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

// ErrAllProvidersFailed is returned when no provider produced a valid prediction.
var ErrAllProvidersFailed = errors.New("all prediction providers failed")

const dateLayout = "2006-01-02"

// Request is one generation call.
type Request struct {
	PredictionID *int64
	Prompt       string
	UserID       string
}

// Result is a validated prediction tagged with the provider that produced it.
type Result struct {
	DateRangeStart time.Time
	DateRangeEnd   time.Time
	Provider       string
	Reasoning      string
	Items          []string
}

// Generator drives the provider chain and records a PromptMetric per attempt.
type Generator struct {
	chain    *llm.Chain
	store    service.MetricStore
	metrics  *metrics.Collectors
	notifier service.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerator creates a generator over providers in fallback order. store may be
// nil, in which case no prompt metrics are persisted.
func NewGenerator(providers []llm.Provider, store service.MetricStore) *Generator {
	return &Generator{
		chain:  llm.NewChain(providers...),
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetClock overrides the time source used for metric timestamps.
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// SetMetrics attaches Prometheus collectors.
func (g *Generator) SetMetrics(c *metrics.Collectors) {
	g.metrics = c
}

// SetNotifier attaches an operator notifier used when every provider fails.
func (g *Generator) SetNotifier(n service.Notifier) {
	g.notifier = n
}

// Generate asks each provider in order for a prediction and returns the first one
// that parses and validates.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() { g.metrics.PredictionDuration(time.Since(start)) }()

	var result *Result
	accept := func(provider, text string) error {
		r, err := ParseResponse(provider, text)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	provider, err := g.chain.Run(ctx, req.Prompt, accept, &attemptRecorder{g: g, req: req})
	if err != nil {
		if g.notifier != nil && errors.Is(err, llm.ErrChainExhausted) {
			text := fmt.Sprintf("No provider could generate a prediction for %s (tried %s).",
				req.UserID, strings.Join(g.chain.Providers(), ", "))
			if nerr := g.notifier.Notify(ctx, "Prediction failed", text); nerr != nil {
				g.logger.Warn("failed to send prediction alert", "error", nerr)
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, err)
	}

	g.logger.Info("generated prediction",
		"provider", provider,
		"user", req.UserID,
		"items", len(result.Items),
		"start", result.DateRangeStart.Format(dateLayout),
		"end", result.DateRangeEnd.Format(dateLayout))
	return result, nil
}

// attemptRecorder saves a PromptMetric before every attempt and a second one when
// the failure looks like a context-limit error.
type attemptRecorder struct {
	g   *Generator
	req Request
}

func (a *attemptRecorder) BeforeAttempt(ctx context.Context, provider string) {
	a.save(ctx, &model.PromptMetric{
		Provider:          provider,
		RequestSuccessful: true,
	})
}

func (a *attemptRecorder) AfterAttempt(ctx context.Context, provider string, err error) {
	switch {
	case err == nil:
		a.g.metrics.ProviderAttempt(provider, metrics.OutcomeSuccess)
		return
	case isParseError(err):
		a.g.metrics.ProviderAttempt(provider, metrics.OutcomeParseError)
	default:
		a.g.metrics.ProviderAttempt(provider, metrics.OutcomeProviderError)
	}

	if !llm.IsContextLimit(err) {
		return
	}
	a.g.metrics.ContextLimitHit(provider)
	a.g.logger.Warn("provider rejected prompt size",
		"provider", provider,
		"prompt_chars", len(a.req.Prompt),
		"estimated_tokens", model.EstimateTokens(a.req.Prompt))

	metric := &model.PromptMetric{
		Provider:        provider,
		ContextLimitHit: true,
		ErrorMessage:    err.Error(),
	}
	if status := llm.StatusCode(err); status != 0 {
		metric.ErrorCode = strconv.Itoa(status)
	}
	a.save(ctx, metric)
}

func (a *attemptRecorder) save(ctx context.Context, metric *model.PromptMetric) {
	if a.g.store == nil {
		return
	}
	metric.PredictionID = a.req.PredictionID
	metric.UserID = a.req.UserID
	metric.PromptChars = len(a.req.Prompt)
	metric.EstimatedTokens = model.EstimateTokens(a.req.Prompt)
	metric.CreatedAt = a.g.now()

	if _, err := a.g.store.SavePromptMetric(ctx, metric); err != nil {
		a.g.logger.Warn("failed to save prompt metric", "provider", metric.Provider, "error", err)
	}
}

func isParseError(err error) bool {
	var perr *llm.ParseError
	return errors.As(err, &perr)
}

type response struct {
	Start     *string         `json:"predicted_date_range_start"`
	End       *string         `json:"predicted_date_range_end"`
	Items     json.RawMessage `json:"predicted_items"`
	Reasoning string          `json:"reasoning"`
}

// ParseResponse decodes and validates a provider's prediction JSON. Both dates must
// be ISO calendar dates and predicted_items must be a non-empty list of names.
func ParseResponse(provider, text string) (*Result, error) {
	var resp response
	if err := llm.DecodeJSON(provider, text, &resp); err != nil {
		return nil, err
	}

	invalid := func(reason string) error {
		return &llm.ParseError{Provider: provider, Reason: reason}
	}
	if resp.Start == nil || resp.End == nil {
		return nil, invalid("missing predicted date range")
	}
	if len(resp.Items) == 0 {
		return nil, invalid("missing predicted_items")
	}

	var raw []string
	if err := json.Unmarshal(resp.Items, &raw); err != nil {
		return nil, invalid("predicted_items is not a list of names")
	}
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil, invalid("predicted_items is empty")
	}

	start, err := parseDate(*resp.Start)
	if err != nil {
		return nil, invalid("invalid predicted_date_range_start: " + *resp.Start)
	}
	end, err := parseDate(*resp.End)
	if err != nil {
		return nil, invalid("invalid predicted_date_range_end: " + *resp.End)
	}
	// A reversed range is reordered.
	if end.Before(start) {
		start, end = end, start
	}

	return &Result{
		DateRangeStart: start,
		DateRangeEnd:   end,
		Items:          items,
		Reasoning:      strings.TrimSpace(resp.Reasoning),
		Provider:       provider,
	}, nil
}

// parseDate accepts a calendar date or a full ISO timestamp and keeps the date part.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO date: %q", value)
}
