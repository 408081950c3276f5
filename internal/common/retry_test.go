package common

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

var fastRetry = service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestWithRetry(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   error
	}{
		{name: "first try", failures: 0, err: errBoom, wantCalls: 1},
		{name: "recovers", failures: 2, err: errBoom, wantCalls: 3},
		{name: "exhausted", failures: 5, err: errBoom, wantCalls: 3, wantErr: ErrMaxRetries},
		{name: "not retryable", failures: 5, err: &RetryableError{Err: errBoom}, wantCalls: 1, wantErr: errBoom},
		{name: "rate limited", failures: 1, err: &RetryableError{Err: ErrRateLimit, Retryable: true}, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, fastRetry)

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWithRetry_KeepsCause(t *testing.T) {
	errBoom := errors.New("boom")
	err := WithRetry(context.Background(), func() error { return errBoom }, fastRetry)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, errBoom)
}

func TestWithRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		return errors.New("boom")
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Hour})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetryAfterIsCapped(t *testing.T) {
	start := time.Now()
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &RetryableError{Err: errors.New("slow down"), After: time.Hour, Retryable: true}
		}
		return nil
	}, fastRetry)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClassifyHTTPResponse(t *testing.T) {
	cause := errors.New("api error")

	tests := []struct {
		name       string
		status     int
		retryAfter string
		retryable  bool
		after      time.Duration
		rateLimit  bool
	}{
		{name: "throttled", status: http.StatusTooManyRequests, retryAfter: "7", retryable: true, after: 7 * time.Second, rateLimit: true},
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "unavailable with hint", status: http.StatusServiceUnavailable, retryAfter: "2", retryable: true, after: 2 * time.Second},
		{name: "bad request", status: http.StatusBadRequest},
		{name: "unauthorized", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}

			err := ClassifyHTTPResponse(resp, cause)

			var re *RetryableError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.retryable, re.Retryable)
			assert.Equal(t, tt.after, re.After)
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, tt.rateLimit, errors.Is(err, ErrRateLimit))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseRetryAfter(" 30 "))
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("-1"))
	assert.Zero(t, ParseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
