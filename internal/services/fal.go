package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/reels/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	falRequestTimeout = 120 * time.Second

	// Retry configuration
	falMaxRetries     = 2
	falBaseRetryDelay = 2 * time.Second
	falMaxRetryDelay  = 30 * time.Second

	// Requests per second across all jobs in this process
	falRateLimit = 5
)

// FalClient calls fal.ai model endpoints synchronously.
type FalClient struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	limiter   *rate.Limiter
	retries   int
	baseDelay time.Duration
	log       zerolog.Logger
}

func NewFalClient(baseURL, apiKey string) *FalClient {
	return &FalClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: falRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(falRateLimit), falRateLimit),
		retries:   falMaxRetries,
		baseDelay: falBaseRetryDelay,
		log:       logging.WithComponent("fal"),
	}
}

// Run posts input to model and decodes the JSON output into out.
// Network errors and 408/429/5xx responses are retried with backoff.
func (c *FalClient) Run(ctx context.Context, model string, input, out any) error {
	body, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal fal input: %w", err)
	}
	url := c.baseURL + "/" + strings.TrimLeft(model, "/")

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(c.baseDelay, attempt)
			c.log.Warn().
				Str("model", model).
				Int("attempt", attempt).
				Dur("wait", delay).
				Err(lastErr).
				Msg("retrying fal request")

			select {
			case <-ctx.Done():
				return fmt.Errorf("fal request cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("fal rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Key "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("fal request failed: %w", err)
			if isRetryableError(err) && ctx.Err() == nil {
				continue
			}
			return lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				lastErr = fmt.Errorf("failed to read fal response: %w", readErr)
				continue
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				c.log.Error().Str("model", model).Str("body", truncate(string(respBody), 2000)).Msg("unparseable fal response")
				return fmt.Errorf("%w: fal %s: %v", ErrInvalidResponse, model, err)
			}
			return nil
		}

		lastErr = fmt.Errorf("fal %s returned status %d: %s", model, resp.StatusCode, truncate(string(respBody), 200))
		if isRetryableStatus(resp.StatusCode) {
			continue
		}
		return lastErr
	}

	return fmt.Errorf("fal request failed after %d attempts: %w", c.retries+1, lastErr)
}

// Fetch downloads url into w. Used for model outputs hosted by fal.
func (c *FalClient) Fetch(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.Copy(w, resp.Body)
}

// retryDelay calculates exponential backoff with jitter: base * 2^(attempt-1) + random jitter
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(falMaxRetryDelay) {
		delay = float64(falMaxRetryDelay)
	}
	// Add 0–25% jitter to avoid thundering herd
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusInternalServerError || // 500
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
