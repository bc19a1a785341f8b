// Package collab talks to the collaborator services: the agronomy service
// for plot demand, the GIS service for plot and zone geometry, the weather
// service for observations, and the SCADA bridge for gate telemetry. Each
// client wraps one HTTP endpoint with retries for idempotent reads and a
// circuit breaker so a dead collaborator fails fast instead of queueing.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"irrigation/pkg/apperror"
	"irrigation/pkg/config"
	"irrigation/pkg/logger"
	"irrigation/pkg/metrics"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// httpClient is the retrying, breaker-guarded HTTP core shared by the
// collaborator clients.
type httpClient struct {
	name    string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	maxRetries int
	backoff    time.Duration
}

// newHTTPClient создаёт HTTP клиента коллаборатора
func newHTTPClient(name string, cfg config.CollaboratorEndpoint) *httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	c := &httpClient{
		name:       name,
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    backoff,
	}

	if cfg.Breaker.Enabled {
		minRequests := cfg.Breaker.MinRequests
		if minRequests == 0 {
			minRequests = 5
		}
		failureRate := cfg.Breaker.FailureRate
		if failureRate <= 0 {
			failureRate = 0.6
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= minRequests && ratio >= failureRate
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Log.Warn("Collaborator breaker state change",
					"collaborator", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// getJSON fetches a JSON document. The read is idempotent, so failed tries
// retry with exponential backoff; a 4xx is not retried.
func (c *httpClient) getJSON(ctx context.Context, operation, path string, out any) error {
	return c.guard(operation, func() error {
		var lastErr error
		for attempt := 0; attempt < c.maxRetries; attempt++ {
			if attempt > 0 {
				wait := c.backoff * time.Duration(1<<(attempt-1))
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			err := c.doGet(ctx, path, out)
			if err == nil {
				return nil
			}
			var httpErr *statusError
			if errors.As(err, &httpErr) && httpErr.status >= 400 && httpErr.status < 500 {
				return err
			}
			lastErr = err
			logger.Log.Warn("Collaborator request failed",
				"collaborator", c.name, "path", path, "attempt", attempt+1, "error", err)
		}
		return lastErr
	})
}

// postJSON sends a document once. Writes are not retried blindly: a timeout
// after the request reached the wire could have been observed remotely.
func (c *httpClient) postJSON(ctx context.Context, operation, path string, body, out any) error {
	return c.guard(operation, func() error {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.execute(req, out)
	})
}

// guard runs fn through the breaker, if configured, and records metrics.
func (c *httpClient) guard(operation string, fn func() error) error {
	start := time.Now()
	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(func() (any, error) { return nil, fn() })
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperror.New(apperror.CodeExternalUnavailable,
				fmt.Sprintf("%s circuit open", c.name))
		}
	} else {
		err = fn()
	}
	metrics.Get().RecordCollaboratorRequest(c.name, operation, time.Since(start), err)
	return err
}

func (c *httpClient) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.execute(req, out)
}

func (c *httpClient) execute(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeExternalUnavailable,
			fmt.Sprintf("%s unreachable", c.name))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &statusError{name: c.name, status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	return nil
}

// statusError carries the HTTP status for retry decisions.
type statusError struct {
	name   string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.name, e.status)
}
