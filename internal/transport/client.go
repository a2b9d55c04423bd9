// Package transport issues HTTP calls with bounded, jittered exponential retry.
// Retries happen only before the first response byte: once headers arrive the
// response is handed to the caller and its body is never replayed.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/davidbz/heyboss/internal/domain"
	"github.com/davidbz/heyboss/internal/observability"
)

const (
	backoffMultiplier = 2.0
	jitterFactor      = 0.5

	// maxErrorBodySize caps how much of a failed response body is kept for the error message.
	maxErrorBodySize = 4 * 1024
)

// Attempt results reported in transport.attempt events.
const (
	ResultOK           = "ok"
	ResultRetryable    = "retryable_status"
	ResultRejected     = "rejected_status"
	ResultNetworkError = "network_error"
)

// StatusError is returned for a response whose status marks the attempt as failed.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client implements domain.Transport.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	publisher  domain.EventPublisher
}

// NewClient creates a resilient transport (DI constructor). publisher may be nil.
func NewClient(config *Config, publisher domain.EventPublisher) *Client {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = cfg.RequestTimeout

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Transport: base},
		limiter:    limiter,
		publisher:  publisher,
	}
}

// Send performs the call with retry on network failures, 429 and 5xx.
// Other 4xx statuses fail immediately. On success the caller owns resp.Body.
func (c *Client) Send(
	ctx context.Context,
	method, url string,
	header http.Header,
	body []byte,
) (*http.Response, error) {
	logger := observability.FromContext(ctx)

	var (
		attempts   int
		lastStatus int
		resp       *http.Response
	)

	operation := func() error {
		attempts++

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}

		req, err := newRequest(ctx, method, url, header, body)
		if err != nil {
			return backoff.Permanent(err)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastStatus = 0
			c.publishAttempt(ctx, attempts, ResultNetworkError, 0)
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		lastStatus = r.StatusCode
		if r.StatusCode < http.StatusBadRequest {
			c.publishAttempt(ctx, attempts, ResultOK, r.StatusCode)
			resp = r
			return nil
		}

		statusErr := &StatusError{StatusCode: r.StatusCode, Body: drain(r.Body)}
		if isRetryableStatus(r.StatusCode) {
			c.publishAttempt(ctx, attempts, ResultRetryable, r.StatusCode)
			return statusErr
		}

		c.publishAttempt(ctx, attempts, ResultRejected, r.StatusCode)
		return backoff.Permanent(statusErr)
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("request attempt failed, will retry",
			observability.String("url", url),
			observability.Int("attempt", attempts),
			observability.Duration("delay", next),
			observability.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, c.schedule(ctx), notify); err != nil {
		logger.Debug("request failed",
			observability.String("url", url),
			observability.Int("attempts", attempts),
			observability.Error(err),
		)
		return nil, &domain.TransportError{
			URL:        url,
			Attempts:   attempts,
			StatusCode: lastStatus,
			Err:        err,
		}
	}

	logger.Debug("request succeeded",
		observability.String("url", url),
		observability.Int("status", resp.StatusCode),
		observability.Int("attempts", attempts),
	)

	return resp, nil
}

// schedule builds the backoff policy for one Send call.
// MaxInterval is scaled down so that randomized delays never exceed MaxDelay.
func (c *Client) schedule(ctx context.Context) backoff.BackOff {
	maxInterval := time.Duration(float64(c.config.MaxDelay) / (1 + jitterFactor))
	initial := c.config.BaseDelay
	if initial > maxInterval {
		initial = maxInterval
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.RandomizationFactor = jitterFactor
	exp.Multiplier = backoffMultiplier
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := uint64(c.config.MaxAttempts - 1) //nolint:gosec // MaxAttempts is forced positive by withDefaults
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

func (c *Client) publishAttempt(ctx context.Context, attempt int, result string, status int) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(ctx, domain.EventTransportAttempt, map[string]interface{}{
		"attempt": attempt,
		"result":  result,
		"status":  status,
	})
}

func newRequest(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	return req, nil
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// drain reads a bounded prefix of body for diagnostics and closes it.
func drain(body io.ReadCloser) string {
	defer body.Close()
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	return string(bytes.TrimSpace(data))
}
