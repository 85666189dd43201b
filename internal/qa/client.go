// Package qa talks to the question-answering service behind the AI doctor,
// the smart herb search and the wellness plan.
package qa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Compile-time interface check.
var _ domain.QAClient = (*HTTPClient)(nil)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qa: HTTP %d", e.Code)
}

// IsStatus reports whether err is an HTTP status failure, as opposed to a
// transport failure where no response arrived at all.
func IsStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPTimeout sets the timeout of a single attempt.
func WithHTTPTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.http.HTTPClient.Timeout = d }
}

// WithRetry sets how many times a 5xx answer or a dropped connection is
// retried, and the shortest wait between attempts. Zero disables retries.
func WithRetry(retries int, wait time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.http.RetryMax = retries
		c.http.RetryWaitMin = wait
		c.http.RetryWaitMax = 4 * wait
	}
}

// WithBreaker tunes the circuit breaker: it opens after failures
// consecutive failures and lets one request through again after cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.tripAfter = failures
		c.cooldown = cooldown
	}
}

// HTTPClient posts questions to {base}/api/qa. Transient failures are
// retried; a whole Ask, retries included, counts once toward the breaker.
type HTTPClient struct {
	endpoint  string
	http      *retryablehttp.Client
	log       *logger.Logger
	breaker   *gobreaker.CircuitBreaker
	tripAfter uint32
	cooldown  time.Duration
}

// NewHTTPClient creates a client for the service at base
// (e.g. "http://10.10.230.91:8000").
func NewHTTPClient(base string, log *logger.Logger, opts ...ClientOption) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.HTTPClient.Timeout = 60 * time.Second
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	// Hand the last response back so a 5xx still becomes a StatusError.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &HTTPClient{
		endpoint:  strings.TrimRight(base, "/") + "/api/qa",
		http:      rc,
		log:       log.Named("qa"),
		tripAfter: 3,
		cooldown:  30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			c.log.Warn("retry %d: %s %s", attempt, req.Method, req.URL)
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "qa",
		MaxRequests: 1,
		Timeout:     c.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return c
}

// Ask sends one question. A non-2xx answer yields a *StatusError; an open
// circuit or a network failure yields a plain error.
func (c *HTTPClient) Ask(ctx context.Context, req domain.QARequest) (*domain.QAResponse, error) {
	if req.History == nil {
		req.History = []domain.ChatTurn{}
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.log.Debug("request short-circuited: %v", err)
		}
		return nil, err
	}
	return out.(*domain.QAResponse), nil
}

func (c *HTTPClient) post(ctx context.Context, body domain.QARequest) (*domain.QAResponse, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("qa: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, jsonData)
	if err != nil {
		return nil, fmt.Errorf("qa: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("POST %s (%d bytes, %d history turns)", c.endpoint, len(jsonData), len(body.History))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qa: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qa: read response: %w", err)
	}
	c.log.Debug("status %d", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var result domain.QAResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("qa: unmarshal response: %w", err)
	}
	return &result, nil
}
