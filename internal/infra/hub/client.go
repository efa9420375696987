// Package hub is an HTTP client for a hub's public API. It serves on-chain
// signer events and username ownership to the revalidation sweep.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hub-revalidator/pkg/common"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

// Config controls how the client talks to the hub.
type Config struct {
	BaseURL string
	// RPS and Burst bound the request rate against the hub.
	RPS   float64
	Burst int
	// MaxRetries is the number of retries for transient failures (transport
	// errors, 429 and 5xx responses).
	MaxRetries uint64
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// Metrics records request level measurements of the client.
type Metrics interface {
	ObserveRequest(endpoint, status string, d time.Duration)
	IncRetries(endpoint string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, string, time.Duration) {}
func (noopMetrics) IncRetries(string)                            {}

// ErrNotFound is returned when the hub answers 404.
var ErrNotFound = errors.New("resource not found")

// Client is a rate limited, retrying, traced hub API client.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	maxRetries  uint64
	initialWait time.Duration
	metrics     Metrics

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a hub client. The httpClient is used as is; callers wrap
// its transport with tracing. metrics may be nil.
func NewClient(
	cfg Config,
	httpClient *http.Client,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid hub url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid hub url %q: scheme and host are required", cfg.BaseURL)
	}

	if metrics == nil {
		metrics = noopMetrics{}
	}

	rps, burst := cfg.RPS, cfg.Burst
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 10
	}
	initialWait := cfg.InitialBackoff
	if initialWait <= 0 {
		initialWait = 250 * time.Millisecond
	}

	return &Client{
		baseURL:     base,
		httpClient:  httpClient,
		rateLimiter: common.NewRateLimiter(rps, burst),
		maxRetries:  cfg.MaxRetries,
		initialWait: initialWait,
		metrics:     metrics,
		logger:      logger.With("component", "hub_client"),
		tracer:      tracer,
	}, nil
}

// statusError is a non-2xx response from the hub.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected response from hub (status: %d): %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= http.StatusInternalServerError
}

// getJSON issues a GET for path with query and decodes the JSON body into out.
// Transient failures are retried with exponential backoff; 4xx responses
// other than 429 fail immediately.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	ctx, span := c.tracer.Start(ctx, "hub_client.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.initialWait
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, c.maxRetries), ctx)

	var (
		permanent error
		attempts  int
	)
	operation := func() error {
		attempts++
		if attempts > 1 {
			c.metrics.IncRetries(path)
		}
		start := time.Now()
		err := c.doGet(ctx, endpoint.String(), out)
		c.metrics.ObserveRequest(path, statusLabel(err), time.Since(start))
		if err == nil {
			return nil
		}

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			permanent = err
			return nil
		}
		if ctx.Err() != nil {
			permanent = ctx.Err()
			return nil
		}

		c.logger.Debug(ctx, "Hub request failed, will retry", "path", path, "attempt", attempts, "error", err)
		return err
	}

	err := backoff.Retry(operation, policy)
	if err == nil {
		err = permanent
	}
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hub request failed")
		return fmt.Errorf("hub request %s failed after %d attempt(s): %w", path, attempts, err)
	}

	span.SetStatus(codes.Ok, "hub request completed")
	return nil
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &statusError{code: resp.StatusCode, body: ErrNotFound.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(data)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func statusLabel(err error) string {
	if err == nil {
		return "200"
	}
	var se *statusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.code)
	}
	return "error"
}
