package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paygate/server/internal/utils/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

var errMalformedResponse = errors.New("malformed upstream response")

// ClientConfig tunes the retrying request loop.
type ClientConfig struct {
	BaseURL           string
	MaxAttempts       int
	BaseDelay         time.Duration
	RetryableStatuses []int
	// BreakerFailures consecutive transient failures open the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultClientConfig returns the stock retry policy.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		MaxAttempts:       3,
		BaseDelay:         500 * time.Millisecond,
		RetryableStatuses: []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

// Request is one logical upstream call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers map[string]string
}

// Client performs upstream requests with bounded retries behind a circuit breaker.
type Client struct {
	provider  string
	cfg       ClientConfig
	http      *http.Client
	retryable map[int]bool
	breaker   *gobreaker.CircuitBreaker[[]byte]
	metrics   *metrics.Metrics
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for one provider. m may be nil.
func NewClient(provider string, cfg ClientConfig, httpClient *http.Client, m *metrics.Metrics, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	retryable := make(map[int]bool, len(cfg.RetryableStatuses))
	for _, s := range cfg.RetryableStatuses {
		retryable[s] = true
	}

	c := &Client{
		provider:  provider,
		cfg:       cfg,
		http:      httpClient,
		retryable: retryable,
		metrics:   m,
		logger:    logger.With(zap.String("provider", provider)),
		sleep:     sleepContext,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Only transient failures count against the upstream.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if c.metrics != nil {
				c.metrics.SetBreakerState(name, int(to))
			}
		},
	})
	return c
}

// Do runs req and decodes the JSON response into out. A nil out discards the body.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	raw, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &UpstreamError{
			Provider: c.provider,
			Method:   req.Method,
			Path:     req.Path,
			Status:   http.StatusOK,
			Body:     snippet(raw),
			Attempts: 1,
			Err:      fmt.Errorf("%w: %v", errMalformedResponse, err),
		}
	}
	return nil
}

// DoRaw runs req and returns the raw 2xx response body.
func (c *Client) DoRaw(ctx context.Context, req Request) ([]byte, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.attempt(ctx, req, payload)
		})
		if err == nil {
			c.observe(http.StatusOK, start)
			return body, nil
		}

		if ctx.Err() != nil {
			c.logger.Debug("upstream request cancelled",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Int("attempt", attempt),
			)
			return nil, ctx.Err()
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.observe(0, start)
			return nil, &UpstreamError{Provider: c.provider, Method: req.Method, Path: req.Path,
				Transient: true, Attempts: attempt, Err: err}
		}

		lastErr = err
		var ue *UpstreamError
		if !errors.As(err, &ue) || !ue.Transient {
			c.logger.Error("upstream request failed",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if ue != nil {
				ue.Attempts = attempt
			}
			c.observe(statusOf(err), start)
			return nil, err
		}

		c.logger.Warn("upstream request attempt failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Int("status", ue.Status),
			zap.Error(ue.Err),
		)
		if attempt == c.cfg.MaxAttempts {
			break
		}
		if c.metrics != nil {
			c.metrics.RecordGatewayRetry(c.provider)
		}
		if err := c.sleep(ctx, time.Duration(attempt)*c.cfg.BaseDelay); err != nil {
			return nil, err
		}
	}

	var ue *UpstreamError
	if errors.As(lastErr, &ue) {
		ue.Attempts = c.cfg.MaxAttempts
	}
	c.logger.Error("upstream request failed after retries",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("attempts", c.cfg.MaxAttempts),
		zap.Error(lastErr),
	)
	c.observe(statusOf(lastErr), start)
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req Request, payload []byte) ([]byte, error) {
	target := strings.TrimRight(c.cfg.BaseURL, "/") + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, &UpstreamError{Provider: c.provider, Method: req.Method, Path: req.Path, Err: err}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Provider: c.provider, Method: req.Method, Path: req.Path,
			Transient: isNetworkError(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Provider: c.provider, Method: req.Method, Path: req.Path,
			Status: resp.StatusCode, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{
			Provider:  c.provider,
			Method:    req.Method,
			Path:      req.Path,
			Status:    resp.StatusCode,
			Body:      snippet(body),
			Transient: c.retryable[resp.StatusCode],
		}
	}
	return body, nil
}

func (c *Client) observe(status int, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordGatewayRequest(c.provider, status, time.Since(start))
	}
}

// isNetworkError reports connection failures, dropped connections and timeouts.
// TLS verification failures and malformed URLs come back from the client as
// *url.Error too, but retrying them cannot succeed.
func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusOf(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}

func snippet(b []byte) string {
	const limit = 500
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
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
