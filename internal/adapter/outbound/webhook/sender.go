package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/metrics"
)

const maxResponseBytes = 64 << 10

// SenderConfig bounds each delivery.
type SenderConfig struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// DefaultSenderConfig returns 10s total and 5s connect timeouts.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{Timeout: 10 * time.Second, ConnectTimeout: 5 * time.Second}
}

// httpSender implements WebhookSenderPort over HTTP.
type httpSender struct {
	client *http.Client
}

// NewHTTPSender creates a sender with its own transport so subscriber traffic
// never shares connection limits with processor calls.
func NewHTTPSender(cfg SenderConfig) outbound.WebhookSenderPort {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &httpSender{client: &http.Client{Transport: transport, Timeout: cfg.Timeout}}
}

func (s *httpSender) Send(ctx context.Context, req *outbound.WebhookRequest) (*outbound.WebhookResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outbound.ErrDeliveryRequest, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, outbound.ErrDeliveryTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, outbound.ErrDeliveryTimeout
		}
		return nil, fmt.Errorf("read response (HTTP %d): %w", resp.StatusCode, err)
	}
	return &outbound.WebhookResponse{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// instrumentedSender records delivery metrics around another sender.
type instrumentedSender struct {
	inner   outbound.WebhookSenderPort
	metrics *metrics.Metrics
}

// WithMetrics wraps a sender with delivery metrics.
func WithMetrics(inner outbound.WebhookSenderPort, m *metrics.Metrics) outbound.WebhookSenderPort {
	if m == nil {
		return inner
	}
	return &instrumentedSender{inner: inner, metrics: m}
}

func (s *instrumentedSender) Send(ctx context.Context, req *outbound.WebhookRequest) (*outbound.WebhookResponse, error) {
	start := time.Now()
	resp, err := s.inner.Send(ctx, req)

	outcome := "success"
	switch {
	case errors.Is(err, outbound.ErrDeliveryTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		outcome = "failed"
	}
	s.metrics.RecordDelivery(req.Headers["X-Webhook-Event"], outcome, time.Since(start))
	return resp, err
}
