package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSender_PostsBodyAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "payment.settled", r.Header.Get("X-Webhook-Event"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer server.Close()

	sender := NewHTTPSender(DefaultSenderConfig())
	resp, err := sender.Send(context.Background(), &outbound.WebhookRequest{
		URL:     server.URL,
		Headers: map[string]string{"X-Webhook-Event": "payment.settled"},
		Body:    []byte(`{"a":1}`),
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", resp.Body)
}

func TestHTTPSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	sender := NewHTTPSender(SenderConfig{Timeout: 50 * time.Millisecond, ConnectTimeout: 50 * time.Millisecond})
	_, err := sender.Send(context.Background(), &outbound.WebhookRequest{URL: server.URL, Body: []byte(`{}`)})

	assert.ErrorIs(t, err, outbound.ErrDeliveryTimeout)
}

func TestHTTPSender_ErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	resp, err := NewHTTPSender(DefaultSenderConfig()).Send(context.Background(), &outbound.WebhookRequest{URL: server.URL})

	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", resp.Body)
}

func TestHTTPSender_PartialBodyIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("only part"))
	}))
	defer server.Close()

	resp, err := NewHTTPSender(DefaultSenderConfig()).Send(context.Background(), &outbound.WebhookRequest{URL: server.URL})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.NotErrorIs(t, err, outbound.ErrDeliveryTimeout)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestHTTPSender_InvalidURL(t *testing.T) {
	_, err := NewHTTPSender(DefaultSenderConfig()).Send(context.Background(), &outbound.WebhookRequest{URL: "://no-scheme"})

	assert.ErrorIs(t, err, outbound.ErrDeliveryRequest)
}

func TestWithMetrics_CountsOutcomes(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	inner := senderStub(func() (*outbound.WebhookResponse, error) {
		return &outbound.WebhookResponse{StatusCode: 503}, nil
	})

	_, err := WithMetrics(inner, m).Send(context.Background(), &outbound.WebhookRequest{
		Headers: map[string]string{"X-Webhook-Event": "payment.failed"},
	})

	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("payment.failed", "failed")))
}

type senderStub func() (*outbound.WebhookResponse, error)

func (s senderStub) Send(context.Context, *outbound.WebhookRequest) (*outbound.WebhookResponse, error) {
	return s()
}
