package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paygate/server/internal/utils/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32, *metrics.Metrics) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := DefaultClientConfig(server.URL)
	cfg.BaseDelay = time.Millisecond
	m := metrics.New("test", prometheus.NewRegistry())
	return NewClient("testpay", cfg, server.Client(), m, zap.NewNop()), &hits, m
}

func TestClient_RetriesServiceUnavailableThreeTimes(t *testing.T) {
	client, hits, m := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/orders"}, nil)

	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.Status)
	assert.True(t, ue.Transient)
	assert.Equal(t, 3, ue.Attempts)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.GatewayRetriesTotal.WithLabelValues("testpay")))
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	client, hits, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/orders/1"}, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.False(t, IsTransient(err))
}

func TestClient_MalformedJSONIsNotRetried(t *testing.T) {
	client, hits, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": tru`))
	})

	var out map[string]any
	err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/orders"}, &out)

	require.Error(t, err)
	assert.ErrorIs(t, err, errMalformedResponse)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestClient_RecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	client, hits, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	})

	var out struct {
		ID string `json:"id"`
	}
	err := client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/orders", Body: map[string]string{"a": "b"}}, &out)

	require.NoError(t, err)
	assert.Equal(t, "abc", out.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestClient_ConnectionErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	cfg := DefaultClientConfig(url)
	cfg.BaseDelay = time.Millisecond
	client := NewClient("testpay", cfg, &http.Client{Timeout: time.Second}, nil, zap.NewNop())

	err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, nil)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.Transient)
	assert.Zero(t, ue.Status)
	assert.Equal(t, 3, ue.Attempts)
}

func TestClient_PermanentTransportErrorsAreNotRetried(t *testing.T) {
	var hits int32
	tlsServer := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(tlsServer.Close)

	tests := []struct {
		name    string
		baseURL string
	}{
		{name: "untrusted certificate", baseURL: tlsServer.URL},
		{name: "unsupported scheme", baseURL: "ftp://gateway.invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClientConfig(tt.baseURL)
			cfg.BaseDelay = time.Millisecond
			m := metrics.New("test", prometheus.NewRegistry())
			client := NewClient("testpay", cfg, &http.Client{Timeout: time.Second}, m, zap.NewNop())

			err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/orders"}, nil)

			var ue *UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.False(t, ue.Transient)
			assert.Equal(t, 1, ue.Attempts)
			assert.Zero(t, testutil.ToFloat64(m.GatewayRetriesTotal.WithLabelValues("testpay")))
		})
	}
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestClient_CancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client, hits, m := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client.cfg.BaseDelay = time.Second

	err := client.Do(ctx, Request{Method: http.MethodGet, Path: "/orders"}, nil)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Zero(t, testutil.ToFloat64(m.GatewayRetriesTotal.WithLabelValues("testpay")))
}

func TestClient_BreakerOpensAfterConsecutiveTransientFailures(t *testing.T) {
	client, hits, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.cfg.MaxAttempts = 1

	for i := 0; i < 5; i++ {
		_ = client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, nil)
	}
	err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, nil)

	assert.Equal(t, int32(5), atomic.LoadInt32(hits))
	assert.True(t, IsTransient(err))
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	client, hits, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	for i := 0; i < 8; i++ {
		_ = client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, nil)
	}

	assert.Equal(t, int32(8), atomic.LoadInt32(hits))
}
