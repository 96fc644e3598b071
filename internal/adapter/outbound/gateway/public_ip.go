package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/paygate/server/internal/port/outbound"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultIPEndpoints are queried in order until one returns an IPv4 address.
var DefaultIPEndpoints = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
	"https://ipinfo.io/ip",
}

const (
	lookupTimeout = 5 * time.Second
	ipCacheTTL    = 24 * time.Hour

	// failedLookupTTL is how long callers get the fallback after every endpoint failed.
	failedLookupTTL = 5 * time.Minute
)

// PublicIPResolver finds the server's public IPv4 address once per process.
// Concurrent first callers share a single lookup, and a failed lookup is
// remembered for failedLookupTTL before trying again.
type PublicIPResolver struct {
	configured string
	fallback   string
	endpoints  []string
	http       *http.Client
	cache      outbound.PublicIPCachePort
	logger     *zap.Logger
	now        func() time.Time

	group       singleflight.Group
	mu          sync.RWMutex
	ip          string
	failedUntil time.Time
}

// NewPublicIPResolver creates a resolver. A non-empty configured address skips the lookup.
// cache may be nil.
func NewPublicIPResolver(configured, fallback string, httpClient *http.Client, cache outbound.PublicIPCachePort, logger *zap.Logger) *PublicIPResolver {
	return &PublicIPResolver{
		configured: strings.TrimSpace(configured),
		fallback:   fallback,
		endpoints:  DefaultIPEndpoints,
		http:       httpClient,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

// WithFallback returns a view of the resolver with a different fallback address.
// The lookup result is shared.
func (r *PublicIPResolver) WithFallback(fallback string) outbound.PublicIPPort {
	return fallbackView{resolver: r, fallback: fallback}
}

type fallbackView struct {
	resolver *PublicIPResolver
	fallback string
}

func (v fallbackView) PublicIP(ctx context.Context) string {
	if ip := v.resolver.resolve(ctx); ip != "" {
		return ip
	}
	return v.fallback
}

// PublicIP returns the public address or the fallback when every endpoint fails.
func (r *PublicIPResolver) PublicIP(ctx context.Context) string {
	if ip := r.resolve(ctx); ip != "" {
		return ip
	}
	return r.fallback
}

func (r *PublicIPResolver) resolve(ctx context.Context) string {
	if r.configured != "" {
		return r.configured
	}

	r.mu.RLock()
	ip, failedUntil := r.ip, r.failedUntil
	r.mu.RUnlock()
	if ip != "" {
		return ip
	}
	if r.now().Before(failedUntil) {
		return ""
	}

	v, _, _ := r.group.Do("public-ip", func() (any, error) {
		// Detach so one caller's cancellation does not fail the shared lookup.
		lookupCtx := context.WithoutCancel(ctx)
		found := r.lookup(lookupCtx)
		r.mu.Lock()
		if found != "" {
			r.ip = found
		} else {
			r.failedUntil = r.now().Add(failedLookupTTL)
		}
		r.mu.Unlock()
		return found, nil
	})
	return v.(string)
}

func (r *PublicIPResolver) lookup(ctx context.Context) string {
	if r.cache != nil {
		if ip, err := r.cache.Get(ctx); err == nil && ip != "" {
			return ip
		}
	}

	for _, endpoint := range r.endpoints {
		ip, err := r.fetch(ctx, endpoint)
		if err != nil {
			r.logger.Debug("public ip endpoint failed", zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		if ip == "" {
			continue
		}
		r.logger.Info("public ip resolved", zap.String("ip", ip), zap.String("endpoint", endpoint))
		if r.cache != nil {
			if err := r.cache.Set(ctx, ip, ipCacheTTL); err != nil {
				r.logger.Warn("failed to cache public ip", zap.Error(err))
			}
		}
		return ip
	}

	r.logger.Warn("public ip endpoints exhausted, using fallback", zap.String("fallback", r.fallback))
	return ""
}

func (r *PublicIPResolver) fetch(ctx context.Context, endpoint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	candidate := strings.TrimSpace(string(body))
	if parsed := net.ParseIP(candidate); parsed == nil || parsed.To4() == nil {
		return "", nil
	}
	return candidate, nil
}

// Compile-time interface assertions
var _ outbound.PublicIPPort = (*PublicIPResolver)(nil)
