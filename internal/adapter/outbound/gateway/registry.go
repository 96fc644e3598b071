package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
)

// Registry manages configured processor gateways.
type Registry struct {
	mu       sync.RWMutex
	gateways map[model.Provider]outbound.PaymentGatewayPort
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[model.Provider]outbound.PaymentGatewayPort),
	}
}

// Register adds or replaces a gateway.
func (r *Registry) Register(g outbound.PaymentGatewayPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Provider()] = g
}

// Get returns the gateway for a provider.
func (r *Registry) Get(provider model.Provider) (outbound.PaymentGatewayPort, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, provider)
	}
	return g, nil
}

// Providers returns all registered providers in a stable order.
func (r *Registry) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]model.Provider, 0, len(r.gateways))
	for p := range r.gateways {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// Compile-time interface assertions
var _ outbound.PaymentGatewayRegistryPort = (*Registry)(nil)
