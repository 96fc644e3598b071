package outbound

import (
	"context"

	"github.com/paygate/server/internal/model"
)

// PaymentGatewayPort is an upstream processor's order API.
type PaymentGatewayPort interface {
	// Provider returns the processor identifier.
	Provider() model.Provider

	// CreateOrder opens an order upstream and returns its reference and payment URL.
	CreateOrder(ctx context.Context, req *model.GatewayOrderRequest) (*model.GatewayOrder, error)

	// GetOrder fetches an order's upstream state.
	GetOrder(ctx context.Context, externalRef string) (*model.GatewayOrder, error)

	// ListOperations fetches the processor's own ledger for a window.
	ListOperations(ctx context.Context, window model.TimeWindow) ([]*model.UpstreamOperation, error)
}

// PaymentGatewayRegistryPort resolves gateways by provider.
type PaymentGatewayRegistryPort interface {
	Get(provider model.Provider) (PaymentGatewayPort, error)
	Providers() []model.Provider
}

// PublicIPPort resolves this host's public IPv4 address.
type PublicIPPort interface {
	PublicIP(ctx context.Context) string
}
