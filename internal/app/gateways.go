package app

import (
	"github.com/paygate/server/internal/adapter/outbound/gateway"
	redisadapter "github.com/paygate/server/internal/adapter/outbound/redis"
	"github.com/paygate/server/internal/infra/config"
	"github.com/paygate/server/internal/infra/httpclient"
	"github.com/paygate/server/internal/port/outbound"
)

// buildGateways registers a gateway for every enabled processor.
// All API clients share one pooled transport.
func (a *App) buildGateways() (*gateway.Registry, error) {
	httpClient := httpclient.New(a.config.HTTPClient)
	registry := gateway.NewRegistry()
	p := a.config.Providers

	clientFor := func(provider, baseURL string) *gateway.Client {
		return gateway.NewClient(provider, a.clientConfig(baseURL), httpClient, a.metrics, a.zapLogger.Named("gateway"))
	}

	var ipCache outbound.PublicIPCachePort
	if a.redis != nil {
		ipCache = redisadapter.NewPublicIPCache(a.redis, a.metrics)
	}
	resolver := gateway.NewPublicIPResolver(a.config.Gateway.PublicIP, "", httpClient, ipCache, a.zapLogger.Named("public_ip"))

	if p.CryptoBot.Enabled {
		registry.Register(gateway.NewCryptoBotGateway(clientFor("cryptobot", p.CryptoBot.BaseURL), gateway.CryptoBotConfig{
			APIToken:  p.CryptoBot.APIToken,
			ExpiresIn: p.CryptoBot.ExpiresIn,
		}))
	}

	if p.MulenPay.Enabled {
		registry.Register(gateway.NewMulenPayGateway(clientFor("mulenpay", p.MulenPay.BaseURL), gateway.MulenPayConfig{
			APIKey:    p.MulenPay.APIKey,
			ShopID:    p.MulenPay.ShopID,
			SecretKey: p.MulenPay.SecretKey,
			Language:  p.MulenPay.Language,
		}))
	}

	if p.Freekassa.Enabled {
		registry.Register(gateway.NewFreekassaGateway(
			clientFor("freekassa", p.Freekassa.BaseURL),
			shopAPIConfig(p.Freekassa),
			resolver.WithFallback(p.Freekassa.FallbackIP),
		))
	}

	if p.KassaAI.Enabled {
		registry.Register(gateway.NewKassaAIGateway(
			clientFor("kassaai", p.KassaAI.BaseURL),
			shopAPIConfig(p.KassaAI),
			resolver.WithFallback(p.KassaAI.FallbackIP),
		))
	}

	if p.Robokassa.Enabled {
		registry.Register(gateway.NewRobokassaGateway(gateway.RobokassaConfig{
			CheckoutURL:    p.Robokassa.CheckoutURL,
			Login:          p.Robokassa.Login,
			Password1:      p.Robokassa.Password1,
			Culture:        p.Robokassa.Culture,
			IsTest:         p.Robokassa.IsTest,
			ReceiptEnabled: p.Robokassa.ReceiptEnabled,
			ReceiptSNO:     p.Robokassa.ReceiptSNO,
			ReceiptTax:     p.Robokassa.ReceiptTax,
			PaymentMethod:  p.Robokassa.PaymentMethod,
			PaymentObject:  p.Robokassa.PaymentObject,
		}))
	}

	return registry, nil
}

func (a *App) clientConfig(baseURL string) gateway.ClientConfig {
	cfg := gateway.DefaultClientConfig(baseURL)
	g := a.config.Gateway
	if g.MaxAttempts > 0 {
		cfg.MaxAttempts = g.MaxAttempts
	}
	if g.BaseDelay > 0 {
		cfg.BaseDelay = g.BaseDelay
	}
	if len(g.RetryableStatuses) > 0 {
		cfg.RetryableStatuses = g.RetryableStatuses
	}
	if g.BreakerFailures > 0 {
		cfg.BreakerFailures = g.BreakerFailures
	}
	if g.BreakerTimeout > 0 {
		cfg.BreakerTimeout = g.BreakerTimeout
	}
	return cfg
}

func shopAPIConfig(c config.ShopConfig) gateway.ShopAPIConfig {
	return gateway.ShopAPIConfig{
		ShopID:          c.ShopID,
		APIKey:          c.APIKey,
		PaymentSystemID: c.PaymentSystemID,
		DefaultEmail:    c.DefaultEmail,
	}
}
