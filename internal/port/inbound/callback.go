package inbound

import "github.com/gin-gonic/gin"

// CallbackHttpPort defines HTTP handler interface for processor callbacks.
type CallbackHttpPort interface {
	// HandleCryptoBot handles POST /webhooks/cryptobot
	HandleCryptoBot(c *gin.Context)

	// HandleMulenPay handles POST /webhooks/mulenpay
	HandleMulenPay(c *gin.Context)

	// HandleFreekassa handles POST /webhooks/freekassa
	HandleFreekassa(c *gin.Context)

	// HandleKassaAI handles POST /webhooks/kassaai
	HandleKassaAI(c *gin.Context)

	// HandleRobokassa handles POST /webhooks/robokassa
	HandleRobokassa(c *gin.Context)

	// Health handles GET /health/webhooks
	// Reports which processors accept callbacks.
	Health(c *gin.Context)
}
