package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkbook/service-booking/internal/application"
	"github.com/inkbook/service-booking/internal/gateway"
	"github.com/inkbook/service-booking/internal/platform/response"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives payment processor callbacks.
type WebhookHandler struct {
	service *application.LifecycleService
	secret  string
	now     func() time.Time
	logger  *zap.Logger
}

// NewWebhookHandler creates a WebhookHandler. An empty secret disables
// signature checks and is only accepted in development.
func NewWebhookHandler(service *application.LifecycleService, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, secret: secret, now: time.Now, logger: logger}
}

// RegisterRoutes registers the webhook route.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/api/v1/webhooks/payments", h.Payment)
}

// Payment handles POST /api/v1/webhooks/payments.
func (h *WebhookHandler) Payment(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}

	if h.secret != "" {
		if err := gateway.VerifySignature(h.secret, c.GetHeader(gateway.SignatureHeader), body, h.now(), gateway.DefaultSignatureTolerance); err != nil {
			h.logger.Warn("rejected payment webhook", zap.Error(err), zap.String("remote_addr", c.ClientIP()))
			response.Unauthorized(c, err.Error())
			return
		}
	}

	evt, ok, err := gateway.ParseWebhook(body)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": application.WebhookResult{Outcome: application.WebhookIgnored}})
		return
	}

	result, err := h.service.HandleDepositCompleted(c.Request.Context(), evt)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
