package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkbook/service-booking/internal/application"
	"github.com/inkbook/service-booking/internal/platform/response"
)

// PublicHandler serves unauthenticated client-facing routes.
type PublicHandler struct {
	service *application.LifecycleService
}

// NewPublicHandler creates a new PublicHandler.
func NewPublicHandler(service *application.LifecycleService) *PublicHandler {
	return &PublicHandler{service: service}
}

// RegisterRoutes registers the public routes.
func (h *PublicHandler) RegisterRoutes(r *gin.RouterGroup) {
	public := r.Group("/api/v1/public")
	{
		public.POST("/studios/:studio_id/booking-requests", h.Submit)
		public.GET("/deposits/:token", h.DepositView)
	}
}

// Submit handles POST /api/v1/public/studios/:studio_id/booking-requests.
func (h *PublicHandler) Submit(c *gin.Context) {
	studioID, err := uuid.Parse(c.Param("studio_id"))
	if err != nil {
		response.BadRequest(c, "invalid studio ID")
		return
	}

	var req application.SubmitCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.StudioID = studioID

	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{
		"id":             result.ID,
		"booking_number": result.BookingNumber,
		"status":         result.Status,
	})
}

// DepositView handles GET /api/v1/public/deposits/:token.
func (h *PublicHandler) DepositView(c *gin.Context) {
	result, err := h.service.PublicDepositView(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
