package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkbook/service-booking/internal/application"
	"github.com/inkbook/service-booking/internal/platform/auth"
	"github.com/inkbook/service-booking/internal/platform/middleware"
	"github.com/inkbook/service-booking/internal/platform/response"
)

// AdminBookingHandler handles admin HTTP requests for booking request management.
type AdminBookingHandler struct {
	service *application.LifecycleService
}

// NewAdminBookingHandler creates a new AdminBookingHandler.
func NewAdminBookingHandler(service *application.LifecycleService) *AdminBookingHandler {
	return &AdminBookingHandler{service: service}
}

// RegisterRoutes registers admin booking routes.
func (h *AdminBookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/booking-requests", h.ListBookings)
		admin.GET("/booking-requests/expired-deposits", h.ExpiredDeposits)
		admin.GET("/stats/booking-requests", h.BookingStats)
	}
}

// ListBookings handles GET /api/v1/admin/booking-requests across all studios.
func (h *AdminBookingHandler) ListBookings(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	page, limit := parsePagination(c)
	query := application.ListQuery{Status: c.Query("status"), Page: page, Limit: limit}
	if raw := c.Query("studio_id"); raw != "" {
		studioID, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid studio ID")
			return
		}
		query.StudioID = &studioID
	}

	result, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// ExpiredDeposits handles GET /api/v1/admin/booking-requests/expired-deposits.
func (h *AdminBookingHandler) ExpiredDeposits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.service.ExpiredDeposits(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// BookingStats handles GET /api/v1/admin/stats/booking-requests.
func (h *AdminBookingHandler) BookingStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}
