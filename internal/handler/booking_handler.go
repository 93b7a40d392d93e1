package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkbook/service-booking/internal/application"
	"github.com/inkbook/service-booking/internal/platform/auth"
	"github.com/inkbook/service-booking/internal/platform/middleware"
	"github.com/inkbook/service-booking/internal/platform/response"
)

// BookingHandler handles staff HTTP requests for booking request operations.
type BookingHandler struct {
	service *application.LifecycleService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service *application.LifecycleService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers all staff booking request routes on the given router group.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	staff := middleware.RequireRole(auth.RoleStudio, auth.RoleArtist, auth.RoleAdmin)

	bookings := r.Group("/api/v1/booking-requests")
	bookings.Use(authMW, staff)
	{
		bookings.GET("", h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/side-effects", h.SideEffects)
		bookings.POST("/:id/review", h.StartReview)
		bookings.PUT("/:id/quote", h.UpdateQuote)
		bookings.POST("/:id/reject", h.Reject)
		bookings.POST("/:id/deposit", h.RequestDeposit)
		bookings.POST("/:id/confirm", h.Confirm)
		bookings.POST("/:id/reschedule", h.Reschedule)
		bookings.POST("/:id/no-show", h.MarkNoShow)
		bookings.POST("/:id/complete", h.Complete)
		bookings.POST("/:id/cancel", h.Cancel)
		bookings.POST("/:id/refund", h.IssueRefund)
		bookings.POST("/:id/cancel-with-refund", h.CancelWithRefund)
		bookings.DELETE("/:id", middleware.RequireRole(auth.RoleStudio, auth.RoleAdmin), h.Erase)
	}
}

// ListBookings handles GET /api/v1/booking-requests. Staff only see their own studio.
func (h *BookingHandler) ListBookings(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	page, limit := parsePagination(c)
	query := application.ListQuery{Status: c.Query("status"), Page: page, Limit: limit}
	if raw := c.Query("artist_id"); raw != "" {
		artistID, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid artist ID")
			return
		}
		query.ArtistID = &artistID
	}

	result, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// GetBooking handles GET /api/v1/booking-requests/:id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	result, err := h.service.Get(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// SideEffects handles GET /api/v1/booking-requests/:id/side-effects.
func (h *BookingHandler) SideEffects(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	result, err := h.service.SideEffects(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// StartReview handles POST /api/v1/booking-requests/:id/review.
func (h *BookingHandler) StartReview(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	result, err := h.service.StartReview(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// UpdateQuote handles PUT /api/v1/booking-requests/:id/quote.
func (h *BookingHandler) UpdateQuote(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.UpdateQuoteCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.UpdateQuote(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Reject handles POST /api/v1/booking-requests/:id/reject.
func (h *BookingHandler) Reject(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.RejectCommand
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.service.Reject(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// RequestDeposit handles POST /api/v1/booking-requests/:id/deposit.
func (h *BookingHandler) RequestDeposit(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.RequestDepositCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.RequestDeposit(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Confirm handles POST /api/v1/booking-requests/:id/confirm.
func (h *BookingHandler) Confirm(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.ConfirmCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Confirm(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Reschedule handles POST /api/v1/booking-requests/:id/reschedule.
func (h *BookingHandler) Reschedule(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.RescheduleCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Reschedule(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// MarkNoShow handles POST /api/v1/booking-requests/:id/no-show.
func (h *BookingHandler) MarkNoShow(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.NoShowCommand
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.service.MarkNoShow(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Complete handles POST /api/v1/booking-requests/:id/complete.
func (h *BookingHandler) Complete(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	result, err := h.service.Complete(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Cancel handles POST /api/v1/booking-requests/:id/cancel.
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.CancelCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Cancel(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// IssueRefund handles POST /api/v1/booking-requests/:id/refund.
func (h *BookingHandler) IssueRefund(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.IssueRefundCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.IssueRefund(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CancelWithRefund handles POST /api/v1/booking-requests/:id/cancel-with-refund.
// A failed refund still answers 200; the side_effects block reports it.
func (h *BookingHandler) CancelWithRefund(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	var req application.CancelWithRefundCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CancelWithRefund(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Erase handles DELETE /api/v1/booking-requests/:id.
func (h *BookingHandler) Erase(c *gin.Context) {
	actor, bookingID, ok := h.target(c)
	if !ok {
		return
	}

	if err := h.service.Erase(c.Request.Context(), actor, bookingID); err != nil {
		response.Error(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// target resolves the caller and the :id path parameter, writing the error
// response itself when either is missing.
func (h *BookingHandler) target(c *gin.Context) (application.Actor, uuid.UUID, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return application.Actor{}, uuid.Nil, false
	}
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking ID")
		return application.Actor{}, uuid.Nil, false
	}
	return actor, bookingID, true
}

func actorFrom(c *gin.Context) (application.Actor, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return application.Actor{}, false
	}
	role, ok := middleware.GetUserRole(c)
	if !ok {
		return application.Actor{}, false
	}
	studioID, _ := middleware.GetStudioID(c)
	return application.Actor{UserID: userID, Role: role, StudioID: studioID}, true
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		response.BadRequest(c, err.Error())
		return false
	}
	return true
}

// parsePagination extracts page and limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}
