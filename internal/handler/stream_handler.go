package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inkbook/service-booking/internal/application"
	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/platform/auth"
	"github.com/inkbook/service-booking/internal/platform/middleware"
	"github.com/inkbook/service-booking/internal/platform/response"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
)

// StatusSubscriber hands out per-booking status update feeds.
type StatusSubscriber interface {
	Subscribe(bookingID uuid.UUID) (<-chan application.StatusUpdate, func())
}

// BookingWatcher marks a booking as having live viewers so the
// reconciliation poller refreshes it.
type BookingWatcher interface {
	Watch(bookingID uuid.UUID) func()
}

// StreamHandler pushes live status updates over a websocket.
type StreamHandler struct {
	service  *application.LifecycleService
	updates  StatusSubscriber
	watcher  BookingWatcher
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler creates a StreamHandler. allowedOrigins empty accepts
// any origin.
func NewStreamHandler(
	service *application.LifecycleService,
	updates StatusSubscriber,
	watcher BookingWatcher,
	allowedOrigins []string,
	logger *zap.Logger,
) *StreamHandler {
	return &StreamHandler{
		service: service,
		updates: updates,
		watcher: watcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// RegisterRoutes registers the stream route.
func (h *StreamHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	r.GET("/api/v1/booking-requests/:id/stream",
		middleware.AuthMiddleware(jwtManager),
		middleware.RequireRole(auth.RoleStudio, auth.RoleArtist, auth.RoleAdmin),
		h.Stream,
	)
}

// Stream handles GET /api/v1/booking-requests/:id/stream. The first frame is
// the current status; later frames follow every change.
func (h *StreamHandler) Stream(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking ID")
		return
	}

	// Subscribe before reading the current state so a change committed in
	// between still reaches the feed.
	feed, unsubscribe := h.updates.Subscribe(bookingID)
	defer unsubscribe()

	current, err := h.service.Get(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	unwatch := h.watcher.Watch(bookingID)
	defer unwatch()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("status stream opened",
		zap.String("booking_id", bookingID.String()),
		zap.String("user_id", actor.UserID.String()),
	)

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	first := application.StatusUpdate{
		BookingID: current.ID,
		Status:    bookingDomain.BookingStatus(current.Status),
		Version:   current.Version,
		Expired:   current.DepositExpired,
		UpdatedAt: current.UpdatedAt,
	}
	if err := writeFrame(conn, first); err != nil {
		return
	}
	lastVersion := first.Version

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case update, ok := <-feed:
			if !ok {
				return
			}
			if update.Version < lastVersion {
				continue
			}
			lastVersion = update.Version
			if err := writeFrame(conn, update); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, update application.StatusUpdate) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(update)
}

// readUntilClosed drains client frames so pongs and close messages are
// processed, and closes done when the connection ends.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
