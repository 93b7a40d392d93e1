package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/inkbook/service-booking/internal/application"
	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/events"
	"github.com/inkbook/service-booking/internal/gateway"
	"github.com/inkbook/service-booking/internal/platform/auth"
	"github.com/inkbook/service-booking/internal/platform/kafka"
	"github.com/inkbook/service-booking/internal/repository"
)

const webhookSecret = "whsec_test"

type stubGateway struct {
	mu       sync.Mutex
	sessions int
}

func (g *stubGateway) CreateDepositSession(_ context.Context, req application.DepositSessionRequest) (*application.GatewaySession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions++
	id := fmt.Sprintf("cs_%d", g.sessions)
	return &application.GatewaySession{SessionID: id, PaymentURL: "https://pay.example.com/" + id, ExpiresAt: req.ExpiresAt}, nil
}

func (g *stubGateway) ExpireSession(context.Context, string) error { return nil }

func (g *stubGateway) Refund(_ context.Context, req application.RefundRequest) (*application.RefundReceipt, error) {
	return &application.RefundReceipt{RefundID: "re_" + req.PaymentReference, Status: "succeeded"}, nil
}

type nopNotifier struct{}

func (nopNotifier) Dispatch(context.Context, application.Notification) error { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, string, kafka.CloudEvent) error { return nil }

type testServer struct {
	router   *gin.Engine
	svc      *application.LifecycleService
	jwt      *auth.JWTManager
	hub      *events.Hub
	poller   *application.ReconciliationPoller
	studioID uuid.UUID
	staff    string
	admin    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:handler_%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&repository.BookingRequestModel{}, &repository.SideEffectModel{}))

	log := zap.NewNop()
	repo := repository.NewGormBookingRepository(db)
	hub := events.NewHub(log)
	svc := application.NewLifecycleService(repo, repository.NewGormSideEffectRepository(db), application.Collaborators{
		Payments:    &stubGateway{},
		Notifier:    nopNotifier{},
		Publisher:   nopPublisher{},
		Broadcaster: hub,
	}, application.LifecycleOptions{AllowCancelPaidWithoutRefund: true}, log)
	poller := application.NewReconciliationPoller(repo, nopPublisher{}, hub, time.Minute, log)

	jwtManager := auth.NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	s := &testServer{
		router:   gin.New(),
		svc:      svc,
		jwt:      jwtManager,
		hub:      hub,
		poller:   poller,
		studioID: uuid.New(),
	}
	s.staff = s.token(t, s.studioID, auth.RoleStudio)
	s.admin = s.token(t, uuid.Nil, auth.RoleAdmin)

	group := s.router.Group("")
	NewBookingHandler(svc).RegisterRoutes(group, jwtManager)
	NewAdminBookingHandler(svc).RegisterRoutes(group, jwtManager)
	NewPublicHandler(svc).RegisterRoutes(group)
	NewWebhookHandler(svc, webhookSecret, log).RegisterRoutes(group)
	NewStreamHandler(svc, hub, poller, nil, log).RegisterRoutes(group, jwtManager)
	return s
}

func (s *testServer) token(t *testing.T, studioID uuid.UUID, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateAccessToken(uuid.New(), studioID, role)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func (s *testServer) submit(t *testing.T) uuid.UUID {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/public/studios/"+s.studioID.String()+"/booking-requests", "", map[string]interface{}{
		"client_name":  "Ada Client",
		"client_email": "ada@example.com",
		"description":  "fine-line swallow",
		"placement":    "forearm",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "pending", created.Status)
	return created.ID
}

func (s *testServer) toDepositRequested(t *testing.T) uuid.UUID {
	t.Helper()
	id := s.submit(t)
	base := "/api/v1/booking-requests/" + id.String()

	w, _ := s.do(t, http.MethodPost, base+"/review", s.staff, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = s.do(t, http.MethodPut, base+"/quote", s.staff, map[string]interface{}{
		"quoted_price_cents": 20000, "deposit_amount_cents": 5000,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = s.do(t, http.MethodPost, base+"/deposit", s.staff, map[string]interface{}{"deposit_amount_cents": 5000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id
}

// bookingView decodes the parts of a booking response the tests inspect.
type bookingView struct {
	ID     uuid.UUID                  `json:"id"`
	Status string                     `json:"status"`
	State  map[string]json.RawMessage `json:"state"`
}

type transitionView struct {
	Booking           bookingView             `json:"booking"`
	RefundAmountCents *int64                  `json:"refund_amount_cents"`
	SideEffects       application.SideEffects `json:"side_effects"`
}

func webhookBody(eventID, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"checkout.session.completed","created":%d,
		"data":{"id":%q,"payment_reference":"ch_1","status":"completed"}}`, eventID, time.Now().Unix(), sessionID))
}

func TestPublicSubmitValidation(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodPost, "/api/v1/public/studios/"+s.studioID.String()+"/booking-requests", "",
		map[string]interface{}{"client_name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/public/studios/not-a-uuid/booking-requests", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStaffRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t)

	w, _ := s.do(t, http.MethodGet, "/api/v1/booking-requests/"+id.String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := s.token(t, uuid.New(), auth.RoleStudio)
	w, env := s.do(t, http.MethodGet, "/api/v1/booking-requests/"+id.String(), other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/booking-requests/"+id.String(), s.staff, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/booking-requests/"+uuid.NewString(), s.staff, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t)

	w, env := s.do(t, http.MethodPost, "/api/v1/booking-requests/"+id.String()+"/confirm", s.staff, map[string]interface{}{
		"scheduled_date": time.Now().Add(48 * time.Hour).Format(time.RFC3339), "duration_hours": 2,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)
	assert.Contains(t, env.Error.Message, "pending")
	assert.Contains(t, env.Error.Message, "confirm")
}

func TestDepositFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.toDepositRequested(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/booking-requests/"+id.String(), s.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dto bookingView
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, "deposit_requested", dto.Status)
	assert.Contains(t, dto.State, "session")
	assert.Contains(t, dto.State, "quote")

	body := webhookBody("evt_1", "cs_1")
	sig := gateway.Sign(webhookSecret, body, time.Now())

	w, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/payments", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "unsigned webhook")

	w, env = s.do(t, http.MethodPost, "/api/v1/webhooks/payments", "", body, gateway.SignatureHeader, sig)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res application.WebhookResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, application.WebhookApplied, res.Outcome)

	w, env = s.do(t, http.MethodPost, "/api/v1/webhooks/payments", "", body, gateway.SignatureHeader, sig)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, application.WebhookDuplicate, res.Outcome)

	w, env = s.do(t, http.MethodPost, "/api/v1/booking-requests/"+id.String()+"/cancel-with-refund", s.staff, map[string]interface{}{
		"cancelled_by": "studio", "refund_type": "full",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result transitionView
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "cancelled", result.Booking.Status)
	require.NotNil(t, result.SideEffects.Refund)
	assert.Equal(t, application.OutcomeIssued, result.SideEffects.Refund.Status)
	assert.Equal(t, int64(5000), *result.RefundAmountCents)

	w, env = s.do(t, http.MethodGet, "/api/v1/booking-requests/"+id.String()+"/side-effects", s.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var effects []application.SideEffectDTO
	require.NoError(t, json.Unmarshal(env.Data, &effects))
	assert.NotEmpty(t, effects)
}

func TestWebhookIgnoresUnhandledTypes(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"id":"evt_9","type":"charge.dispute.created","data":{}}`)

	w, env := s.do(t, http.MethodPost, "/api/v1/webhooks/payments", "", body,
		gateway.SignatureHeader, gateway.Sign(webhookSecret, body, time.Now()))
	require.Equal(t, http.StatusOK, w.Code)
	var res application.WebhookResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, application.WebhookIgnored, res.Outcome)
}

func TestListAndUnknownDepositToken(t *testing.T) {
	s := newTestServer(t)
	s.toDepositRequested(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/booking-requests", s.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []bookingView
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)

	w, _ = s.do(t, http.MethodGet, "/api/v1/public/deposits/unknown-token", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	s.submit(t)

	w, _ := s.do(t, http.MethodGet, "/api/v1/admin/stats/booking-requests", s.staff, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/v1/admin/stats/booking-requests", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats application.StatsDTO
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Total)

	w, _ = s.do(t, http.MethodGet, "/api/v1/admin/booking-requests?status=bogus", s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/admin/booking-requests/expired-deposits", s.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEraseRequiresOwnerRole(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t)
	path := "/api/v1/booking-requests/" + id.String()

	artist := s.token(t, s.studioID, auth.RoleArtist)
	w, _ := s.do(t, http.MethodDelete, path, artist, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodDelete, path, s.staff, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(t, http.MethodGet, path, s.staff, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusStream(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/booking-requests/" + id.String() + "/stream?access_token=" + s.staff
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first application.StatusUpdate
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, bookingDomain.StatusPending, first.Status)
	assert.Equal(t, 1, s.poller.Watching())

	w, _ := s.do(t, http.MethodPost, "/api/v1/booking-requests/"+id.String()+"/review", s.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var next application.StatusUpdate
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, bookingDomain.StatusReviewing, next.Status)
	assert.Equal(t, "start_review", next.Operation)
}

func TestStatusStreamRejectsOtherStudio(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	other := s.token(t, uuid.New(), auth.RoleStudio)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/booking-requests/" + id.String() + "/stream?access_token=" + other
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, s.hub.Subscribers(id))
}

// lateSubscriber runs beforeSubscribe ahead of each subscription, standing in
// for a transition that commits while a stream is being opened.
type lateSubscriber struct {
	inner           StatusSubscriber
	beforeSubscribe func()
}

func (l *lateSubscriber) Subscribe(bookingID uuid.UUID) (<-chan application.StatusUpdate, func()) {
	l.beforeSubscribe()
	return l.inner.Subscribe(bookingID)
}

func TestStatusStreamFirstFrameFollowsSubscription(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t)

	staff := application.Actor{UserID: uuid.New(), Role: auth.RoleStudio, StudioID: s.studioID}
	subscriber := &lateSubscriber{inner: s.hub, beforeSubscribe: func() {
		_, err := s.svc.StartReview(context.Background(), staff, id)
		assert.NoError(t, err)
	}}

	router := gin.New()
	NewStreamHandler(s.svc, subscriber, s.poller, nil, zap.NewNop()).RegisterRoutes(router.Group(""), s.jwt)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/booking-requests/" + id.String() + "/stream?access_token=" + s.staff
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first application.StatusUpdate
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, bookingDomain.StatusReviewing, first.Status)
}
