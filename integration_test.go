//go:build integration

package main_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
)

// TestDepositCompleted_MarksDepositPaid verifies that a deposit completion
// published to payment.events moves the matching booking request to
// deposit_paid exactly once, and that the transition is announced on
// booking.events.
func TestDepositCompleted_MarksDepositPaid(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupLifecycleStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()
	defer func() { _ = stack.Consumer.Close() }()

	bookingID := uuid.New()
	studioID := uuid.New()
	seedDepositRequested(t, infra.DB, bookingID, studioID, "cs_int_1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stack.Consumer.Start(ctx) }()
	time.Sleep(3 * time.Second) // Wait for consumer group join.

	evt := bookingDomain.DepositCompletedEvent{
		SessionID:        "cs_int_1",
		PaymentReference: "ch_int_1",
		Status:           "completed",
		AmountCents:      10000,
		CompletedAt:      time.Now().UTC(),
	}
	publishTestEvent(t, infra.KafkaBrokers, bookingDomain.TopicPaymentEvents,
		"payment-gateway", bookingDomain.PaymentDepositCompleted, evt)
	// Redelivery of the same notice must not change anything.
	publishTestEvent(t, infra.KafkaBrokers, bookingDomain.TopicPaymentEvents,
		"payment-gateway", bookingDomain.PaymentDepositCompleted, evt)

	model := waitForBookingStatus(t, infra.DB, bookingID, string(bookingDomain.StatusDepositPaid), 15*time.Second)
	assert.Equal(t, "ch_int_1", model.PaymentReference)
	require.NotNil(t, model.DepositPaidAt)

	ce := consumeOneEvent(t, infra.KafkaBrokers, bookingDomain.TopicBookingEvents,
		bookingDomain.EventDepositPaid, 15*time.Second)

	var changed bookingDomain.StatusChangedEvent
	require.NoError(t, ce.ParseData(&changed))
	assert.Equal(t, bookingID, changed.BookingID)
	assert.Equal(t, bookingDomain.StatusDepositRequested, changed.FromStatus)
	assert.Equal(t, bookingDomain.StatusDepositPaid, changed.Status)
	assert.Equal(t, int64(5), changed.Version)

	time.Sleep(2 * time.Second)
	var final struct{ Version int64 }
	require.NoError(t, infra.DB.Table("booking_requests").Select("version").Where("id = ?", bookingID).Scan(&final).Error)
	assert.Equal(t, int64(5), final.Version, "duplicate notice must not bump the version")
}
