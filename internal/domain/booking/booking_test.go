package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkbook/service-booking/internal/platform/domain"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// fixture returns a booking request that is consistent for the given status.
func fixture(status BookingStatus) *BookingRequest {
	s := Snapshot{
		ID:            uuid.New(),
		BookingNumber: "BR-TEST01",
		StudioID:      uuid.New(),
		ArtistID:      uuid.New(),
		Client:        ClientInfo{Name: "Ada Client", Email: "ada@example.com", Phone: "+15550100"},
		Design:        DesignRequest{Description: "fine-line swallow", Placement: "forearm"},
		Status:        status,
		Currency:      "USD",
		Version:       3,
		CreatedAt:     testNow.Add(-72 * time.Hour),
		UpdatedAt:     testNow.Add(-time.Hour),
	}

	quoted := status != StatusPending && status != StatusReviewing && status != StatusRejected
	requested := quoted && status != StatusQuoted
	paid := requested && status != StatusDepositRequested

	if quoted {
		s.QuotedPriceCents = int64Ptr(20000)
		s.DepositAmountCents = int64Ptr(5000)
	}
	if requested {
		requestedAt := testNow.Add(-48 * time.Hour)
		expiresAt := requestedAt.AddDate(0, 0, 7)
		s.DepositRequestedAt = &requestedAt
		s.DepositRequestExpiresAt = &expiresAt
		s.DepositSessionID = "sess_1"
		s.PaymentToken = "tok_1"
		s.PaymentURL = "https://pay.example.com/sess_1"
	}
	if paid {
		paidAt := testNow.Add(-24 * time.Hour)
		s.DepositPaidAt = &paidAt
		s.PaymentReference = "ch_1"
	}
	switch status {
	case StatusConfirmed, StatusCompleted, StatusNoShow:
		date := testNow.Add(7 * 24 * time.Hour)
		s.ScheduledDate = &date
		s.ScheduledDurationHours = float64Ptr(3)
	}
	if status == StatusCancelled || status == StatusNoShow {
		s.ForfeitDeposit = boolPtr(false)
		if status == StatusCancelled {
			s.CancelledBy = CancelledByClient
			at := testNow.Add(-time.Hour)
			s.CancelledAt = &at
		}
	}
	return ReconstructBookingRequest(s)
}

// invoke runs op with valid-looking arguments.
func invoke(b *BookingRequest, op Operation) error {
	switch op {
	case OpStartReview:
		return b.StartReview(testNow)
	case OpSendQuote:
		return b.SendQuote(30000, int64Ptr(5000), float64Ptr(2), "", testNow)
	case OpReject:
		return b.Reject("not our style", testNow)
	case OpRequestDeposit:
		_, err := b.RequestDeposit(5000, DepositSession{
			SessionID: "sess_new", Token: "tok_new", ExpiresAt: DepositExpiry(testNow, 7),
		}, testNow)
		return err
	case OpMarkDepositPaid:
		_, err := b.MarkDepositPaid("sess_other", "ch_other", 0, testNow, testNow)
		return err
	case OpConfirm:
		return b.Confirm(testNow.Add(24*time.Hour), 2, testNow)
	case OpReschedule:
		return b.Reschedule(testNow.Add(48*time.Hour), nil, testNow)
	case OpMarkNoShow:
		return b.MarkNoShow("", true, testNow)
	case OpComplete:
		return b.Complete(testNow)
	case OpCancel:
		_, err := b.Cancel(CancelledByClient, "", false, false, testNow)
		return err
	case OpCancelWithRefund:
		_, err := b.CancelForRefund(CancelledByStudio, "", RefundFull, nil, testNow)
		return err
	case OpIssueRefund:
		_, err := b.GuardRefund(RefundFull, nil)
		return err
	}
	panic("unknown operation " + op)
}

func TestGuardRejectsOperationsFromWrongStatusWithoutMutation(t *testing.T) {
	for _, status := range AllStatuses {
		for _, op := range Operations() {
			if status.Permits(op) {
				continue
			}
			t.Run(string(status)+"/"+string(op), func(t *testing.T) {
				b := fixture(status)
				before := b.Snapshot()

				err := invoke(b, op)

				require.Error(t, err)
				assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
				assert.Contains(t, err.Error(), string(status))
				assert.Contains(t, err.Error(), string(op))
				assert.Equal(t, before, b.Snapshot())
			})
		}
	}
}

func TestPermittedOperationsKeepInvariants(t *testing.T) {
	for _, status := range AllStatuses {
		for _, op := range Operations() {
			if !status.Permits(op) || op == OpIssueRefund {
				continue
			}
			// Requesting a deposit needs a quote; covered in TestRequestDepositGuards.
			if status == StatusReviewing && op == OpRequestDeposit {
				continue
			}
			t.Run(string(status)+"/"+string(op), func(t *testing.T) {
				b := fixture(status)
				if op == OpMarkDepositPaid {
					_, err := b.MarkDepositPaid("sess_1", "ch_1", 0, testNow, testNow)
					require.NoError(t, err)
				} else {
					require.NoError(t, invoke(b, op))
				}
				assert.Equal(t, status.TargetOf(op), b.Status())
				assert.Equal(t, testNow, b.UpdatedAt())
				assert.NoError(t, b.CheckInvariants())
			})
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusNoShow.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())
	assert.False(t, StatusCompleted.Permits(OpIssueRefund))
	assert.False(t, StatusRejected.Permits(OpIssueRefund))
}

func TestNewBookingRequestValidation(t *testing.T) {
	studio := uuid.New()
	client := ClientInfo{Name: "Ada", Email: "ada@example.com"}
	design := DesignRequest{Description: "moth"}

	b, err := NewBookingRequest(studio, uuid.Nil, client, design, "usd", testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status())
	assert.Equal(t, "USD", b.Currency())
	assert.Regexp(t, `^BR-[A-Z2-9]{6}$`, b.BookingNumber())
	assert.Equal(t, BookingStatus(""), b.PersistedStatus())

	_, err = NewBookingRequest(uuid.Nil, uuid.Nil, client, design, "USD", testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = NewBookingRequest(studio, uuid.Nil, ClientInfo{Name: "Ada", Email: "not-an-email"}, design, "USD", testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = NewBookingRequest(studio, uuid.Nil, client, DesignRequest{}, "USD", testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestSendQuoteKeepsDepositUnderQuote(t *testing.T) {
	b := fixture(StatusReviewing)

	err := b.SendQuote(10000, int64Ptr(12000), nil, "", testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, StatusReviewing, b.Status())

	require.NoError(t, b.SendQuote(10000, int64Ptr(4000), float64Ptr(3), "flash sheet", testNow))
	assert.Equal(t, StatusQuoted, b.Status())

	// Lowering the quote below the existing deposit is rejected.
	err = b.SendQuote(3000, nil, nil, "", testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, int64(10000), *b.QuotedPriceCents())

	require.NoError(t, b.SendQuote(8000, nil, nil, "", testNow))
	assert.Equal(t, int64(4000), *b.DepositAmountCents())
	assert.Equal(t, 3.0, *b.EstimatedHours())
	assert.NoError(t, b.CheckInvariants())
}

func TestRequestDepositScenario(t *testing.T) {
	b := fixture(StatusQuoted)
	expires := DepositExpiry(testNow, 7)

	superseded, err := b.RequestDeposit(5000, DepositSession{
		SessionID: "sess_a", Token: "tok_a", PaymentURL: "https://pay/a", ExpiresAt: expires,
	}, testNow)
	require.NoError(t, err)
	assert.Empty(t, superseded)
	assert.Equal(t, StatusDepositRequested, b.Status())
	assert.Equal(t, testNow.Add(7*24*time.Hour), *b.DepositRequestExpiresAt())
	assert.Equal(t, testNow, *b.DepositRequestedAt())

	applied, err := b.MarkDepositPaid("sess_a", "ch_a", 0, testNow.Add(time.Hour), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusDepositPaid, b.Status())
	assert.Equal(t, testNow.Add(time.Hour), *b.DepositPaidAt())
	assert.Equal(t, "ch_a", b.PaymentReference())

	// Duplicate delivery is a no-op.
	before := b.Snapshot()
	applied, err = b.MarkDepositPaid("sess_a", "ch_a", 0, testNow.Add(2*time.Hour), testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, before, b.Snapshot())
}

func TestRequestDepositGuards(t *testing.T) {
	session := DepositSession{SessionID: "s", Token: "t", ExpiresAt: DepositExpiry(testNow, 7)}

	reviewing := fixture(StatusReviewing)
	_, err := reviewing.RequestDeposit(5000, session, testNow)
	assert.True(t, domain.IsKind(err, domain.KindInvalidTransition), "quote is required")

	quoted := fixture(StatusQuoted)
	_, err = quoted.RequestDeposit(25000, session, testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	_, err = quoted.RequestDeposit(0, session, testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, StatusQuoted, quoted.Status())
}

func TestRequestDepositSupersedesPriorSession(t *testing.T) {
	b := fixture(StatusDepositRequested)

	superseded, err := b.RequestDeposit(6000, DepositSession{
		SessionID: "sess_2", Token: "tok_2", ExpiresAt: DepositExpiry(testNow, 3),
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "sess_1", superseded)
	assert.Equal(t, "sess_2", b.DepositSessionID())
	assert.Equal(t, int64(6000), *b.DepositAmountCents())

	_, err = b.MarkDepositPaid("sess_1", "ch_late", 0, testNow, testNow)
	require.Error(t, err)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "DEPOSIT_SESSION_SUPERSEDED", de.Code)
	assert.Equal(t, StatusDepositRequested, b.Status())
}

func TestMarkDepositPaidRejectsExpiredSession(t *testing.T) {
	b := fixture(StatusDepositRequested)
	late := b.DepositRequestExpiresAt().Add(time.Minute)

	_, err := b.MarkDepositPaid("sess_1", "ch_1", 0, late, late)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "DEPOSIT_SESSION_EXPIRED", de.Code)
	assert.Nil(t, b.DepositPaidAt())
	assert.True(t, b.DepositExpired(late))
}

func TestMarkDepositPaidChecksAmount(t *testing.T) {
	b := fixture(StatusDepositRequested)

	_, err := b.MarkDepositPaid("sess_1", "ch_1", 1, testNow, testNow)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "DEPOSIT_AMOUNT_MISMATCH", de.Code)
	assert.Nil(t, b.DepositPaidAt())
	assert.Equal(t, StatusDepositRequested, b.Status())

	applied, err := b.MarkDepositPaid("sess_1", "ch_1", 5000, testNow, testNow)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusDepositPaid, b.Status())
}

func TestRescheduleCountsEveryMove(t *testing.T) {
	b := fixture(StatusConfirmed)
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Reschedule(testNow.Add(time.Duration(i)*24*time.Hour), nil, testNow))
		assert.Equal(t, i, b.RescheduleCount())
	}
	require.NoError(t, b.Reschedule(testNow.Add(time.Hour), float64Ptr(4), testNow))
	assert.Equal(t, 6, b.RescheduleCount())
	assert.Equal(t, 4.0, *b.ScheduledDurationHours())

	err := b.Reschedule(testNow, float64Ptr(0), testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, 6, b.RescheduleCount())
}

func TestCancelRecordsForfeiture(t *testing.T) {
	t.Run("unpaid cancel never forfeits", func(t *testing.T) {
		b := fixture(StatusDepositRequested)
		refundDue, err := b.Cancel(CancelledByClient, "changed mind", true, false, testNow)
		require.NoError(t, err)
		assert.False(t, refundDue)
		require.NotNil(t, b.ForfeitDeposit())
		assert.False(t, *b.ForfeitDeposit())
		assert.Equal(t, StatusCancelled, b.Status())
	})

	t.Run("paid cancel requires policy", func(t *testing.T) {
		b := fixture(StatusConfirmed)
		_, err := b.Cancel(CancelledByStudio, "", false, false, testNow)
		assert.True(t, domain.IsKind(err, domain.KindInvalidTransition))
		assert.Equal(t, StatusConfirmed, b.Status())
	})

	t.Run("paid cancel without forfeit leaves refund due", func(t *testing.T) {
		b := fixture(StatusConfirmed)
		refundDue, err := b.Cancel(CancelledByStudio, "artist ill", false, true, testNow)
		require.NoError(t, err)
		assert.True(t, refundDue)
		assert.False(t, *b.ForfeitDeposit())
	})

	t.Run("paid cancel with forfeit", func(t *testing.T) {
		b := fixture(StatusDepositPaid)
		refundDue, err := b.Cancel(CancelledByClient, "", true, true, testNow)
		require.NoError(t, err)
		assert.False(t, refundDue)
		assert.True(t, *b.ForfeitDeposit())
	})

	t.Run("invalid party", func(t *testing.T) {
		b := fixture(StatusPending)
		_, err := b.Cancel(CancelledBy("robot"), "", false, false, testNow)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
		assert.Equal(t, StatusPending, b.Status())
	})
}

func TestRefundIsIssuedOnce(t *testing.T) {
	b := fixture(StatusCancelled)

	amount, err := b.GuardRefund(RefundFull, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), amount)
	require.NoError(t, b.RecordRefund(RefundFull, amount, "re_1", "goodwill", testNow))
	assert.Equal(t, testNow, *b.RefundedAt())
	assert.Equal(t, StatusCancelled, b.Status())

	before := b.Snapshot()
	_, err = b.GuardRefund(RefundPartial, int64Ptr(100))
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "REFUND_ALREADY_ISSUED", de.Code)
	assert.Error(t, b.RecordRefund(RefundPartial, 100, "re_2", "", testNow))
	assert.Equal(t, before, b.Snapshot())
}

func TestRefundAmounts(t *testing.T) {
	tests := []struct {
		name      string
		typ       RefundType
		requested *int64
		want      int64
		wantErr   bool
	}{
		{name: "full", typ: RefundFull, want: 5000},
		{name: "full with matching amount", typ: RefundFull, requested: int64Ptr(5000), want: 5000},
		{name: "full with other amount", typ: RefundFull, requested: int64Ptr(10), wantErr: true},
		{name: "partial", typ: RefundPartial, requested: int64Ptr(2500), want: 2500},
		{name: "partial equal to deposit", typ: RefundPartial, requested: int64Ptr(5000), want: 5000},
		{name: "partial above deposit", typ: RefundPartial, requested: int64Ptr(5001), wantErr: true},
		{name: "partial without amount", typ: RefundPartial, wantErr: true},
		{name: "partial zero", typ: RefundPartial, requested: int64Ptr(0), wantErr: true},
		{name: "unknown type", typ: RefundType("most"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fixture(StatusNoShow).GuardRefund(tt.typ, tt.requested)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNoShowForfeitDoesNotBlockRefund(t *testing.T) {
	b := fixture(StatusConfirmed)
	require.NoError(t, b.MarkNoShow("did not attend", true, testNow))
	assert.True(t, *b.ForfeitDeposit())

	amount, err := b.GuardRefund(RefundPartial, int64Ptr(1000))
	require.NoError(t, err)
	require.NoError(t, b.RecordRefund(RefundPartial, amount, "re_1", "", testNow))
	assert.Equal(t, int64(1000), *b.RefundAmountCents())
	assert.Equal(t, StatusNoShow, b.Status())
}

func TestCancelForRefundValidatesBeforeCancelling(t *testing.T) {
	b := fixture(StatusConfirmed)
	before := b.Snapshot()

	_, err := b.CancelForRefund(CancelledByStudio, "", RefundPartial, int64Ptr(99999), testNow)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, before, b.Snapshot())

	amount, err := b.CancelForRefund(CancelledByStudio, "double booked", RefundFull, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), amount)
	assert.Equal(t, StatusCancelled, b.Status())
	assert.False(t, *b.ForfeitDeposit())
	assert.Nil(t, b.RefundedAt())
}

func TestStateViews(t *testing.T) {
	switch s := fixture(StatusDepositRequested).State().(type) {
	case DepositRequestedState:
		assert.Equal(t, "sess_1", s.Session.SessionID)
		assert.Equal(t, int64(20000), s.Quote.PriceCents)
	default:
		t.Fatalf("unexpected state %T", s)
	}

	switch s := fixture(StatusConfirmed).State().(type) {
	case ConfirmedState:
		assert.Equal(t, "ch_1", s.Deposit.PaymentReference)
		assert.Equal(t, 3.0, s.Schedule.DurationHours)
	default:
		t.Fatalf("unexpected state %T", s)
	}

	for _, status := range AllStatuses {
		assert.Equal(t, status, fixture(status).State().Status())
	}
}

func TestParseBookingStatus(t *testing.T) {
	s, err := ParseBookingStatus("deposit_paid")
	require.NoError(t, err)
	assert.Equal(t, StatusDepositPaid, s)

	_, err = ParseBookingStatus("archived")
	assert.Error(t, err)
}

func TestDesignSummary(t *testing.T) {
	d := DesignRequest{Description: "koi", Placement: "back"}
	assert.Equal(t, "koi (back)", d.Summary())

	long := DesignRequest{Description: string(make([]rune, 300))}
	assert.Len(t, []rune(long.Summary()), 140)
}
