package booking

import "fmt"

// BookingStatus represents the current state of a booking request in its lifecycle.
type BookingStatus string

const (
	StatusPending          BookingStatus = "pending"
	StatusReviewing        BookingStatus = "reviewing"
	StatusQuoted           BookingStatus = "quoted"
	StatusDepositRequested BookingStatus = "deposit_requested"
	StatusDepositPaid      BookingStatus = "deposit_paid"
	StatusConfirmed        BookingStatus = "confirmed"
	StatusCompleted        BookingStatus = "completed"
	StatusNoShow           BookingStatus = "no_show"
	StatusRejected         BookingStatus = "rejected"
	StatusCancelled        BookingStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []BookingStatus{
	StatusPending,
	StatusReviewing,
	StatusQuoted,
	StatusDepositRequested,
	StatusDepositPaid,
	StatusConfirmed,
	StatusCompleted,
	StatusNoShow,
	StatusRejected,
	StatusCancelled,
}

// Operation names a lifecycle operation. Every mutation of a booking request
// goes through exactly one operation.
type Operation string

const (
	OpStartReview      Operation = "start_review"
	OpSendQuote        Operation = "send_quote"
	OpReject           Operation = "reject"
	OpRequestDeposit   Operation = "request_deposit"
	OpMarkDepositPaid  Operation = "mark_deposit_paid"
	OpConfirm          Operation = "confirm"
	OpReschedule       Operation = "reschedule"
	OpMarkNoShow       Operation = "mark_no_show"
	OpComplete         Operation = "complete"
	OpCancel           Operation = "cancel"
	OpCancelWithRefund Operation = "cancel_with_refund"
	OpIssueRefund      Operation = "issue_refund"
)

// transition is one row of the lifecycle table. An empty target keeps the
// current status.
type transition struct {
	from   []BookingStatus
	target BookingStatus
}

// transitions defines the state machine for booking request operations.
var transitions = map[Operation]transition{
	OpStartReview:      {from: []BookingStatus{StatusPending}, target: StatusReviewing},
	OpSendQuote:        {from: []BookingStatus{StatusReviewing, StatusQuoted}, target: StatusQuoted},
	OpReject:           {from: []BookingStatus{StatusReviewing}, target: StatusRejected},
	OpRequestDeposit:   {from: []BookingStatus{StatusReviewing, StatusQuoted, StatusDepositRequested}, target: StatusDepositRequested},
	OpMarkDepositPaid:  {from: []BookingStatus{StatusDepositRequested}, target: StatusDepositPaid},
	OpConfirm:          {from: []BookingStatus{StatusDepositPaid}, target: StatusConfirmed},
	OpReschedule:       {from: []BookingStatus{StatusConfirmed}},
	OpMarkNoShow:       {from: []BookingStatus{StatusConfirmed}, target: StatusNoShow},
	OpComplete:         {from: []BookingStatus{StatusConfirmed}, target: StatusCompleted},
	OpCancel:           {from: []BookingStatus{StatusPending, StatusReviewing, StatusQuoted, StatusDepositRequested}, target: StatusCancelled},
	OpCancelWithRefund: {from: []BookingStatus{StatusDepositPaid, StatusConfirmed}, target: StatusCancelled},
	OpIssueRefund:      {from: []BookingStatus{StatusCancelled, StatusNoShow}},
}

// paidCancelSources are the extra sources of cancel when the studio allows
// cancelling a paid booking without refunding it.
var paidCancelSources = []BookingStatus{StatusDepositPaid, StatusConfirmed}

// Operations returns every operation in the table.
func Operations() []Operation {
	return []Operation{
		OpStartReview, OpSendQuote, OpReject, OpRequestDeposit, OpMarkDepositPaid,
		OpConfirm, OpReschedule, OpMarkNoShow, OpComplete, OpCancel,
		OpCancelWithRefund, OpIssueRefund,
	}
}

// IsValid returns true if the status is a recognized booking status.
func (s BookingStatus) IsValid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Permits returns true if op may run while the booking is in this status.
func (s BookingStatus) Permits(op Operation) bool {
	t, ok := transitions[op]
	if !ok {
		return false
	}
	return containsStatus(t.from, s)
}

// TargetOf returns the status op leads to from s.
func (s BookingStatus) TargetOf(op Operation) BookingStatus {
	t := transitions[op]
	if t.target == "" {
		return s
	}
	return t.target
}

// IsTerminal returns true if no lifecycle operation other than a refund can run.
func (s BookingStatus) IsTerminal() bool {
	for _, op := range Operations() {
		if op == OpIssueRefund {
			continue
		}
		if s.Permits(op) {
			return false
		}
	}
	return true
}

// DepositSettled returns true once a deposit has been collected for the booking.
func (s BookingStatus) DepositSettled() bool {
	return s == StatusDepositPaid || s == StatusConfirmed || s == StatusCompleted
}

// String returns the string representation of the status.
func (s BookingStatus) String() string {
	return string(s)
}

// ParseBookingStatus converts a string to a BookingStatus, returning an error if invalid.
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return status, nil
}

func containsStatus(list []BookingStatus, s BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
