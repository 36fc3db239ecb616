package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPaymentFailed means the gateway rejected or could not accept a payment request.
var ErrPaymentFailed = errors.New("payment failed")

type PaymentStatus string

const (
	PaymentAwaiting    PaymentStatus = "AWAITING_CONFIRMATION"
	PaymentConfirmed   PaymentStatus = "CONFIRMED"
	PaymentFailed      PaymentStatus = "FAILED"
	PaymentUnconfirmed PaymentStatus = "UNCONFIRMED"
)

// CanMoveTo reports whether an intent may go from s to next. CONFIRMED and
// FAILED are terminal; UNCONFIRMED waits for a late callback or an admin.
func (s PaymentStatus) CanMoveTo(next PaymentStatus) bool {
	switch s {
	case PaymentAwaiting:
		return next == PaymentConfirmed || next == PaymentFailed || next == PaymentUnconfirmed
	case PaymentUnconfirmed:
		return next == PaymentConfirmed || next == PaymentFailed
	}
	return false
}

type PaymentPurpose string

const (
	PurposeDirectSale  PaymentPurpose = "DIRECT_SALE"
	PurposeSettleOrder PaymentPurpose = "SETTLE_ORDER"
)

// PaymentIntent records a mobile-money push that has been accepted by the
// gateway but not yet confirmed. Nothing is committed to the ledger until
// the intent becomes CONFIRMED.
type PaymentIntent struct {
	ID        string          `json:"id"`
	Handle    string          `json:"handle"`
	Purpose   PaymentPurpose  `json:"purpose"`
	OrderID   string          `json:"order_id,omitempty"`
	StaffID   string          `json:"staff_id"`
	StaffName string          `json:"staff_name"`
	Lines     []OrderLine     `json:"lines,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Phone     string          `json:"phone"`
	Status    PaymentStatus   `json:"status"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type PushResult struct {
	Accepted bool   `json:"accepted"`
	Handle   string `json:"handle,omitempty"`
	Message  string `json:"message"`
}

type ReconcileRequest struct {
	Confirmed bool   `json:"confirmed"`
	Note      string `json:"note"`
}
