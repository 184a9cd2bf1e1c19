package model

import (
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentMomo     PaymentMethod = "MOMO"
	PaymentZaloPay  PaymentMethod = "ZALOPAY"
)

var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard, PaymentTransfer, PaymentMomo, PaymentZaloPay}

func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

type Payment struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	SessionID     uuid.UUID     `db:"session_id" json:"session_id"`
	CustomerID    *string       `db:"customer_id" json:"customer_id,omitempty"`
	StaffID       string        `db:"staff_id" json:"staff_id"`
	SessionAmount int64         `db:"session_amount" json:"session_amount"`
	OrderAmount   int64         `db:"order_amount" json:"order_amount"`
	Discount      int64         `db:"discount" json:"discount"`
	TotalAmount   int64         `db:"total_amount" json:"total_amount"`
	Method        PaymentMethod `db:"method" json:"method"`
	Status        PaymentStatus `db:"status" json:"status"`
	Notes         *string       `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

type PaymentFilter struct {
	Status PaymentStatus
	Method PaymentMethod
	From   *time.Time
	To     *time.Time
}

type Invoice struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PaymentID     uuid.UUID `db:"payment_id" json:"payment_id"`
	InvoiceNumber string    `db:"invoice_number" json:"invoice_number"`
	SessionAmount int64     `db:"session_amount" json:"session_amount"`
	OrderAmount   int64     `db:"order_amount" json:"order_amount"`
	Subtotal      int64     `db:"subtotal" json:"subtotal"`
	Discount      int64     `db:"discount" json:"discount"`
	Total         int64     `db:"total" json:"total"`
	ArchiveKey    *string   `db:"archive_key" json:"archive_key,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// PendingInvoice is the durable saga record written when a payment completes
// and cleared once the session is ended and the invoice exists.
type PendingInvoice struct {
	PaymentID    uuid.UUID  `db:"payment_id" json:"payment_id"`
	SessionEnded bool       `db:"session_ended" json:"session_ended"`
	Attempts     int        `db:"attempts" json:"attempts"`
	LastError    *string    `db:"last_error" json:"last_error,omitempty"`
	ResolvedAt   *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

type DailyReport struct {
	Date           string                  `json:"date"`
	TotalPayments  int                     `json:"total_payments"`
	SessionRevenue int64                   `json:"session_revenue"`
	OrderRevenue   int64                   `json:"order_revenue"`
	TotalDiscount  int64                   `json:"total_discount"`
	TotalRevenue   int64                   `json:"total_revenue"`
	ByMethod       map[PaymentMethod]int64 `json:"by_method"`
}

type DailyAmount struct {
	Date   string `json:"date"`
	Amount int64  `json:"amount"`
}

type MonthlyReport struct {
	Year           int           `json:"year"`
	Month          int           `json:"month"`
	TotalPayments  int           `json:"total_payments"`
	TotalRevenue   int64         `json:"total_revenue"`
	SessionRevenue int64         `json:"session_revenue"`
	OrderRevenue   int64         `json:"order_revenue"`
	DailyData      []DailyAmount `json:"daily_data"`
}
