package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"session-service/internal/model"
	"session-service/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrInvalidPaymentState = errors.New("payment is not in a valid state for this operation")
	ErrInvalidDiscount     = errors.New("discount must be between zero and the subtotal")
	ErrArchiveUnavailable  = errors.New("invoice archive is not configured")
)

const (
	maxInvoiceNumberAttempts = 5
	reportDateLayout         = "2006-01-02"
)

var paymentTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_payment_transitions_total",
		Help: "Payment status changes by resulting status",
	},
	[]string{"status"},
)

// OrderClient reports the food and drink total attached to a session.
type OrderClient interface {
	SessionOrdersTotal(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// InvoiceArchiver stores a rendered invoice and hands out download links for it.
type InvoiceArchiver interface {
	Archive(ctx context.Context, invoice *model.Invoice, payment *model.Payment) (string, error)
	PresignURL(ctx context.Context, key string) (string, error)
}

type CreatePaymentInput struct {
	SessionID  uuid.UUID
	StaffID    string
	CustomerID *string
	Method     *model.PaymentMethod
	Discount   int64
	Notes      *string
}

// PaymentReceipt is the result of a completed checkout. Invoice is nil when
// invoicing was deferred to the saga retrier.
type PaymentReceipt struct {
	Payment *model.Payment `json:"payment"`
	Invoice *model.Invoice `json:"invoice"`
}

type PaymentService interface {
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*model.Payment, error)
	CompletePayment(ctx context.Context, paymentID uuid.UUID, method *model.PaymentMethod) (*PaymentReceipt, error)
	RefundPayment(ctx context.Context, paymentID uuid.UUID, notes *string) (*model.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error)
	ListPayments(ctx context.Context, filter model.PaymentFilter) ([]model.Payment, error)
	GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*model.Invoice, error)
	GetInvoiceByPayment(ctx context.Context, paymentID uuid.UUID) (*model.Invoice, error)
	InvoiceDownloadURL(ctx context.Context, invoiceID uuid.UUID) (string, error)
	DailyReport(ctx context.Context, date time.Time) (*model.DailyReport, error)
	MonthlyReport(ctx context.Context, year, month int) (*model.MonthlyReport, error)
	ResumePendingInvoices(ctx context.Context, limit int) (int, error)
}

type paymentService struct {
	paymentRepo   repository.PaymentRepository
	invoiceRepo   repository.InvoiceRepository
	ledger        SessionService
	orders        OrderClient
	archiver      InvoiceArchiver
	now           func() time.Time
	invoiceNumber func(time.Time) string
}

type PaymentOption func(*paymentService)

func WithPaymentClock(now func() time.Time) PaymentOption {
	return func(s *paymentService) { s.now = now }
}

func WithInvoiceNumbers(gen func(time.Time) string) PaymentOption {
	return func(s *paymentService) { s.invoiceNumber = gen }
}

// WithArchiver enables invoice archiving and download links.
func WithArchiver(archiver InvoiceArchiver) PaymentOption {
	return func(s *paymentService) { s.archiver = archiver }
}

func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	invoiceRepo repository.InvoiceRepository,
	ledger SessionService,
	orders OrderClient,
	opts ...PaymentOption,
) PaymentService {
	s := &paymentService{
		paymentRepo:   paymentRepo,
		invoiceRepo:   invoiceRepo,
		ledger:        ledger,
		orders:        orders,
		now:           time.Now,
		invoiceNumber: randomInvoiceNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomInvoiceNumber(at time.Time) string {
	return fmt.Sprintf("INV-%s-%04d", at.Format("20060102"), rand.IntN(10000))
}

func (s *paymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*model.Payment, error) {
	if in.StaffID == "" {
		return nil, fmt.Errorf("%w: staff is required", ErrInvalidInput)
	}
	method := model.PaymentCash
	if in.Method != nil {
		if !in.Method.Valid() {
			return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, *in.Method)
		}
		method = *in.Method
	}

	session, err := s.ledger.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.SessionCancelled {
		return nil, fmt.Errorf("%w: session was cancelled", ErrInvalidState)
	}

	orderAmount := int64(0)
	if s.orders != nil {
		orderAmount, err = s.orders.SessionOrdersTotal(ctx, in.SessionID)
		if err != nil {
			slog.WarnContext(ctx, "Failed to fetch session orders, billing table time only",
				slog.String("session_id", in.SessionID.String()),
				slog.Any("error", err),
			)
			orderAmount = 0
		}
	}

	subtotal := session.CurrentCost + orderAmount
	if in.Discount < 0 || in.Discount > subtotal {
		return nil, ErrInvalidDiscount
	}

	customerID := in.CustomerID
	if customerID == nil {
		customerID = session.CustomerID
	}

	payment := &model.Payment{
		SessionID:     in.SessionID,
		CustomerID:    customerID,
		StaffID:       in.StaffID,
		SessionAmount: session.CurrentCost,
		OrderAmount:   orderAmount,
		Discount:      in.Discount,
		TotalAmount:   subtotal - in.Discount,
		Method:        method,
		Status:        model.PaymentPending,
		Notes:         in.Notes,
	}

	created, err := s.paymentRepo.Create(ctx, payment)
	if err != nil {
		return nil, err
	}

	paymentTransitions.WithLabelValues(string(model.PaymentPending)).Inc()
	slog.InfoContext(ctx, "Payment created",
		slog.String("payment_id", created.ID.String()),
		slog.String("session_id", created.SessionID.String()),
		slog.Int64("total_amount", created.TotalAmount),
	)

	return created, nil
}

// CompletePayment settles a payment and then finishes the checkout: the
// session is ended and the invoice issued. The payment commit and its
// pending-invoice record are atomic; everything after that is retried by the
// saga retrier if it fails here.
func (s *paymentService) CompletePayment(ctx context.Context, paymentID uuid.UUID, method *model.PaymentMethod) (*PaymentReceipt, error) {
	if method != nil && !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, *method)
	}

	payment, err := s.paymentRepo.Complete(ctx, paymentID, method, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrPaymentStatusMismatch) {
			return nil, s.statusMismatch(ctx, paymentID)
		}
		return nil, err
	}
	paymentTransitions.WithLabelValues(string(model.PaymentCompleted)).Inc()

	invoice, err := s.settle(ctx, payment, false)
	if err != nil {
		slog.WarnContext(ctx, "Checkout deferred to saga retrier",
			slog.String("payment_id", paymentID.String()),
			slog.Any("error", err),
		)
		if recErr := s.invoiceRepo.RecordFailure(ctx, paymentID, err.Error()); recErr != nil {
			slog.ErrorContext(ctx, "Failed to record saga failure", slog.Any("error", recErr))
		}
		return &PaymentReceipt{Payment: payment}, nil
	}

	return &PaymentReceipt{Payment: payment, Invoice: invoice}, nil
}

// settle runs the post-commit saga steps. Every step tolerates having
// already been done by an earlier attempt.
func (s *paymentService) settle(ctx context.Context, payment *model.Payment, sessionEnded bool) (*model.Invoice, error) {
	if !sessionEnded {
		_, err := s.ledger.EndSession(ctx, payment.SessionID)
		if err != nil && !errors.Is(err, ErrInvalidState) {
			return nil, fmt.Errorf("end session: %w", err)
		}
		if err := s.invoiceRepo.MarkSessionEnded(ctx, payment.ID); err != nil {
			return nil, fmt.Errorf("mark session ended: %w", err)
		}
	}

	invoice, err := s.issueInvoice(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("issue invoice: %w", err)
	}

	if s.archiver != nil && invoice.ArchiveKey == nil {
		s.archive(ctx, invoice, payment)
	}

	if err := s.invoiceRepo.Resolve(ctx, payment.ID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("resolve pending invoice: %w", err)
	}

	slog.InfoContext(ctx, "Invoice issued",
		slog.String("payment_id", payment.ID.String()),
		slog.String("invoice_number", invoice.InvoiceNumber),
	)
	return invoice, nil
}

func (s *paymentService) issueInvoice(ctx context.Context, payment *model.Payment) (*model.Invoice, error) {
	subtotal := payment.SessionAmount + payment.OrderAmount
	for attempt := 1; ; attempt++ {
		invoice := &model.Invoice{
			PaymentID:     payment.ID,
			InvoiceNumber: s.invoiceNumber(s.now()),
			SessionAmount: payment.SessionAmount,
			OrderAmount:   payment.OrderAmount,
			Subtotal:      subtotal,
			Discount:      payment.Discount,
			Total:         payment.TotalAmount,
		}
		created, err := s.invoiceRepo.Create(ctx, invoice)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, repository.ErrInvoiceNumberTaken) || attempt >= maxInvoiceNumberAttempts {
			return nil, err
		}
	}
}

// archive uploads the invoice document. Failures are logged only; the
// download URL endpoint archives lazily when no key was stored.
func (s *paymentService) archive(ctx context.Context, invoice *model.Invoice, payment *model.Payment) {
	key, err := s.archiver.Archive(ctx, invoice, payment)
	if err != nil {
		slog.WarnContext(ctx, "Failed to archive invoice",
			slog.String("invoice_id", invoice.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	if err := s.invoiceRepo.SetArchiveKey(ctx, invoice.ID, key); err != nil {
		slog.WarnContext(ctx, "Failed to store invoice archive key",
			slog.String("invoice_id", invoice.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	invoice.ArchiveKey = &key
}

func (s *paymentService) RefundPayment(ctx context.Context, paymentID uuid.UUID, notes *string) (*model.Payment, error) {
	payment, err := s.paymentRepo.Refund(ctx, paymentID, notes, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrPaymentStatusMismatch) {
			return nil, s.statusMismatch(ctx, paymentID)
		}
		return nil, err
	}

	paymentTransitions.WithLabelValues(string(model.PaymentRefunded)).Inc()
	slog.InfoContext(ctx, "Payment refunded", slog.String("payment_id", paymentID.String()))
	return payment, nil
}

// statusMismatch tells a missing payment apart from one in the wrong status.
func (s *paymentService) statusMismatch(ctx context.Context, paymentID uuid.UUID) error {
	existing, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrPaymentNotFound
	}
	return ErrInvalidPaymentState
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *paymentService) ListPayments(ctx context.Context, filter model.PaymentFilter) ([]model.Payment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, filter.Status)
	}
	if filter.Method != "" && !filter.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, filter.Method)
	}
	return s.paymentRepo.List(ctx, filter)
}

func (s *paymentService) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*model.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *paymentService) GetInvoiceByPayment(ctx context.Context, paymentID uuid.UUID) (*model.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *paymentService) InvoiceDownloadURL(ctx context.Context, invoiceID uuid.UUID) (string, error) {
	if s.archiver == nil {
		return "", ErrArchiveUnavailable
	}

	invoice, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}

	if invoice.ArchiveKey == nil {
		payment, err := s.GetPayment(ctx, invoice.PaymentID)
		if err != nil {
			return "", err
		}
		key, err := s.archiver.Archive(ctx, invoice, payment)
		if err != nil {
			return "", fmt.Errorf("archive invoice: %w", err)
		}
		if err := s.invoiceRepo.SetArchiveKey(ctx, invoice.ID, key); err != nil {
			return "", err
		}
		invoice.ArchiveKey = &key
	}

	return s.archiver.PresignURL(ctx, *invoice.ArchiveKey)
}

func (s *paymentService) DailyReport(ctx context.Context, date time.Time) (*model.DailyReport, error) {
	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	payments, err := s.paymentRepo.List(ctx, model.PaymentFilter{Status: model.PaymentCompleted, From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	report := &model.DailyReport{
		Date:          from.Format(reportDateLayout),
		TotalPayments: len(payments),
		ByMethod:      map[model.PaymentMethod]int64{},
	}
	for _, p := range payments {
		report.SessionRevenue += p.SessionAmount
		report.OrderRevenue += p.OrderAmount
		report.TotalDiscount += p.Discount
		report.TotalRevenue += p.TotalAmount
		report.ByMethod[p.Method] += p.TotalAmount
	}

	return report, nil
}

func (s *paymentService) MonthlyReport(ctx context.Context, year, month int) (*model.MonthlyReport, error) {
	if month < 1 || month > 12 || year < 1 {
		return nil, fmt.Errorf("%w: invalid year or month", ErrInvalidInput)
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	payments, err := s.paymentRepo.List(ctx, model.PaymentFilter{Status: model.PaymentCompleted, From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	report := &model.MonthlyReport{
		Year:          year,
		Month:         month,
		TotalPayments: len(payments),
		DailyData:     []model.DailyAmount{},
	}
	perDay := map[string]int64{}
	for _, p := range payments {
		report.TotalRevenue += p.TotalAmount
		report.SessionRevenue += p.SessionAmount
		report.OrderRevenue += p.OrderAmount
		perDay[p.CreatedAt.UTC().Format(reportDateLayout)] += p.TotalAmount
	}
	for day, amount := range perDay {
		report.DailyData = append(report.DailyData, model.DailyAmount{Date: day, Amount: amount})
	}
	sort.Slice(report.DailyData, func(i, j int) bool {
		return report.DailyData[i].Date < report.DailyData[j].Date
	})

	return report, nil
}

// ResumePendingInvoices retries checkouts whose post-payment steps failed.
// It returns how many were resolved.
func (s *paymentService) ResumePendingInvoices(ctx context.Context, limit int) (int, error) {
	pending, err := s.invoiceRepo.ListUnresolved(ctx, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, p := range pending {
		payment, err := s.paymentRepo.FindByID(ctx, p.PaymentID)
		if err != nil {
			return resolved, err
		}
		if payment == nil {
			slog.ErrorContext(ctx, "Pending invoice has no payment", slog.String("payment_id", p.PaymentID.String()))
			continue
		}

		if _, err := s.settle(ctx, payment, p.SessionEnded); err != nil {
			slog.WarnContext(ctx, "Saga retry failed",
				slog.String("payment_id", p.PaymentID.String()),
				slog.Int("attempts", p.Attempts+1),
				slog.Any("error", err),
			)
			if recErr := s.invoiceRepo.RecordFailure(ctx, p.PaymentID, err.Error()); recErr != nil {
				return resolved, recErr
			}
			continue
		}
		resolved++
	}

	return resolved, nil
}
