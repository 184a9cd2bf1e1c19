package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"session-service/internal/model"
	"session-service/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type flakyLedger struct {
	service.SessionService
	endErr error
}

func (l *flakyLedger) EndSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	if l.endErr != nil {
		return nil, l.endErr
	}
	return l.SessionService.EndSession(ctx, id)
}

type checkoutFixture struct {
	ledger   service.SessionService
	flaky    *flakyLedger
	payments service.PaymentService
	sessions *memorySessionRepository
	payRepo  *memoryPaymentRepository
	invRepo  *memoryInvoiceRepository
	archiver *recordingArchiver
	clock    *fakeClock
}

func newCheckout(t *testing.T, orders service.OrderClient) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		sessions: newMemorySessionRepository(),
		payRepo:  newMemoryPaymentRepository(),
		archiver: &recordingArchiver{},
		clock:    newFakeClock(),
	}
	f.invRepo = newMemoryInvoiceRepository(f.payRepo)
	f.ledger = service.NewSessionService(f.sessions, 50000, service.WithClock(f.clock.Now))
	f.flaky = &flakyLedger{SessionService: f.ledger}

	seq := 0
	f.payments = service.NewPaymentService(f.payRepo, f.invRepo, f.flaky, orders,
		service.WithPaymentClock(f.clock.Now),
		service.WithArchiver(f.archiver),
		service.WithInvoiceNumbers(func(at time.Time) string {
			seq++
			return fmt.Sprintf("INV-%s-%04d", at.Format("20060102"), seq)
		}),
	)
	return f
}

func (f *checkoutFixture) playedSession(t *testing.T, table string, d time.Duration) *model.Session {
	t.Helper()
	customer := "cust-1"
	s, err := f.ledger.StartSession(context.Background(), service.StartSessionInput{
		TableID: table, StaffID: "staff-1", CustomerID: &customer, HourlyRate: rate(60000),
	})
	require.NoError(t, err)
	f.clock.Advance(d)
	return s
}

func TestPaymentService_CreatePayment(t *testing.T) {
	f := newCheckout(t, stubOrders{total: 20000})
	s := f.playedSession(t, "T1", 90*time.Minute)

	p, err := f.payments.CreatePayment(context.Background(), service.CreatePaymentInput{
		SessionID: s.ID, StaffID: "staff-2", Discount: 10000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(90000), p.SessionAmount)
	require.Equal(t, int64(20000), p.OrderAmount)
	require.Equal(t, int64(100000), p.TotalAmount)
	require.Equal(t, model.PaymentCash, p.Method)
	require.Equal(t, model.PaymentPending, p.Status)
	require.Equal(t, "cust-1", *p.CustomerID)
}

func TestPaymentService_CreatePayment_OrderServiceDown(t *testing.T) {
	f := newCheckout(t, stubOrders{err: errors.New("dial tcp: connection refused")})
	s := f.playedSession(t, "T1", time.Hour)

	p, err := f.payments.CreatePayment(context.Background(), service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1"})
	require.NoError(t, err)
	require.Equal(t, int64(0), p.OrderAmount)
	require.Equal(t, int64(60000), p.TotalAmount)
}

func TestPaymentService_CreatePayment_RejectsBadInput(t *testing.T) {
	f := newCheckout(t, stubOrders{total: 1000})
	s := f.playedSession(t, "T1", time.Hour)
	ctx := context.Background()

	_, err := f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1", Discount: 61001})
	require.ErrorIs(t, err, service.ErrInvalidDiscount)

	_, err = f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1", Discount: -1})
	require.ErrorIs(t, err, service.ErrInvalidDiscount)

	bogus := model.PaymentMethod("CHEQUE")
	_, err = f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1", Method: &bogus})
	require.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: uuid.New(), StaffID: "staff-1"})
	require.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestPaymentService_CompletePayment_EndsSessionAndIssuesInvoice(t *testing.T) {
	f := newCheckout(t, stubOrders{total: 15000})
	s := f.playedSession(t, "T1", 90*time.Minute)
	ctx := context.Background()

	p, err := f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1"})
	require.NoError(t, err)

	card := model.PaymentCard
	receipt, err := f.payments.CompletePayment(ctx, p.ID, &card)
	require.NoError(t, err)
	require.Equal(t, model.PaymentCompleted, receipt.Payment.Status)
	require.Equal(t, model.PaymentCard, receipt.Payment.Method)
	require.NotNil(t, receipt.Invoice)
	require.Equal(t, "INV-20260301-0001", receipt.Invoice.InvoiceNumber)
	require.Equal(t, int64(105000), receipt.Invoice.Subtotal)
	require.Equal(t, int64(105000), receipt.Invoice.Total)
	require.NotNil(t, receipt.Invoice.ArchiveKey)

	session, err := f.ledger.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionCompleted, session.Status)
	require.Equal(t, int64(90000), *session.TotalCost)

	pending, err := f.invRepo.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = f.payments.CompletePayment(ctx, p.ID, nil)
	require.ErrorIs(t, err, service.ErrInvalidPaymentState)

	_, err = f.payments.CompletePayment(ctx, uuid.New(), nil)
	require.ErrorIs(t, err, service.ErrPaymentNotFound)
}

func TestPaymentService_CompletePayment_SessionAlreadyEnded(t *testing.T) {
	f := newCheckout(t, nil)
	s := f.playedSession(t, "T1", time.Hour)
	ctx := context.Background()

	p, err := f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1"})
	require.NoError(t, err)
	_, err = f.ledger.EndSession(ctx, s.ID)
	require.NoError(t, err)

	receipt, err := f.payments.CompletePayment(ctx, p.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, receipt.Invoice)
}

func TestPaymentService_CompletePayment_DeferredThenResumed(t *testing.T) {
	f := newCheckout(t, nil)
	s := f.playedSession(t, "T1", time.Hour)
	ctx := context.Background()

	p, err := f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1"})
	require.NoError(t, err)

	f.flaky.endErr = errors.New("database is restarting")
	receipt, err := f.payments.CompletePayment(ctx, p.ID, nil)
	require.NoError(t, err)
	require.Equal(t, model.PaymentCompleted, receipt.Payment.Status)
	require.Nil(t, receipt.Invoice)

	pending, err := f.invRepo.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].Attempts)
	require.False(t, pending[0].SessionEnded)

	resolved, err := f.payments.ResumePendingInvoices(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, resolved)

	f.flaky.endErr = nil
	f.invRepo.failNext = 1
	resolved, err = f.payments.ResumePendingInvoices(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, resolved)

	pending, err = f.invRepo.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, pending[0].SessionEnded)

	service.NewSagaRetrier(f.payments, time.Minute).Tick(ctx)

	invoice, err := f.payments.GetInvoiceByPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(60000), invoice.Total)

	session, err := f.ledger.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionCompleted, session.Status)

	pending, err = f.invRepo.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPaymentService_InvoiceNumberCollisionRetries(t *testing.T) {
	f := newCheckout(t, nil)
	ctx := context.Background()

	numbers := []string{"INV-20260301-0042", "INV-20260301-0042", "INV-20260301-0043"}
	payments := service.NewPaymentService(f.payRepo, f.invRepo, f.ledger, nil,
		service.WithPaymentClock(f.clock.Now),
		service.WithInvoiceNumbers(func(time.Time) string {
			n := numbers[0]
			numbers = numbers[1:]
			return n
		}),
	)

	first := f.playedSession(t, "T1", time.Hour)
	second := f.playedSession(t, "T2", time.Hour)

	p1, err := payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: first.ID, StaffID: "staff-1"})
	require.NoError(t, err)
	p2, err := payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: second.ID, StaffID: "staff-1"})
	require.NoError(t, err)

	r1, err := payments.CompletePayment(ctx, p1.ID, nil)
	require.NoError(t, err)
	r2, err := payments.CompletePayment(ctx, p2.ID, nil)
	require.NoError(t, err)

	require.Equal(t, "INV-20260301-0042", r1.Invoice.InvoiceNumber)
	require.Equal(t, "INV-20260301-0043", r2.Invoice.InvoiceNumber)
	require.Nil(t, r1.Invoice.ArchiveKey)
}

func TestPaymentService_RefundPayment(t *testing.T) {
	f := newCheckout(t, nil)
	s := f.playedSession(t, "T1", time.Hour)
	ctx := context.Background()

	p, err := f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1"})
	require.NoError(t, err)

	_, err = f.payments.RefundPayment(ctx, p.ID, nil)
	require.ErrorIs(t, err, service.ErrInvalidPaymentState)

	_, err = f.payments.CompletePayment(ctx, p.ID, nil)
	require.NoError(t, err)

	reason := "customer complaint"
	refunded, err := f.payments.RefundPayment(ctx, p.ID, &reason)
	require.NoError(t, err)
	require.Equal(t, model.PaymentRefunded, refunded.Status)
	require.Equal(t, reason, *refunded.Notes)
}

func TestPaymentService_InvoiceDownloadURL(t *testing.T) {
	f := newCheckout(t, nil)
	s := f.playedSession(t, "T1", time.Hour)
	ctx := context.Background()

	f.archiver.err = errors.New("s3 unavailable")
	p, err := f.payments.CreatePayment(ctx, service.CreatePaymentInput{SessionID: s.ID, StaffID: "staff-1"})
	require.NoError(t, err)
	receipt, err := f.payments.CompletePayment(ctx, p.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, receipt.Invoice)
	require.Nil(t, receipt.Invoice.ArchiveKey)

	f.archiver.err = nil
	url, err := f.payments.InvoiceDownloadURL(ctx, receipt.Invoice.ID)
	require.NoError(t, err)
	require.Contains(t, url, receipt.Invoice.InvoiceNumber)

	stored, err := f.payments.GetInvoice(ctx, receipt.Invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ArchiveKey)

	_, err = f.payments.InvoiceDownloadURL(ctx, uuid.New())
	require.ErrorIs(t, err, service.ErrInvoiceNotFound)

	bare := service.NewPaymentService(f.payRepo, f.invRepo, f.ledger, nil)
	_, err = bare.InvoiceDownloadURL(ctx, receipt.Invoice.ID)
	require.ErrorIs(t, err, service.ErrArchiveUnavailable)
}

func TestPaymentService_Reports(t *testing.T) {
	f := newCheckout(t, nil)
	ctx := context.Background()

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seed := func(at time.Time, status model.PaymentStatus, method model.PaymentMethod, session, order, discount int64) {
		id := uuid.New()
		f.payRepo.payments[id] = model.Payment{
			ID: id, SessionID: uuid.New(), StaffID: "staff-1",
			SessionAmount: session, OrderAmount: order, Discount: discount,
			TotalAmount: session + order - discount,
			Method:      method, Status: status, CreatedAt: at, UpdatedAt: at,
		}
	}
	seed(day.Add(10*time.Hour), model.PaymentCompleted, model.PaymentCash, 60000, 10000, 0)
	seed(day.Add(20*time.Hour), model.PaymentCompleted, model.PaymentCard, 90000, 0, 5000)
	seed(day.Add(21*time.Hour), model.PaymentPending, model.PaymentCash, 30000, 0, 0)
	seed(day.AddDate(0, 0, 4).Add(time.Hour), model.PaymentCompleted, model.PaymentMomo, 30000, 0, 0)
	seed(day.AddDate(0, 1, 0), model.PaymentCompleted, model.PaymentCash, 99999, 0, 0)

	daily, err := f.payments.DailyReport(ctx, day.Add(15*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "2026-03-01", daily.Date)
	require.Equal(t, 2, daily.TotalPayments)
	require.Equal(t, int64(150000), daily.SessionRevenue)
	require.Equal(t, int64(10000), daily.OrderRevenue)
	require.Equal(t, int64(5000), daily.TotalDiscount)
	require.Equal(t, int64(155000), daily.TotalRevenue)
	require.Equal(t, int64(70000), daily.ByMethod[model.PaymentCash])
	require.Equal(t, int64(85000), daily.ByMethod[model.PaymentCard])

	monthly, err := f.payments.MonthlyReport(ctx, 2026, 3)
	require.NoError(t, err)
	require.Equal(t, 3, monthly.TotalPayments)
	require.Equal(t, int64(185000), monthly.TotalRevenue)
	require.Equal(t, []model.DailyAmount{
		{Date: "2026-03-01", Amount: 155000},
		{Date: "2026-03-05", Amount: 30000},
	}, monthly.DailyData)

	_, err = f.payments.MonthlyReport(ctx, 2026, 13)
	require.ErrorIs(t, err, service.ErrInvalidInput)
}
