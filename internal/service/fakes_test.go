package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"session-service/internal/model"
	"session-service/internal/repository"

	"github.com/google/uuid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memorySessionRepository mimics the postgres guarantees: a unique live
// session per table and version-checked updates.
type memorySessionRepository struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]model.Session
	events    []model.EventType
	conflicts int
}

func newMemorySessionRepository() *memorySessionRepository {
	return &memorySessionRepository{sessions: map[uuid.UUID]model.Session{}}
}

func (r *memorySessionRepository) Create(_ context.Context, session *model.Session) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TableID == session.TableID && s.Status.Live() {
			return nil, repository.ErrLiveSessionExists
		}
	}
	session.Version = 1
	r.sessions[session.ID] = *session
	r.events = append(r.events, model.EventSessionStarted)
	out := *session
	return &out, nil
}

func (r *memorySessionRepository) FindByID(_ context.Context, id uuid.UUID) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memorySessionRepository) List(_ context.Context, filter model.SessionFilter) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Session{}
	for _, s := range r.sessions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.TableID != "" && s.TableID != filter.TableID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *memorySessionRepository) Update(_ context.Context, session *model.Session, expected int64, event model.EventType) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		current := r.sessions[session.ID]
		current.Version++
		r.sessions[session.ID] = current
		return nil, repository.ErrVersionConflict
	}
	current, ok := r.sessions[session.ID]
	if !ok || current.Version != expected {
		return nil, repository.ErrVersionConflict
	}
	session.Version = expected + 1
	r.sessions[session.ID] = *session
	r.events = append(r.events, event)
	out := *session
	return &out, nil
}

type memoryPaymentRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]model.Payment
	pending  map[uuid.UUID]*model.PendingInvoice
}

func newMemoryPaymentRepository() *memoryPaymentRepository {
	return &memoryPaymentRepository{
		payments: map[uuid.UUID]model.Payment{},
		pending:  map[uuid.UUID]*model.PendingInvoice{},
	}
}

func (r *memoryPaymentRepository) Create(_ context.Context, p *model.Payment) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = uuid.New()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = p.CreatedAt
	r.payments[p.ID] = *p
	out := *p
	return &out, nil
}

func (r *memoryPaymentRepository) FindByID(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memoryPaymentRepository) List(_ context.Context, f model.PaymentFilter) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Payment{}
	for _, p := range r.payments {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Method != "" && p.Method != f.Method {
			continue
		}
		if f.From != nil && p.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !p.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryPaymentRepository) Complete(_ context.Context, id uuid.UUID, method *model.PaymentMethod, at time.Time) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != model.PaymentPending {
		return nil, repository.ErrPaymentStatusMismatch
	}
	p.Status = model.PaymentCompleted
	if method != nil {
		p.Method = *method
	}
	p.UpdatedAt = at
	r.payments[id] = p
	r.pending[id] = &model.PendingInvoice{PaymentID: id, CreatedAt: at}
	return &p, nil
}

func (r *memoryPaymentRepository) Refund(_ context.Context, id uuid.UUID, notes *string, at time.Time) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != model.PaymentCompleted {
		return nil, repository.ErrPaymentStatusMismatch
	}
	p.Status = model.PaymentRefunded
	if notes != nil {
		p.Notes = notes
	}
	p.UpdatedAt = at
	r.payments[id] = p
	return &p, nil
}

// memoryInvoiceRepository shares the pending map with the payment fake, the
// way both tables live in one database.
type memoryInvoiceRepository struct {
	mu       sync.Mutex
	payments *memoryPaymentRepository
	invoices map[uuid.UUID]model.Invoice
	failNext int
}

func newMemoryInvoiceRepository(payments *memoryPaymentRepository) *memoryInvoiceRepository {
	return &memoryInvoiceRepository{payments: payments, invoices: map[uuid.UUID]model.Invoice{}}
}

func (r *memoryInvoiceRepository) Create(_ context.Context, inv *model.Invoice) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return nil, errors.New("connection reset")
	}
	for _, existing := range r.invoices {
		if existing.PaymentID == inv.PaymentID {
			out := existing
			return &out, nil
		}
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return nil, repository.ErrInvoiceNumberTaken
		}
	}
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	r.invoices[inv.ID] = *inv
	out := *inv
	return &out, nil
}

func (r *memoryInvoiceRepository) FindByID(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (r *memoryInvoiceRepository) FindByPaymentID(_ context.Context, paymentID uuid.UUID) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.PaymentID == paymentID {
			return &inv, nil
		}
	}
	return nil, nil
}

func (r *memoryInvoiceRepository) SetArchiveKey(_ context.Context, id uuid.UUID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := r.invoices[id]
	inv.ArchiveKey = &key
	r.invoices[id] = inv
	return nil
}

func (r *memoryInvoiceRepository) ListUnresolved(_ context.Context, limit int) ([]model.PendingInvoice, error) {
	r.payments.mu.Lock()
	defer r.payments.mu.Unlock()
	out := []model.PendingInvoice{}
	for _, p := range r.payments.pending {
		if p.ResolvedAt == nil && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryInvoiceRepository) MarkSessionEnded(_ context.Context, paymentID uuid.UUID) error {
	r.payments.mu.Lock()
	defer r.payments.mu.Unlock()
	if p, ok := r.payments.pending[paymentID]; ok {
		p.SessionEnded = true
	}
	return nil
}

func (r *memoryInvoiceRepository) RecordFailure(_ context.Context, paymentID uuid.UUID, reason string) error {
	r.payments.mu.Lock()
	defer r.payments.mu.Unlock()
	if p, ok := r.payments.pending[paymentID]; ok {
		p.Attempts++
		p.LastError = &reason
	}
	return nil
}

func (r *memoryInvoiceRepository) Resolve(_ context.Context, paymentID uuid.UUID, at time.Time) error {
	r.payments.mu.Lock()
	defer r.payments.mu.Unlock()
	if p, ok := r.payments.pending[paymentID]; ok {
		p.ResolvedAt = &at
	}
	return nil
}

type stubOrders struct {
	total int64
	err   error
}

func (s stubOrders) SessionOrdersTotal(context.Context, uuid.UUID) (int64, error) {
	return s.total, s.err
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (a *recordingArchiver) Archive(_ context.Context, inv *model.Invoice, _ *model.Payment) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	key := "invoices/" + inv.InvoiceNumber + ".json"
	a.archived = append(a.archived, key)
	return key, nil
}

func (a *recordingArchiver) PresignURL(_ context.Context, key string) (string, error) {
	return "https://archive.example/" + key + "?sig=abc", nil
}
