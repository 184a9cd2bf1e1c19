package service

import (
	"context"
	"log/slog"
	"time"
)

const sagaBatchSize = 50

// SagaRetrier periodically resumes checkouts whose session end or invoice
// step failed after the payment was committed.
type SagaRetrier struct {
	payments PaymentService
	interval time.Duration
}

func NewSagaRetrier(payments PaymentService, interval time.Duration) *SagaRetrier {
	return &SagaRetrier{payments: payments, interval: interval}
}

// Run blocks until ctx is cancelled.
func (r *SagaRetrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("Saga retrier started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("Saga retrier stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

func (r *SagaRetrier) Tick(ctx context.Context) {
	resolved, err := r.payments.ResumePendingInvoices(ctx, sagaBatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Saga retry pass failed", slog.Any("error", err))
		return
	}
	if resolved > 0 {
		slog.InfoContext(ctx, "Resumed pending checkouts", slog.Int("resolved", resolved))
	}
}
