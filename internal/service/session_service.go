package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"session-service/internal/billing"
	"session-service/internal/model"
	"session-service/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTableOccupied   = errors.New("table is currently occupied")
	ErrInvalidState    = errors.New("session is not in a valid state for this operation")
	ErrInvalidInput    = errors.New("invalid session input")
)

// maxTransitionAttempts bounds the optimistic-version retry loop.
const maxTransitionAttempts = 3

var sessionTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_session_transitions_total",
		Help: "Session lifecycle transitions committed by the ledger",
	},
	[]string{"event"},
)

type StartSessionInput struct {
	TableID    string
	StaffID    string
	CustomerID *string
	HourlyRate *int64
	Notes      *string
}

type SessionService interface {
	StartSession(ctx context.Context, in StartSessionInput) (*model.Session, error)
	EndSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	CancelSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	PauseSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	ResumeSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	GetSessionCost(ctx context.Context, sessionID uuid.UUID) (*model.SessionCost, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*model.SessionView, error)
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.SessionView, error)
}

type sessionService struct {
	sessionRepo repository.SessionRepository
	defaultRate int64
	now         func() time.Time
}

type SessionOption func(*sessionService)

// WithClock overrides the wall clock used for start/end timestamps and live cost.
func WithClock(now func() time.Time) SessionOption {
	return func(s *sessionService) { s.now = now }
}

func NewSessionService(repo repository.SessionRepository, defaultRate int64, opts ...SessionOption) SessionService {
	s := &sessionService{sessionRepo: repo, defaultRate: defaultRate, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sessionService) StartSession(ctx context.Context, in StartSessionInput) (*model.Session, error) {
	if in.TableID == "" || in.StaffID == "" {
		return nil, fmt.Errorf("%w: table and staff are required", ErrInvalidInput)
	}

	rate := s.defaultRate
	if in.HourlyRate != nil {
		if *in.HourlyRate < 0 {
			return nil, fmt.Errorf("%w: hourly rate must not be negative", ErrInvalidInput)
		}
		rate = *in.HourlyRate
	}

	now := s.now().UTC()
	session := &model.Session{
		ID:         uuid.New(),
		TableID:    in.TableID,
		CustomerID: in.CustomerID,
		StaffID:    in.StaffID,
		StartTime:  now,
		HourlyRate: rate,
		Status:     model.SessionActive,
		Notes:      in.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.sessionRepo.Create(ctx, session)
	if err != nil {
		if errors.Is(err, repository.ErrLiveSessionExists) {
			return nil, ErrTableOccupied
		}
		return nil, err
	}

	sessionTransitions.WithLabelValues(string(model.EventSessionStarted)).Inc()
	slog.InfoContext(ctx, "Session started",
		slog.String("session_id", created.ID.String()),
		slog.String("table_id", created.TableID),
		slog.Int64("hourly_rate", created.HourlyRate),
	)

	return created, nil
}

func (s *sessionService) EndSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return s.transition(ctx, sessionID, model.EventSessionEnded, func(session *model.Session, now time.Time) error {
		if session.Status != model.SessionActive {
			return ErrInvalidState
		}
		session.EndTime = &now
		cost := billing.Cost(billing.BillableElapsed(session, now), session.HourlyRate)
		session.TotalCost = &cost
		session.Status = model.SessionCompleted
		return nil
	})
}

func (s *sessionService) CancelSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return s.transition(ctx, sessionID, model.EventSessionCancelled, func(session *model.Session, now time.Time) error {
		if session.Status.Terminal() {
			return ErrInvalidState
		}
		closePause(session, now)
		session.EndTime = &now
		session.TotalCost = nil
		session.Status = model.SessionCancelled
		return nil
	})
}

func (s *sessionService) PauseSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return s.transition(ctx, sessionID, model.EventSessionPaused, func(session *model.Session, now time.Time) error {
		if session.Status != model.SessionActive {
			return ErrInvalidState
		}
		session.PausedAt = &now
		session.Status = model.SessionPaused
		return nil
	})
}

func (s *sessionService) ResumeSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return s.transition(ctx, sessionID, model.EventSessionResumed, func(session *model.Session, now time.Time) error {
		if session.Status != model.SessionPaused {
			return ErrInvalidState
		}
		closePause(session, now)
		session.Status = model.SessionActive
		return nil
	})
}

// transition loads the session, applies mutate and persists it under an
// optimistic version check. A lost race re-reads and re-validates, so a
// concurrent End and Cancel cannot both succeed.
func (s *sessionService) transition(ctx context.Context, sessionID uuid.UUID, event model.EventType, mutate func(*model.Session, time.Time) error) (*model.Session, error) {
	for attempt := 1; ; attempt++ {
		session, err := s.sessionRepo.FindByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, ErrSessionNotFound
		}

		now := s.now().UTC()
		expected := session.Version
		if err := mutate(session, now); err != nil {
			return nil, err
		}
		session.UpdatedAt = now

		updated, err := s.sessionRepo.Update(ctx, session, expected, event)
		if err == nil {
			sessionTransitions.WithLabelValues(string(event)).Inc()
			slog.InfoContext(ctx, "Session transition committed",
				slog.String("session_id", sessionID.String()),
				slog.String("event", string(event)),
				slog.String("status", string(updated.Status)),
			)
			return updated, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= maxTransitionAttempts {
			return nil, err
		}
		slog.WarnContext(ctx, "Session changed concurrently, retrying transition",
			slog.String("session_id", sessionID.String()),
			slog.Int("attempt", attempt),
		)
	}
}

func (s *sessionService) GetSessionCost(ctx context.Context, sessionID uuid.UUID) (*model.SessionCost, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	cost := billing.Quote(session, s.now())
	return &cost, nil
}

func (s *sessionService) GetSession(ctx context.Context, sessionID uuid.UUID) (*model.SessionView, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	view := s.view(*session, s.now())
	return &view, nil
}

func (s *sessionService) ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.SessionView, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}

	sessions, err := s.sessionRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]model.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, s.view(session, now))
	}
	return views, nil
}

func (s *sessionService) view(session model.Session, now time.Time) model.SessionView {
	return model.SessionView{
		Session:     session,
		CurrentCost: billing.Quote(&session, now).CurrentCost,
	}
}

// closePause folds an open pause interval into the accumulated paused time.
func closePause(session *model.Session, now time.Time) {
	if session.PausedAt == nil {
		return
	}
	if d := now.Sub(*session.PausedAt); d > 0 {
		session.PausedMs += d.Milliseconds()
	}
	session.PausedAt = nil
}
