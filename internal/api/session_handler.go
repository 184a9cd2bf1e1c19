package api

import (
	"context"
	"log/slog"

	"session-service/internal/model"
	"session-service/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// TableLookup resolves a table's configured hourly rate when a start request
// does not carry one.
type TableLookup interface {
	GetTable(ctx context.Context, tableID string) (*model.Table, error)
}

type SessionHandler struct {
	sessionService service.SessionService
	tables         TableLookup
	validate       *validator.Validate
}

func NewSessionHandler(sessionService service.SessionService, tables TableLookup) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		tables:         tables,
		validate:       validator.New(),
	}
}

type StartSessionRequest struct {
	TableID    string  `json:"table_id" validate:"required,max=64"`
	CustomerID *string `json:"customer_id,omitempty" validate:"omitempty,max=64"`
	StaffID    string  `json:"staff_id,omitempty" validate:"max=64"`
	HourlyRate *int64  `json:"hourly_rate,omitempty" validate:"omitempty,gte=0"`
	Notes      *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

func (h *SessionHandler) StartSession(c *fiber.Ctx) error {
	var request StartSessionRequest
	if err := c.BodyParser(&request); err != nil {
		return fail(c, fiber.StatusBadRequest, "Cannot parse JSON")
	}
	if err := h.validate.Struct(&request); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid input: "+err.Error())
	}

	staffID := request.StaffID
	if staffID == "" {
		staffID = StaffIDFromClaims(c)
	}
	if staffID == "" {
		return fail(c, fiber.StatusBadRequest, "staff_id is required")
	}

	rate := request.HourlyRate
	if rate == nil {
		rate = h.tableRate(c.UserContext(), request.TableID)
	}

	session, err := h.sessionService.StartSession(c.UserContext(), service.StartSessionInput{
		TableID:    request.TableID,
		StaffID:    staffID,
		CustomerID: request.CustomerID,
		HourlyRate: rate,
		Notes:      request.Notes,
	})
	if err != nil {
		return failWith(c, err)
	}

	return ok(c, fiber.StatusCreated, session)
}

// tableRate asks the registry for the table's rate. A missing table or an
// unreachable registry leaves the ledger default in place.
func (h *SessionHandler) tableRate(ctx context.Context, tableID string) *int64 {
	if h.tables == nil {
		return nil
	}
	table, err := h.tables.GetTable(ctx, tableID)
	if err != nil {
		slog.WarnContext(ctx, "Could not resolve table rate, using default",
			slog.String("table_id", tableID),
			slog.Any("error", err),
		)
		return nil
	}
	if table.HourlyRate <= 0 {
		return nil
	}
	return &table.HourlyRate
}

func (h *SessionHandler) EndSession(c *fiber.Ctx) error {
	return h.transition(c, h.sessionService.EndSession)
}

func (h *SessionHandler) CancelSession(c *fiber.Ctx) error {
	return h.transition(c, h.sessionService.CancelSession)
}

func (h *SessionHandler) PauseSession(c *fiber.Ctx) error {
	return h.transition(c, h.sessionService.PauseSession)
}

func (h *SessionHandler) ResumeSession(c *fiber.Ctx) error {
	return h.transition(c, h.sessionService.ResumeSession)
}

func (h *SessionHandler) transition(c *fiber.Ctx, apply func(context.Context, uuid.UUID) (*model.Session, error)) error {
	sessionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid session ID format")
	}

	session, err := apply(c.UserContext(), sessionID)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, session)
}

func (h *SessionHandler) GetSessionCost(c *fiber.Ctx) error {
	sessionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid session ID format")
	}

	cost, err := h.sessionService.GetSessionCost(c.UserContext(), sessionID)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, cost)
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	sessionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid session ID format")
	}

	session, err := h.sessionService.GetSession(c.UserContext(), sessionID)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, session)
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	filter := model.SessionFilter{
		Status:  model.SessionStatus(c.Query("status")),
		TableID: c.Query("table_id"),
	}

	sessions, err := h.sessionService.ListSessions(c.UserContext(), filter)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, sessions)
}
