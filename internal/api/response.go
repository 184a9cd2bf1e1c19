package api

import (
	"errors"
	"log/slog"

	"session-service/internal/service"

	"github.com/gofiber/fiber/v2"
)

func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{"success": true, "data": data})
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": message})
}

// failWith maps a service error onto its HTTP status. Anything unrecognised
// is logged and answered with a generic 500.
func failWith(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, service.ErrInvoiceNotFound):
		return fail(c, fiber.StatusNotFound, rootMessage(err))
	case errors.Is(err, service.ErrTableOccupied),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrInvalidPaymentState):
		return fail(c, fiber.StatusConflict, rootMessage(err))
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidDiscount):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrArchiveUnavailable):
		return fail(c, fiber.StatusServiceUnavailable, err.Error())
	}

	slog.ErrorContext(c.UserContext(), "Request failed",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Any("error", err),
	)
	return fail(c, fiber.StatusInternalServerError, "Internal server error")
}

// rootMessage drops any wrapping context so the client sees the sentinel text.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		service.ErrSessionNotFound, service.ErrPaymentNotFound, service.ErrInvoiceNotFound,
		service.ErrTableOccupied, service.ErrInvalidState, service.ErrInvalidPaymentState,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
