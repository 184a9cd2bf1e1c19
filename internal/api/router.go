package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Sessions *SessionHandler
	Payments *PaymentHandler
	Stream   *StreamHandler
}

func SetupRoutes(app *fiber.App, serviceName string, h Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": serviceName})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/v1")

	sessions := v1.Group("/sessions")
	sessions.Get("/", h.Sessions.ListSessions)
	if h.Stream != nil {
		// Registered ahead of /:id so "stream" is not parsed as an id.
		sessions.Get("/stream", h.Stream.StreamSessions)
	}
	sessions.Get("/:id", h.Sessions.GetSession)
	sessions.Get("/:id/cost", h.Sessions.GetSessionCost)
	sessions.Post("/", AuthMiddleware(), h.Sessions.StartSession)
	sessions.Patch("/:id/end", AuthMiddleware(), h.Sessions.EndSession)
	sessions.Patch("/:id/cancel", AuthMiddleware(), h.Sessions.CancelSession)
	sessions.Patch("/:id/pause", AuthMiddleware(), h.Sessions.PauseSession)
	sessions.Patch("/:id/resume", AuthMiddleware(), h.Sessions.ResumeSession)

	if h.Payments == nil {
		return
	}

	payments := v1.Group("/payments")
	payments.Get("/", h.Payments.ListPayments)
	payments.Get("/:id", h.Payments.GetPayment)
	payments.Get("/:id/invoice", h.Payments.GetPaymentInvoice)
	payments.Post("/", AuthMiddleware(), h.Payments.CreatePayment)
	payments.Patch("/:id/complete", AuthMiddleware(), h.Payments.CompletePayment)
	payments.Patch("/:id/refund", AuthMiddleware(), h.Payments.RefundPayment)

	invoices := v1.Group("/invoices")
	invoices.Get("/:id", h.Payments.GetInvoice)
	invoices.Get("/:id/download-url", h.Payments.GetInvoiceDownloadURL)

	reports := v1.Group("/reports")
	reports.Get("/daily", h.Payments.DailyReport)
	reports.Get("/monthly", h.Payments.MonthlyReport)
}
