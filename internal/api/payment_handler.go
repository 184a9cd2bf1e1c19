package api

import (
	"strconv"
	"time"

	"session-service/internal/model"
	"session-service/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type PaymentHandler struct {
	paymentService service.PaymentService
	validate       *validator.Validate
}

func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, validate: validator.New()}
}

type CreatePaymentRequest struct {
	SessionID  string               `json:"session_id" validate:"required,uuid"`
	CustomerID *string              `json:"customer_id,omitempty" validate:"omitempty,max=64"`
	StaffID    string               `json:"staff_id,omitempty" validate:"max=64"`
	Method     *model.PaymentMethod `json:"method,omitempty" validate:"omitempty,oneof=CASH CARD TRANSFER MOMO ZALOPAY"`
	Discount   int64                `json:"discount" validate:"gte=0"`
	Notes      *string              `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type CompletePaymentRequest struct {
	Method *model.PaymentMethod `json:"method,omitempty" validate:"omitempty,oneof=CASH CARD TRANSFER MOMO ZALOPAY"`
}

type RefundPaymentRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	var request CreatePaymentRequest
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

	payment, err := h.paymentService.CreatePayment(c.UserContext(), service.CreatePaymentInput{
		SessionID:  uuid.MustParse(request.SessionID),
		StaffID:    staffID,
		CustomerID: request.CustomerID,
		Method:     request.Method,
		Discount:   request.Discount,
		Notes:      request.Notes,
	})
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusCreated, payment)
}

func (h *PaymentHandler) CompletePayment(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid payment ID format")
	}

	var request CompletePaymentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return fail(c, fiber.StatusBadRequest, "Cannot parse JSON")
		}
		if err := h.validate.Struct(&request); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid input: "+err.Error())
		}
	}

	receipt, err := h.paymentService.CompletePayment(c.UserContext(), paymentID, request.Method)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, receipt)
}

func (h *PaymentHandler) RefundPayment(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid payment ID format")
	}

	var request RefundPaymentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return fail(c, fiber.StatusBadRequest, "Cannot parse JSON")
		}
		if err := h.validate.Struct(&request); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid input: "+err.Error())
		}
	}

	payment, err := h.paymentService.RefundPayment(c.UserContext(), paymentID, request.Notes)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, payment)
}

func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid payment ID format")
	}

	payment, err := h.paymentService.GetPayment(c.UserContext(), paymentID)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, payment)
}

// ListPayments filters by status, method and a single calendar day (date=YYYY-MM-DD, UTC).
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	filter := model.PaymentFilter{
		Status: model.PaymentStatus(c.Query("status")),
		Method: model.PaymentMethod(c.Query("method")),
	}
	if date := c.Query("date"); date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		next := day.AddDate(0, 0, 1)
		filter.From, filter.To = &day, &next
	}

	payments, err := h.paymentService.ListPayments(c.UserContext(), filter)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, payments)
}

func (h *PaymentHandler) GetPaymentInvoice(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid payment ID format")
	}

	invoice, err := h.paymentService.GetInvoiceByPayment(c.UserContext(), paymentID)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, invoice)
}

func (h *PaymentHandler) GetInvoice(c *fiber.Ctx) error {
	invoiceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid invoice ID format")
	}

	invoice, err := h.paymentService.GetInvoice(c.UserContext(), invoiceID)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, invoice)
}

func (h *PaymentHandler) GetInvoiceDownloadURL(c *fiber.Ctx) error {
	invoiceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid invoice ID format")
	}

	url, err := h.paymentService.InvoiceDownloadURL(c.UserContext(), invoiceID)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"url": url})
}

func (h *PaymentHandler) DailyReport(c *fiber.Ctx) error {
	day := time.Now().UTC()
	if date := c.Query("date"); date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		day = parsed
	}

	report, err := h.paymentService.DailyReport(c.UserContext(), day)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, report)
}

func (h *PaymentHandler) MonthlyReport(c *fiber.Ctx) error {
	now := time.Now().UTC()
	year, month := now.Year(), int(now.Month())

	if v := c.Query("year"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "year must be a number")
		}
		year = parsed
	}
	if v := c.Query("month"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "month must be a number")
		}
		month = parsed
	}

	report, err := h.paymentService.MonthlyReport(c.UserContext(), year, month)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, fiber.StatusOK, report)
}
