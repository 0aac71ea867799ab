package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/ledger"
)

// Handler exposes HTTP endpoints for wallet top-ups.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Menu lists the offered top-up amounts.
func (h *Handler) Menu(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"amounts": h.service.Menu()})
}

// TopUp opens a checkout session.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var req TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	redirect, err := h.service.TopUp(c.UserContext(), req.Amount)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(TopUpResponse{RedirectURL: redirect, Amount: req.Amount})
}

// Reconcile handles the return from checkout.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	var req ReconcileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.service.Reconcile(c.UserContext(), req.Outcome)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(ReconcileResponse{Outcome: req.Outcome, WalletBalance: balance})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnknownOutcome):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCheckoutFailed):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	case errors.Is(err, ledger.ErrTransport):
		return fiber.NewError(http.StatusServiceUnavailable, "ledger unavailable")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
