package purchase

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/session"
)

// Handler exposes purchase endpoints.
type Handler struct {
	service *Service
	session *session.Cache
}

// NewHandler constructs a purchase handler.
func NewHandler(service *Service, cache *session.Cache) *Handler {
	return &Handler{service: service, session: cache}
}

// Buy runs the pipeline for the posted intent. The request blocks through
// any soft confirmation countdown.
func (h *Handler) Buy(c *fiber.Ctx) error {
	var intent Intent
	if err := c.BodyParser(&intent); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	outcome, err := h.service.Run(c.UserContext(), intent)
	switch {
	case errors.Is(err, ErrInvalidIntent):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInFlight):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrTransport):
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "ledger unavailable", "retryable": true, "outcome": outcome})
	case errors.Is(err, ErrPurchaseFailed):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"error": outcome.Message, "retryable": true, "outcome": outcome})
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	if outcome.State == StateCompleted {
		return c.Status(http.StatusCreated).JSON(outcome)
	}
	return c.Status(http.StatusOK).JSON(outcome)
}

// History returns the refreshed purchase history of the signed-in identity.
func (h *Handler) History(c *fiber.Ctx) error {
	if !h.session.Current().SignedIn() {
		return fiber.NewError(http.StatusUnauthorized, "sign in required")
	}
	licenses, err := h.session.RefreshPurchases(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, "ledger unavailable")
	}
	type item struct {
		ledger.License
		DirectDownloadURL string `json:"directDownloadUrl"`
	}
	out := make([]item, 0, len(licenses))
	for i := len(licenses) - 1; i >= 0; i-- {
		out = append(out, item{License: licenses[i], DirectDownloadURL: licenses[i].DirectDownloadURL()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"purchases": out})
}

// Confirmations lists soft confirmations still counting down.
func (h *Handler) Confirmations(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"pending": h.service.Pending()})
}

// CancelConfirmation cancels one soft confirmation.
func (h *Handler) CancelConfirmation(c *fiber.Ctx) error {
	if !h.service.CancelConfirmation(c.Params("id")) {
		return fiber.NewError(http.StatusNotFound, "no pending confirmation")
	}
	return c.SendStatus(http.StatusNoContent)
}
