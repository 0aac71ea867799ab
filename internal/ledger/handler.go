package ledger

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler serves a Ledger over the single-endpoint wire contract used by
// Client. It backs the development ledger endpoint and the client tests.
type Handler struct {
	backend Ledger
}

// NewHandler wraps a ledger backend.
func NewHandler(backend Ledger) *Handler {
	return &Handler{backend: backend}
}

// Serve dispatches on the ?action= selector.
func (h *Handler) Serve(c *fiber.Ctx) error {
	ctx := c.UserContext()
	switch Operation(c.Query("action")) {
	case OpCreateIdentity:
		var req createUserRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		res, err := h.backend.CreateIdentity(ctx, CreateIdentityInput{
			Email:             req.Email,
			DisplayName:       req.Name,
			WantsBonus:        req.WelcomeBonus,
			EmailVerified:     req.EmailVerified,
			DeviceFingerprint: req.DeviceID,
		})
		if err != nil {
			var rejected *RejectedError
			if errors.As(err, &rejected) {
				return c.JSON(createUserResponse{Success: false, Error: rejected.Message})
			}
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(createUserResponse{
			Success:           true,
			IsNewUser:         res.IsNewUser,
			WelcomeBonus:      res.BonusGranted,
			NeedsVerification: res.NeedsVerification,
			Wallet:            res.Balance,
		})

	case OpGrantBonus:
		var req grantBonusRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		outcome, err := h.backend.GrantBonus(ctx, req.Email, req.DeviceID)
		if err != nil {
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(grantOutcomeToWire(outcome))

	case OpFetchIdentity:
		var req emailRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		id, err := h.backend.FetchIdentity(ctx, req.Email)
		if err != nil {
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		if !id.Found {
			return c.JSON(fiber.Map{})
		}
		return c.JSON(getUserResponse{Email: id.Email, Wallet: id.Balance})

	case OpFetchPurchases:
		var req emailRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		licenses, err := h.backend.FetchPurchases(ctx, req.Email)
		if err != nil {
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		out := make([]wireLicense, 0, len(licenses))
		for _, l := range licenses {
			out = append(out, fromLicense(l))
		}
		return c.JSON(out)

	case OpSubmitPurchase:
		var req purchaseRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		res, err := h.backend.SubmitPurchase(ctx, SubmitPurchaseInput{
			Email:      req.Email,
			VideoID:    req.VideoID,
			Title:      req.VideoTitle,
			Amount:     req.Amount,
			ClientTxID: req.ClientTxID,
		})
		if err != nil {
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(purchaseResponse{
			Success:      res.Success,
			NewBalance:   res.NewBalance,
			DownloadLink: res.DownloadLink,
			Date:         formatDate(res.Timestamp),
			Message:      res.Message,
		})

	case OpCreateCheckoutSession:
		var req checkoutRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		res, err := h.backend.CreateCheckoutSession(ctx, CheckoutInput{
			Email:      req.Email,
			Amount:     req.Amount,
			SuccessURL: req.SuccessURL,
			CancelURL:  req.CancelURL,
		})
		if err != nil {
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(checkoutResponse{Success: res.Success, URL: res.RedirectURL, Error: res.Message})

	default:
		return fiber.NewError(http.StatusBadRequest, ErrUnknownOperation.Error())
	}
}
