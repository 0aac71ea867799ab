package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/fingerprint"
	"github.com/stockflow/storefront/internal/money"
	"github.com/stockflow/storefront/internal/session"
)

// Handler exposes identity endpoints.
type Handler struct {
	machine *Machine
	session *session.Cache
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(machine *Machine, cache *session.Cache) *Handler {
	return &Handler{machine: machine, session: cache}
}

type grantResponse struct {
	Status     string      `json:"status"`
	NewBalance money.Cents `json:"newBalance"`
	Reason     string      `json:"reason,omitempty"`
}

type eventResponse struct {
	Result
	Grant   *grantResponse   `json:"grant,omitempty"`
	Session session.Snapshot `json:"session"`
}

// Ingest handles one provider event.
func (h *Handler) Ingest(c *fiber.Ctx) error {
	var ev Event
	if err := c.BodyParser(&ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ev.Transport = fingerprint.FromHeaders(c.Get(fiber.HeaderUserAgent), c.Get(fiber.HeaderAcceptLanguage))
	res, err := h.machine.Ingest(c.UserContext(), ev)
	if err != nil {
		if IsInputError(err) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	out := eventResponse{Result: res, Session: h.session.Current()}
	if res.Grant != nil {
		out.Grant = &grantResponse{Status: res.Grant.Status.String(), NewBalance: res.Grant.NewBalance, Reason: res.Grant.Reason}
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Session returns the current session snapshot.
func (h *Handler) Session(c *fiber.Ctx) error {
	snap := h.session.Current()
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"state":         h.machine.State(),
		"signedIn":      snap.SignedIn(),
		"email":         snap.Email,
		"walletBalance": snap.Balance,
		"purchases":     snap.Purchases,
		"refreshedAt":   snap.RefreshedAt,
	})
}
