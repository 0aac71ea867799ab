package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stockflow/storefront/internal/money"
)

// ErrRejected is returned when the ledger answered but refused an operation
// whose contract has no business-failure value (createUser).
var ErrRejected = errors.New("ledger rejected request")

// RejectedError carries the ledger's message for ErrRejected.
type RejectedError struct {
	Op      Operation
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger %s rejected: %s", e.Op, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Request bodies. Every operation is POSTed to the same endpoint with
// ?action=<operation>.

type createUserRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	WelcomeBonus  bool   `json:"welcomeBonus"`
	EmailVerified bool   `json:"emailVerified"`
	DeviceID      string `json:"deviceId"`
}

type createUserResponse struct {
	Success           bool        `json:"success"`
	IsNewUser         bool        `json:"isNewUser"`
	WelcomeBonus      bool        `json:"welcomeBonus"`
	NeedsVerification bool        `json:"needsVerification"`
	Wallet            money.Cents `json:"wallet"`
	Error             string      `json:"error,omitempty"`
}

type grantBonusRequest struct {
	Email    string `json:"email"`
	DeviceID string `json:"deviceId"`
}

type grantBonusResponse struct {
	Success bool        `json:"success"`
	Granted bool        `json:"granted"`
	Wallet  money.Cents `json:"wallet"`
	Reason  string      `json:"reason,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type getUserResponse struct {
	Email  string      `json:"email,omitempty"`
	Wallet money.Cents `json:"wallet"`
}

type wireLicense struct {
	VideoID      string      `json:"videoId"`
	Title        string      `json:"title"`
	Amount       money.Cents `json:"amount"`
	Date         string      `json:"date"`
	DownloadLink string      `json:"downloadLink"`
}

type purchaseRequest struct {
	Email      string      `json:"email"`
	VideoID    string      `json:"videoId"`
	VideoTitle string      `json:"videoTitle"`
	Amount     money.Cents `json:"amount"`
	ClientTxID string      `json:"clientTxId,omitempty"`
}

type purchaseResponse struct {
	Success      bool        `json:"success"`
	NewBalance   money.Cents `json:"newBalance"`
	DownloadLink string      `json:"downloadLink,omitempty"`
	Date         string      `json:"date,omitempty"`
	Message      string      `json:"message,omitempty"`
}

type checkoutRequest struct {
	Email      string      `json:"email"`
	Amount     money.Cents `json:"amount"`
	SuccessURL string      `json:"successUrl,omitempty"`
	CancelURL  string      `json:"cancelUrl,omitempty"`
}

type checkoutResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (w wireLicense) toLicense() License {
	return License{
		VideoID:      w.VideoID,
		Title:        w.Title,
		Amount:       w.Amount,
		Timestamp:    parseDate(w.Date),
		DownloadLink: w.DownloadLink,
	}
}

func fromLicense(l License) wireLicense {
	return wireLicense{
		VideoID:      l.VideoID,
		Title:        l.Title,
		Amount:       l.Amount,
		Date:         formatDate(l.Timestamp),
		DownloadLink: l.DownloadLink,
	}
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func grantOutcomeFromWire(resp grantBonusResponse) GrantOutcome {
	switch {
	case resp.Success && resp.Granted:
		return GrantOutcome{Status: GrantGranted, NewBalance: resp.Wallet}
	case resp.Reason == ReasonEmailAlreadyGranted:
		return GrantOutcome{Status: GrantAlreadyGranted, NewBalance: resp.Wallet, Reason: resp.Reason}
	default:
		reason := resp.Reason
		if reason == "" {
			reason = resp.Error
		}
		return GrantOutcome{Status: GrantRefused, NewBalance: resp.Wallet, Reason: reason}
	}
}

func grantOutcomeToWire(o GrantOutcome) grantBonusResponse {
	return grantBonusResponse{
		Success: true,
		Granted: o.Granted(),
		Wallet:  o.NewBalance,
		Reason:  o.Reason,
	}
}
