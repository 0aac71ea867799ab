package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stockflow/storefront/internal/money"
)

var (
	// ErrTransport marks any failure to obtain an answer from the ledger:
	// network errors, timeouts, non-success statuses and undecodable bodies.
	// It never carries a business decision.
	ErrTransport = errors.New("ledger transport failure")

	// ErrUnknownOperation is returned by the wire handler for an unsupported
	// operation selector.
	ErrUnknownOperation = errors.New("unknown ledger operation")
)

// Operation names one ledger capability on the wire.
type Operation string

const (
	OpCreateIdentity        Operation = "createUser"
	OpGrantBonus            Operation = "grantWelcomeBonus"
	OpFetchIdentity         Operation = "getUser"
	OpFetchPurchases        Operation = "getPurchases"
	OpSubmitPurchase        Operation = "purchase"
	OpCreateCheckoutSession Operation = "createCheckout"
)

// TransportError describes a request that did not complete.
type TransportError struct {
	Op     Operation
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ledger %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// NormalizeEmail case-folds an identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateIdentityInput is sent when an identity is first observed.
type CreateIdentityInput struct {
	Email             string
	DisplayName       string
	WantsBonus        bool
	EmailVerified     bool
	DeviceFingerprint string
}

// CreateIdentityResult reports whether the identity was new and whether the
// ledger applied the signup bonus while creating it.
type CreateIdentityResult struct {
	IsNewUser         bool
	BonusGranted      bool
	NeedsVerification bool
	Balance           money.Cents
}

// GrantStatus discriminates grant outcomes.
type GrantStatus int

const (
	GrantGranted GrantStatus = iota + 1
	GrantAlreadyGranted
	GrantRefused
)

func (s GrantStatus) String() string {
	switch s {
	case GrantGranted:
		return "granted"
	case GrantAlreadyGranted:
		return "already_granted"
	case GrantRefused:
		return "refused"
	default:
		return "unknown"
	}
}

// Refusal reasons reported by the ledger.
const (
	ReasonEmailAlreadyGranted  = "email_already_granted"
	ReasonDeviceAlreadyGranted = "device_already_granted"
	ReasonUnknownIdentity      = "unknown_identity"
)

// GrantOutcome is the ledger's decision on a bonus grant request.
type GrantOutcome struct {
	Status     GrantStatus
	NewBalance money.Cents
	Reason     string
}

// Granted reports whether this request applied the bonus.
func (o GrantOutcome) Granted() bool {
	return o.Status == GrantGranted
}

// Identity is the ledger's view of an account. Found is false when the
// ledger has no record for the email, which is a valid answer.
type Identity struct {
	Found   bool
	Email   string
	Balance money.Cents
}

// License is one immutable purchase record.
type License struct {
	VideoID      string      `json:"videoId"`
	Title        string      `json:"title"`
	Amount       money.Cents `json:"amount"`
	Timestamp    time.Time   `json:"date"`
	DownloadLink string      `json:"downloadLink"`
}

// DirectDownloadURL turns a preview link into a direct download link.
func (l License) DirectDownloadURL() string {
	return strings.Replace(l.DownloadLink, "export=view", "export=download", 1)
}

// SubmitPurchaseInput carries one purchase attempt. ClientTxID identifies
// the attempt, so a replayed request is answered with the original result
// instead of buying twice.
type SubmitPurchaseInput struct {
	Email      string
	VideoID    string
	Title      string
	Amount     money.Cents
	ClientTxID string
}

// PurchaseResult is the ledger's answer to a purchase submission.
type PurchaseResult struct {
	Success      bool
	NewBalance   money.Cents
	DownloadLink string
	Message      string
	Timestamp    time.Time
}

// CheckoutInput requests a hosted checkout session for a wallet top-up.
type CheckoutInput struct {
	Email      string
	Amount     money.Cents
	SuccessURL string
	CancelURL  string
}

// CheckoutResult carries the redirect to the payment collaborator.
type CheckoutResult struct {
	Success     bool
	RedirectURL string
	Message     string
}

// Ledger is the contract the storefront expects from the remote ledger.
// Implementations perform no retries and no caching. Errors are reserved for
// transport failures; business refusals come back as values.
type Ledger interface {
	CreateIdentity(ctx context.Context, in CreateIdentityInput) (CreateIdentityResult, error)
	GrantBonus(ctx context.Context, email, deviceFingerprint string) (GrantOutcome, error)
	FetchIdentity(ctx context.Context, email string) (Identity, error)
	FetchPurchases(ctx context.Context, email string) ([]License, error)
	SubmitPurchase(ctx context.Context, in SubmitPurchaseInput) (PurchaseResult, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (CheckoutResult, error)
}
