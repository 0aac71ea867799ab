package purchase

import (
	"errors"

	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/money"
)

var (
	// ErrPurchaseFailed means the ledger answered the submission with
	// success=false. Nothing was charged and nothing was granted.
	ErrPurchaseFailed = errors.New("purchase failed")
	// ErrInFlight means a run for the same item is already in progress.
	ErrInFlight = errors.New("purchase already in progress")
	// ErrInvalidIntent rejects intents without an item or a positive price.
	ErrInvalidIntent = errors.New("invalid purchase intent")
)

// State is a pipeline step.
type State int

const (
	StateIdle State = iota
	StateAuthGate
	StateLicenseGate
	StateSoftConfirm
	StateFundsGate
	StateSubmitting
	StateCompleted
	StateAborted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateAuthGate:    "auth_gate",
	StateLicenseGate: "license_gate",
	StateSoftConfirm: "soft_confirm",
	StateFundsGate:   "funds_gate",
	StateSubmitting:  "submitting",
	StateCompleted:   "completed",
	StateAborted:     "aborted",
	StateFailed:      "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// Reason explains an aborted run.
type Reason string

const (
	ReasonAuthRequired      Reason = "auth_required"
	ReasonCancelled         Reason = "cancelled"
	ReasonInsufficientFunds Reason = "insufficient_funds"
)

// Intent is a request to buy one catalog item.
type Intent struct {
	VideoID string      `json:"videoId"`
	Title   string      `json:"title"`
	Price   money.Cents `json:"price"`
}

func (i Intent) validate() error {
	if i.VideoID == "" {
		return errors.Join(ErrInvalidIntent, errors.New("videoId is required"))
	}
	if i.Price <= 0 {
		return errors.Join(ErrInvalidIntent, errors.New("price must be positive"))
	}
	return nil
}

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	State        State           `json:"state"`
	Reason       Reason          `json:"reason,omitempty"`
	Shortfall    money.Cents     `json:"shortfall,omitempty"`
	Balance      money.Cents     `json:"walletBalance"`
	License      *ledger.License `json:"license,omitempty"`
	PriorLicense *ledger.License `json:"priorLicense,omitempty"`
	Message      string          `json:"message,omitempty"`
	Trail        []State         `json:"trail"`
}

// Prompt is what a Confirmer is asked about when an item is already owned.
type Prompt struct {
	ID     string         `json:"id"`
	Email  string         `json:"email"`
	Intent Intent         `json:"intent"`
	Prior  ledger.License `json:"prior"`
}
