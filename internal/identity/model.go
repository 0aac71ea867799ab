package identity

import (
	"errors"

	"github.com/stockflow/storefront/internal/fingerprint"
	"github.com/stockflow/storefront/internal/ledger"
)

var (
	// ErrInvalidEmail is returned for events without a usable email.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrUnknownEvent is returned for unsupported event types.
	ErrUnknownEvent = errors.New("unknown identity event")
)

// State of the signed-in identity's bootstrap lifecycle.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateUnverified
	StateVerified
	StateBonusResolved
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateUnverified:
		return "unverified"
	case StateVerified:
		return "verified"
	case StateBonusResolved:
		return "bonus_resolved"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventType names a provider event.
type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventVerified  EventType = "verified"
	EventSignedOut EventType = "signed_out"
)

// Channel is how an account was created at the identity provider.
type Channel string

const (
	// ChannelFederated accounts arrive with a verified email.
	ChannelFederated Channel = "federated"
	// ChannelPassword accounts start unverified.
	ChannelPassword Channel = "password"
)

// Event is one identity-provider observation.
type Event struct {
	Type          EventType               `json:"type"`
	Email         string                  `json:"email"`
	DisplayName   string                  `json:"displayName"`
	Channel       Channel                 `json:"channel"`
	EmailVerified bool                    `json:"emailVerified"`
	NewAccount    bool                    `json:"newAccount"`
	Device        fingerprint.Environment `json:"device"`

	// Transport holds degraded signals from the carrying request, used only
	// when Device is empty.
	Transport fingerprint.Environment `json:"-"`
}

func (e Event) verified() bool {
	return e.Channel == ChannelFederated || e.EmailVerified
}

// Result summarises what handling an event did.
type Result struct {
	State   State                `json:"state"`
	Email   string               `json:"email,omitempty"`
	Grant   *ledger.GrantOutcome `json:"-"`
	Offline bool                 `json:"offline"`
}
