// Package identity turns identity-provider events into account bootstrap
// and signup-bonus requests against the ledger. The ledger alone decides
// whether a bonus is applied; this package only decides when to ask.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sync"
	"sync/atomic"

	"github.com/stockflow/storefront/internal/fingerprint"
	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/localstore"
	"github.com/stockflow/storefront/internal/notification"
	"github.com/stockflow/storefront/internal/session"
)

// Machine is the single ingestion point for provider events. Events are
// handled one at a time; the state can be read while one is in flight.
type Machine struct {
	mu     sync.Mutex
	state  atomic.Int32
	email  string
	device string

	ledger   ledger.Ledger
	store    localstore.Store
	session  *session.Cache
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewMachine wires the state machine to its collaborators.
func NewMachine(l ledger.Ledger, store localstore.Store, cache *session.Cache, notifier notification.Notifier, logger *slog.Logger) *Machine {
	if notifier == nil {
		notifier = notification.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{ledger: l, store: store, session: cache, notifier: notifier, logger: logger}
}

// State returns the current lifecycle state without waiting for an event
// that is being handled.
func (m *Machine) State() State {
	return m.current()
}

func (m *Machine) current() State {
	return State(m.state.Load())
}

// enter is only called with mu held.
func (m *Machine) enter(s State) {
	m.state.Store(int32(s))
}

// Ingest applies one provider event.
func (m *Machine) Ingest(ctx context.Context, ev Event) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case EventSignedOut:
		return m.signOut(ctx), nil
	case EventSignedIn, EventVerified:
	default:
		return Result{State: m.current()}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	email, err := normalize(ev.Email)
	if err != nil {
		return Result{State: m.current()}, err
	}
	m.resolveDevice(ctx, email, ev)

	if ev.Type == EventVerified {
		return m.verificationObserved(ctx, email), nil
	}
	return m.signIn(ctx, email, ev), nil
}

// Restore re-establishes the session for the remembered email, if any.
func (m *Machine) Restore(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email, ok, err := localstore.LastEmail(ctx, m.store)
	if err != nil {
		return Result{State: m.current()}, fmt.Errorf("read last email: %w", err)
	}
	if !ok || email == "" {
		return Result{State: m.current()}, nil
	}

	m.email = email
	m.enter(StateVerified)
	if device, pending, _ := localstore.PendingVerification(ctx, m.store, email); pending {
		m.enter(StateUnverified)
		if m.device == "" {
			m.device = device
		}
	}
	res := Result{Email: email}
	if _, err := m.session.SignIn(ctx, email); err != nil {
		m.offline(ctx, email, err)
		res.Offline = true
	}
	res.State = m.current()
	return res, nil
}

// RequestBonusGrant asks the ledger to apply the signup bonus. Refusals are
// outcomes, not errors.
func (m *Machine) RequestBonusGrant(ctx context.Context, email, device string) (ledger.GrantOutcome, error) {
	outcome, err := m.ledger.GrantBonus(ctx, email, device)
	if err != nil {
		m.logger.Warn("bonus grant request failed", slog.String("email", email), slog.Any("error", err))
		return ledger.GrantOutcome{}, err
	}
	m.logger.Info("bonus grant resolved",
		slog.String("email", email),
		slog.String("status", outcome.Status.String()),
		slog.String("reason", outcome.Reason),
	)
	return outcome, nil
}

func (m *Machine) signIn(ctx context.Context, email string, ev Event) Result {
	m.enter(StateAuthenticating)
	m.email = email
	if err := localstore.RememberEmail(ctx, m.store, email); err != nil {
		m.logger.Warn("remember email failed", slog.String("email", email), slog.Any("error", err))
	}

	verified := ev.verified()
	res := Result{Email: email}

	var cause error
	created, err := m.ledger.CreateIdentity(ctx, ledger.CreateIdentityInput{
		Email:             email,
		DisplayName:       ev.DisplayName,
		WantsBonus:        ev.NewAccount && verified,
		EmailVerified:     verified,
		DeviceFingerprint: m.device,
	})
	switch {
	case err != nil:
		cause = err
		// a verified new account keeps a marker so the grant is requested later
		if !verified || ev.NewAccount {
			m.markPending(ctx, email)
		}
		m.enter(StateUnverified)
		if verified {
			m.enter(StateVerified)
		}
		res.Offline = true
	case created.BonusGranted:
		m.clearPending(ctx, email)
		m.enter(StateBonusResolved)
		m.notify(ctx, notification.Message{
			Kind:        notification.KindSignupBonus,
			Level:       notification.LevelSuccess,
			Destination: email,
			Body:        fmt.Sprintf("Welcome! %s signup bonus added to your wallet.", created.Balance),
		})
	case !verified:
		m.markPending(ctx, email)
		m.enter(StateUnverified)
		if ev.NewAccount || created.NeedsVerification {
			m.notify(ctx, notification.Message{
				Kind:        notification.KindVerifyEmail,
				Level:       notification.LevelInfo,
				Destination: email,
				Body:        "Verify your email to receive your signup bonus.",
			})
		}
	default:
		m.enter(StateVerified)
		if pending, _ := localstore.HasPendingVerification(ctx, m.store, email); pending {
			res.Grant = m.resolvePending(ctx, email)
		}
	}

	if _, err := m.session.SignIn(ctx, email); err != nil {
		res.Offline = true
		cause = errors.Join(cause, err)
	}
	if res.Offline {
		m.offline(ctx, email, cause)
	}
	res.State = m.current()
	return res
}

func (m *Machine) verificationObserved(ctx context.Context, email string) Result {
	res := Result{Email: email}
	if email == m.email && m.current() == StateUnverified {
		m.enter(StateVerified)
	}

	pending, err := localstore.HasPendingVerification(ctx, m.store, email)
	if err != nil {
		m.logger.Warn("read verification marker failed", slog.String("email", email), slog.Any("error", err))
	}
	if pending {
		res.Grant = m.resolvePending(ctx, email)
	}
	res.State = m.current()
	return res
}

// resolvePending issues the grant for a marked email. The marker survives a
// transport failure so a later observation retries.
func (m *Machine) resolvePending(ctx context.Context, email string) *ledger.GrantOutcome {
	outcome, err := m.RequestBonusGrant(ctx, email, m.device)
	if err != nil {
		return nil
	}
	if outcome.Status == ledger.GrantRefused && outcome.Reason == ledger.ReasonUnknownIdentity {
		// the identity was never created; keep the marker until it is
		return &outcome
	}
	m.clearPending(ctx, email)
	if email == m.email {
		m.enter(StateBonusResolved)
	}

	if outcome.Granted() {
		m.session.ApplyBalance(email, outcome.NewBalance)
		m.notify(ctx, notification.Message{
			Kind:        notification.KindSignupBonus,
			Level:       notification.LevelSuccess,
			Destination: email,
			Body:        fmt.Sprintf("Email verified! Your balance is now %s.", outcome.NewBalance),
		})
		return &outcome
	}
	m.notify(ctx, notification.Message{
		Kind:        notification.KindBonusInfo,
		Level:       notification.LevelInfo,
		Destination: email,
		Body:        "The signup bonus has already been claimed for this account or device.",
		Data:        map[string]string{"status": outcome.Status.String(), "reason": outcome.Reason},
	})
	return &outcome
}

func (m *Machine) signOut(ctx context.Context) Result {
	if err := localstore.ForgetEmail(ctx, m.store); err != nil {
		m.logger.Warn("forget email failed", slog.Any("error", err))
	}
	m.session.Clear(ctx)
	m.enter(StateAnonymous)
	m.email = ""
	return Result{State: m.current()}
}

// resolveDevice picks the fingerprint sent with bonus requests. Browser
// signals on the event win; otherwise the device already known to this
// machine, then the one recorded with the email's marker, then the degraded
// signals taken from the transport. The result is never empty.
func (m *Machine) resolveDevice(ctx context.Context, email string, ev Event) {
	switch {
	case !ev.Device.Empty():
		m.device = fingerprint.Generate(ev.Device)
		return
	case m.device != "":
		return
	}
	device, pending, err := localstore.PendingVerification(ctx, m.store, email)
	if err != nil {
		m.logger.Warn("read verification marker failed", slog.String("email", email), slog.Any("error", err))
	}
	if pending && device != "" {
		m.device = device
		return
	}
	m.device = fingerprint.Generate(ev.Transport)
}

func (m *Machine) markPending(ctx context.Context, email string) {
	if err := localstore.MarkPendingVerification(ctx, m.store, email, m.device); err != nil {
		m.logger.Error("set verification marker failed", slog.String("email", email), slog.Any("error", err))
	}
}

func (m *Machine) clearPending(ctx context.Context, email string) {
	if err := localstore.ClearPendingVerification(ctx, m.store, email); err != nil {
		m.logger.Error("clear verification marker failed", slog.String("email", email), slog.Any("error", err))
	}
}

func (m *Machine) offline(ctx context.Context, email string, cause error) {
	attrs := []any{slog.String("email", email)}
	if cause != nil {
		attrs = append(attrs, slog.Any("error", cause))
	}
	m.logger.Warn("ledger unreachable, continuing offline", attrs...)
	m.notify(ctx, notification.Message{
		Kind:        notification.KindOffline,
		Level:       notification.LevelWarning,
		Destination: email,
		Body:        "Could not reach the store. Showing your last known balance.",
	})
}

func (m *Machine) notify(ctx context.Context, msg notification.Message) {
	if err := m.notifier.Send(ctx, msg); err != nil {
		m.logger.Warn("notification delivery failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

func normalize(email string) (string, error) {
	email = ledger.NormalizeEmail(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %s", ErrInvalidEmail, email)
	}
	return email, nil
}

// IsInputError reports whether err came from a malformed event.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidEmail) || errors.Is(err, ErrUnknownEvent)
}
