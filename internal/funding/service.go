// Package funding sends the user to the external checkout to add funds and
// reconciles the session when they return.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/money"
	"github.com/stockflow/storefront/internal/notification"
	"github.com/stockflow/storefront/internal/session"
)

var (
	// ErrAuthRequired is returned when no identity is signed in.
	ErrAuthRequired = errors.New("sign in required")
	// ErrInvalidAmount is returned for amounts outside the top-up menu.
	ErrInvalidAmount = errors.New("amount not offered")
	// ErrCheckoutFailed is returned when the ledger declines to open a checkout.
	ErrCheckoutFailed = errors.New("checkout could not be created")
	// ErrUnknownOutcome is returned for unrecognised checkout return states.
	ErrUnknownOutcome = errors.New("unknown checkout outcome")
)

// Checkout return outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeCanceled = "canceled"
)

// DefaultMenu lists the offered top-up amounts.
var DefaultMenu = []money.Cents{money.FromUnits(10), money.FromUnits(20), money.FromUnits(30)}

// Service coordinates wallet top-ups through the ledger's checkout session.
type Service struct {
	ledger   ledger.Ledger
	session  *session.Cache
	notifier notification.Notifier
	logger   *slog.Logger
	menu     []money.Cents
	siteURL  string
}

// NewService prepares a funding service. An empty menu falls back to
// DefaultMenu.
func NewService(l ledger.Ledger, cache *session.Cache, notifier notification.Notifier, logger *slog.Logger, menu []money.Cents, siteURL string) *Service {
	if len(menu) == 0 {
		menu = DefaultMenu
	}
	if notifier == nil {
		notifier = notification.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: l, session: cache, notifier: notifier, logger: logger, menu: slices.Clone(menu), siteURL: siteURL}
}

// Menu returns the offered amounts.
func (s *Service) Menu() []money.Cents {
	return slices.Clone(s.menu)
}

// TopUp opens a checkout session for amount and returns the redirect URL.
func (s *Service) TopUp(ctx context.Context, amount money.Cents) (string, error) {
	email := s.session.Email()
	if email == "" {
		return "", ErrAuthRequired
	}
	if !slices.Contains(s.menu, amount) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	successURL, cancelURL := s.returnURLs()
	res, err := s.ledger.CreateCheckoutSession(ctx, ledger.CheckoutInput{
		Email:      email,
		Amount:     amount,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		s.logger.Warn("create checkout failed", slog.String("email", email), slog.Any("error", err))
		return "", fmt.Errorf("create checkout: %w", err)
	}
	if !res.Success || res.RedirectURL == "" {
		return "", fmt.Errorf("%w: %s", ErrCheckoutFailed, res.Message)
	}

	s.notify(ctx, notification.Message{
		Kind:        notification.KindTopUpRedirect,
		Level:       notification.LevelInfo,
		Destination: email,
		Body:        "Redirecting to checkout...",
		Data:        map[string]string{"redirectUrl": res.RedirectURL, "amount": amount.String()},
	})
	return res.RedirectURL, nil
}

// Reconcile handles the return from checkout. A successful payment refreshes
// the balance from the ledger; a cancelled one only informs the user.
func (s *Service) Reconcile(ctx context.Context, outcome string) (money.Cents, error) {
	email := s.session.Email()
	switch outcome {
	case OutcomeSuccess:
		if email == "" {
			return 0, ErrAuthRequired
		}
		balance, err := s.session.RefreshBalance(ctx)
		if err != nil {
			return s.session.Current().Balance, fmt.Errorf("refresh balance: %w", err)
		}
		s.notify(ctx, notification.Message{
			Kind:        notification.KindPaymentSucceeded,
			Level:       notification.LevelSuccess,
			Destination: email,
			Body:        "Payment successful! Wallet updated.",
		})
		return balance, nil
	case OutcomeCanceled:
		s.notify(ctx, notification.Message{
			Kind:        notification.KindPaymentCanceled,
			Level:       notification.LevelError,
			Destination: email,
			Body:        "Payment canceled",
		})
		return s.session.Current().Balance, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}
}

func (s *Service) returnURLs() (string, string) {
	if s.siteURL == "" {
		return "", ""
	}
	base, err := url.Parse(s.siteURL)
	if err != nil {
		return "", ""
	}
	success, cancel := *base, *base
	q := base.Query()
	q.Set("success", "true")
	success.RawQuery = q.Encode()
	q = base.Query()
	q.Set("canceled", "true")
	cancel.RawQuery = q.Encode()
	return success.String(), cancel.String()
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification delivery failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
