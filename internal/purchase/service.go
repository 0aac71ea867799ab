// Package purchase runs the gated sequence that turns a buy intent into a
// license: AuthGate, LicenseGate, SoftConfirm, FundsGate, then Submitting.
// Gates run strictly in order and each reads the ledger at the moment it
// decides. The session cache only changes after the ledger confirms.
package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/notification"
	"github.com/stockflow/storefront/internal/session"
)

// Service wires the pipeline to the ledger and the session.
type Service struct {
	ledger    ledger.Ledger
	session   *session.Cache
	confirmer Confirmer
	notifier  notification.Notifier
	guard     *Guard
	logger    *slog.Logger
	newTxID   func() string
	now       func() time.Time
}

// NewService constructs a purchase pipeline.
func NewService(l ledger.Ledger, cache *session.Cache, confirmer Confirmer, notifier notification.Notifier, logger *slog.Logger) *Service {
	if confirmer == nil {
		confirmer = AlwaysProceed
	}
	if notifier == nil {
		notifier = notification.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:    l,
		session:   cache,
		confirmer: confirmer,
		notifier:  notifier,
		guard:     NewGuard(),
		logger:    logger,
		newTxID:   uuid.NewString,
		now:       time.Now,
	}
}

// run carries one pipeline invocation.
type run struct {
	email   string
	intent  Intent
	outcome Outcome
}

func (r *run) enter(s State) {
	r.outcome.State = s
	r.outcome.Trail = append(r.outcome.Trail, s)
}

// Run executes the pipeline for intent. Aborted runs return a nil error;
// failed runs return an error wrapping ledger.ErrTransport or
// ErrPurchaseFailed alongside the Failed outcome.
func (s *Service) Run(ctx context.Context, intent Intent) (Outcome, error) {
	if err := intent.validate(); err != nil {
		return Outcome{State: StateIdle}, err
	}
	release, ok := s.guard.Acquire(intent.VideoID)
	if !ok {
		return Outcome{State: StateIdle}, ErrInFlight
	}
	defer release()

	r := &run{intent: intent}
	r.enter(StateAuthGate)
	r.email = s.session.Email()
	if r.email == "" {
		return s.abort(ctx, r, ReasonAuthRequired), nil
	}

	r.enter(StateLicenseGate)
	licenses, err := s.ledger.FetchPurchases(ctx, r.email)
	if err != nil {
		return s.fail(ctx, r, fmt.Errorf("check prior licenses: %w", err))
	}
	s.session.ApplyPurchases(r.email, licenses)

	if prior, owned := session.LatestLicense(licenses, intent.VideoID); owned {
		r.outcome.PriorLicense = &prior
		r.enter(StateSoftConfirm)
		proceed, err := s.confirmer.Confirm(ctx, Prompt{
			ID:     s.newTxID(),
			Email:  r.email,
			Intent: intent,
			Prior:  prior,
		})
		if err != nil || !proceed {
			if err != nil {
				s.logger.Info("repeat purchase confirmation ended", slog.String("video_id", intent.VideoID), slog.Any("error", err))
			}
			return s.abort(ctx, r, ReasonCancelled), nil
		}
	}

	r.enter(StateFundsGate)
	id, err := s.ledger.FetchIdentity(ctx, r.email)
	if err != nil {
		return s.fail(ctx, r, fmt.Errorf("check balance: %w", err))
	}
	s.session.ApplyBalance(r.email, id.Balance)
	r.outcome.Balance = id.Balance
	if id.Balance < intent.Price {
		r.outcome.Shortfall = intent.Price - id.Balance
		return s.abort(ctx, r, ReasonInsufficientFunds), nil
	}

	r.enter(StateSubmitting)
	// once submitted the request runs to completion regardless of the caller
	res, err := s.ledger.SubmitPurchase(context.WithoutCancel(ctx), ledger.SubmitPurchaseInput{
		Email:      r.email,
		VideoID:    intent.VideoID,
		Title:      intent.Title,
		Amount:     intent.Price,
		ClientTxID: s.newTxID(),
	})
	if err != nil {
		return s.fail(ctx, r, fmt.Errorf("submit purchase: %w", err))
	}
	if !res.Success {
		r.outcome.Message = res.Message
		return s.fail(ctx, r, fmt.Errorf("%w: %s", ErrPurchaseFailed, res.Message))
	}

	return s.complete(ctx, r, res), nil
}

// Pending returns soft confirmations waiting on their countdown, if the
// configured confirmer tracks them.
func (s *Service) Pending() []Pending {
	if cc, ok := s.confirmer.(*CountdownConfirmer); ok {
		return cc.Pending()
	}
	return nil
}

// CancelConfirmation cancels a waiting soft confirmation.
func (s *Service) CancelConfirmation(id string) bool {
	if cc, ok := s.confirmer.(*CountdownConfirmer); ok {
		return cc.Cancel(id)
	}
	return false
}

// InFlight reports whether a run for videoID is in progress.
func (s *Service) InFlight(videoID string) bool {
	return s.guard.Active(videoID)
}

func (s *Service) complete(ctx context.Context, r *run, res ledger.PurchaseResult) Outcome {
	stamp := res.Timestamp
	if stamp.IsZero() {
		stamp = s.now().UTC()
	}
	license := ledger.License{
		VideoID:      r.intent.VideoID,
		Title:        r.intent.Title,
		Amount:       r.intent.Price,
		Timestamp:    stamp,
		DownloadLink: res.DownloadLink,
	}
	s.session.ApplyPurchase(r.email, res.NewBalance, license)

	r.enter(StateCompleted)
	r.outcome.License = &license
	r.outcome.Balance = res.NewBalance
	s.logger.Info("purchase completed",
		slog.String("email", r.email),
		slog.String("video_id", r.intent.VideoID),
		slog.String("amount", r.intent.Price.String()),
		slog.String("new_balance", res.NewBalance.String()),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindPurchaseCompleted,
		Level:       notification.LevelSuccess,
		Destination: r.email,
		Body:        fmt.Sprintf("Purchase successful! New balance: %s", res.NewBalance),
		Data:        map[string]string{"videoId": r.intent.VideoID, "downloadLink": license.DirectDownloadURL()},
	})
	return r.outcome
}

func (s *Service) abort(ctx context.Context, r *run, reason Reason) Outcome {
	r.enter(StateAborted)
	r.outcome.Reason = reason

	msg := notification.Message{Destination: r.email, Level: notification.LevelInfo}
	switch reason {
	case ReasonAuthRequired:
		msg.Kind = notification.KindSignInRequired
		msg.Body = "Please sign in to purchase."
	case ReasonInsufficientFunds:
		msg.Kind = notification.KindInsufficientFunds
		msg.Level = notification.LevelWarning
		msg.Body = fmt.Sprintf("Insufficient balance. You need %s more to buy %q.", r.outcome.Shortfall, r.intent.Title)
		msg.Data = map[string]string{"shortfall": r.outcome.Shortfall.String(), "videoId": r.intent.VideoID}
	default:
		s.logger.Info("purchase cancelled", slog.String("email", r.email), slog.String("video_id", r.intent.VideoID))
		return r.outcome
	}
	s.notify(ctx, msg)
	return r.outcome
}

func (s *Service) fail(ctx context.Context, r *run, err error) (Outcome, error) {
	r.enter(StateFailed)
	s.logger.Warn("purchase failed",
		slog.String("email", r.email),
		slog.String("video_id", r.intent.VideoID),
		slog.Any("error", err),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindRetry,
		Level:       notification.LevelError,
		Destination: r.email,
		Body:        "The purchase could not be completed. Please try again.",
		Data:        map[string]string{"videoId": r.intent.VideoID},
	})
	return r.outcome, err
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if err := s.notifier.Send(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Warn("notification delivery failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
