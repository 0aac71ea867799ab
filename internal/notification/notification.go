package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Kinds of user-facing notices.
const (
	KindSignupBonus       = "signup_bonus"
	KindBonusInfo         = "bonus_info"
	KindVerifyEmail       = "verify_email"
	KindOffline           = "offline"
	KindSignInRequired    = "sign_in_required"
	KindDuplicatePurchase = "duplicate_purchase"
	KindPurchaseCompleted = "purchase_completed"
	KindInsufficientFunds = "insufficient_funds"
	KindRetry             = "retry"
	KindTopUpRedirect     = "topup_redirect"
	KindPaymentSucceeded  = "payment_succeeded"
	KindPaymentCanceled   = "payment_canceled"
)

// Level is the presentation severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message describes a notification payload.
type Message struct {
	Kind        string            `json:"kind"`
	Level       Level             `json:"level"`
	Destination string            `json:"destination,omitempty"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("level", string(message.Level)),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}

type multi []Notifier

// Multi fans a message out to every notifier. All notifiers are attempted;
// their errors are joined.
func Multi(notifiers ...Notifier) Notifier {
	out := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multi) Send(ctx context.Context, message Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every message.
type Discard struct{}

func (Discard) Send(context.Context, Message) error { return nil }
