package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stockflow/storefront/internal/notification"
)

// DefaultCountdown is how long a repeat purchase waits before proceeding.
const DefaultCountdown = 10 * time.Second

// Confirmer decides whether a repeat purchase goes ahead. It returns true to
// proceed. An error is treated as a cancel.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) (bool, error) {
	return f(ctx, p)
}

// AlwaysProceed confirms every prompt immediately.
var AlwaysProceed = ConfirmFunc(func(context.Context, Prompt) (bool, error) { return true, nil })

// Pending is a confirmation waiting for its countdown.
type Pending struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	VideoID  string    `json:"videoId"`
	Title    string    `json:"title"`
	Deadline time.Time `json:"deadline"`
}

type waiting struct {
	info   Pending
	cancel chan struct{}
	once   sync.Once
}

// CountdownConfirmer proceeds when the countdown elapses unless Cancel is
// called first.
type CountdownConfirmer struct {
	countdown time.Duration
	notifier  notification.Notifier
	logger    *slog.Logger
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	pending map[string]*waiting
}

// NewCountdownConfirmer builds a confirmer. A non-positive countdown falls
// back to DefaultCountdown.
func NewCountdownConfirmer(countdown time.Duration, notifier notification.Notifier, logger *slog.Logger) *CountdownConfirmer {
	if countdown <= 0 {
		countdown = DefaultCountdown
	}
	if notifier == nil {
		notifier = notification.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CountdownConfirmer{
		countdown: countdown,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		after:     time.After,
		pending:   make(map[string]*waiting),
	}
}

// Countdown returns the configured wait.
func (c *CountdownConfirmer) Countdown() time.Duration {
	return c.countdown
}

// Confirm registers the prompt, announces it, and waits.
func (c *CountdownConfirmer) Confirm(ctx context.Context, p Prompt) (bool, error) {
	w := &waiting{
		info: Pending{
			ID:       p.ID,
			Email:    p.Email,
			VideoID:  p.Intent.VideoID,
			Title:    p.Intent.Title,
			Deadline: c.now().Add(c.countdown).UTC(),
		},
		cancel: make(chan struct{}),
	}
	c.mu.Lock()
	c.pending[p.ID] = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, p.ID)
		c.mu.Unlock()
	}()

	msg := notification.Message{
		Kind:        notification.KindDuplicatePurchase,
		Level:       notification.LevelWarning,
		Destination: p.Email,
		Body: fmt.Sprintf("You already purchased %q on %s. Continuing in %s unless you cancel.",
			p.Intent.Title, p.Prior.Timestamp.Format("2006-01-02"), c.countdown),
		Data: map[string]string{"confirmationId": p.ID, "videoId": p.Intent.VideoID},
	}
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.logger.Warn("notification delivery failed", slog.String("kind", msg.Kind), slog.String("confirmation_id", p.ID), slog.Any("error", err))
	}

	select {
	case <-c.after(c.countdown):
		return true, nil
	case <-w.cancel:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Cancel aborts a waiting confirmation. It reports whether id was pending.
func (c *CountdownConfirmer) Cancel(id string) bool {
	c.mu.Lock()
	w, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	w.once.Do(func() { close(w.cancel) })
	return true
}

// Pending lists confirmations still counting down, oldest deadline first.
func (c *CountdownConfirmer) Pending() []Pending {
	c.mu.Lock()
	out := make([]Pending, 0, len(c.pending))
	for _, w := range c.pending {
		out = append(out, w.info)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}
