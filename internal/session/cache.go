// Package session owns the signed-in identity's context: a best-effort copy
// of the ledger's balance and purchase history. It is never an authorization
// boundary; gates that move money re-fetch from the ledger first.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/money"
)

// Mirror persists snapshots outside the process so a restart can render the
// last known state before the ledger answers.
type Mirror interface {
	Load(ctx context.Context, email string) (Snapshot, bool, error)
	Save(ctx context.Context, snap Snapshot) error
	Drop(ctx context.Context, email string) error
}

// Cache holds the current Snapshot. Writes that were started for one
// identity are discarded if the session switched to another in the meantime.
type Cache struct {
	mu      sync.RWMutex
	current Snapshot

	ledger ledger.Ledger
	mirror Mirror
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMirror attaches an external snapshot mirror.
func WithMirror(m Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

// WithClock overrides the refresh timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache builds an empty, signed-out cache.
func NewCache(l ledger.Ledger, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{ledger: l, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns a copy of the current snapshot.
func (c *Cache) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.clone()
}

// Email returns the signed-in email or "".
func (c *Cache) Email() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Email
}

// SignIn switches the session to email and rebuilds it from the ledger. On a
// transport failure the session is still established, seeded from the
// mirror when available, and the error is returned so the caller can report
// offline mode.
func (c *Cache) SignIn(ctx context.Context, email string) (Snapshot, error) {
	email = ledger.NormalizeEmail(email)
	c.replace(Snapshot{Email: email})
	c.Warm(ctx, email)

	id, err := c.ledger.FetchIdentity(ctx, email)
	if err != nil {
		return c.Current(), err
	}
	licenses, err := c.ledger.FetchPurchases(ctx, email)
	if err != nil {
		c.update(email, func(s Snapshot) Snapshot {
			s.Balance = id.Balance
			return s
		})
		return c.Current(), err
	}
	snap, _ := c.update(email, func(s Snapshot) Snapshot {
		return Snapshot{Email: email, Balance: id.Balance, Purchases: licenses, RefreshedAt: c.now().UTC()}
	})
	return snap, nil
}

// Warm seeds the session from the mirror if it holds a snapshot for the
// signed-in email. It reports whether anything was loaded.
func (c *Cache) Warm(ctx context.Context, email string) bool {
	if c.mirror == nil {
		return false
	}
	snap, ok, err := c.mirror.Load(ctx, ledger.NormalizeEmail(email))
	if err != nil {
		c.logger.Warn("session mirror load failed", slog.String("email", email), slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}
	_, applied := c.update(snap.Email, func(Snapshot) Snapshot { return snap })
	return applied
}

// RefreshBalance re-reads the authoritative balance for the signed-in email.
func (c *Cache) RefreshBalance(ctx context.Context) (money.Cents, error) {
	email := c.Email()
	if email == "" {
		return 0, nil
	}
	id, err := c.ledger.FetchIdentity(ctx, email)
	if err != nil {
		return 0, err
	}
	c.update(email, func(s Snapshot) Snapshot {
		s.Balance = id.Balance
		s.RefreshedAt = c.now().UTC()
		return s
	})
	return id.Balance, nil
}

// RefreshPurchases re-reads the purchase history for the signed-in email.
func (c *Cache) RefreshPurchases(ctx context.Context) ([]ledger.License, error) {
	email := c.Email()
	if email == "" {
		return nil, nil
	}
	licenses, err := c.ledger.FetchPurchases(ctx, email)
	if err != nil {
		return nil, err
	}
	c.update(email, func(s Snapshot) Snapshot {
		s.Purchases = licenses
		s.RefreshedAt = c.now().UTC()
		return s
	})
	return append([]ledger.License(nil), licenses...), nil
}

// ApplyBalance records a balance the ledger confirmed for email.
func (c *Cache) ApplyBalance(email string, balance money.Cents) bool {
	_, ok := c.update(ledger.NormalizeEmail(email), func(s Snapshot) Snapshot {
		s.Balance = balance
		return s
	})
	return ok
}

// ApplyPurchases replaces the purchase history for email with a list the
// ledger just returned.
func (c *Cache) ApplyPurchases(email string, licenses []ledger.License) bool {
	_, ok := c.update(ledger.NormalizeEmail(email), func(s Snapshot) Snapshot {
		s.Purchases = licenses
		s.RefreshedAt = c.now().UTC()
		return s
	})
	return ok
}

// ApplyPurchase records a purchase the ledger confirmed for email.
func (c *Cache) ApplyPurchase(email string, newBalance money.Cents, license ledger.License) bool {
	_, ok := c.update(ledger.NormalizeEmail(email), func(s Snapshot) Snapshot {
		purchases := make([]ledger.License, 0, len(s.Purchases)+1)
		purchases = append(purchases, s.Purchases...)
		s.Purchases = append(purchases, license)
		s.Balance = newBalance
		return s
	})
	return ok
}

// Clear signs the session out and drops its mirrored copy.
func (c *Cache) Clear(ctx context.Context) {
	email := c.Email()
	c.replace(Snapshot{})
	if c.mirror != nil && email != "" {
		if err := c.mirror.Drop(ctx, email); err != nil {
			c.logger.Warn("session mirror drop failed", slog.String("email", email), slog.Any("error", err))
		}
	}
}

func (c *Cache) replace(next Snapshot) {
	c.mu.Lock()
	c.current = next.clone()
	c.mu.Unlock()
}

// update applies fn to the current snapshot if it still belongs to email.
func (c *Cache) update(email string, fn func(Snapshot) Snapshot) (Snapshot, bool) {
	c.mu.Lock()
	if c.current.Email != email || email == "" {
		c.mu.Unlock()
		return Snapshot{}, false
	}
	next := fn(c.current.clone()).clone()
	c.current = next
	c.mu.Unlock()

	c.persist(next)
	return next.clone(), true
}

func (c *Cache) persist(snap Snapshot) {
	if c.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.mirror.Save(ctx, snap); err != nil {
		c.logger.Warn("session mirror save failed", slog.String("email", snap.Email), slog.Any("error", err))
	}
}
