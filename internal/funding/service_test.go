package funding

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/logging"
	"github.com/stockflow/storefront/internal/money"
	"github.com/stockflow/storefront/internal/notification"
	"github.com/stockflow/storefront/internal/session"
)

type checkoutRecorder struct {
	ledger.Ledger
	last ledger.CheckoutInput
	err  error
}

func (r *checkoutRecorder) CreateCheckoutSession(ctx context.Context, in ledger.CheckoutInput) (ledger.CheckoutResult, error) {
	r.last = in
	if r.err != nil {
		return ledger.CheckoutResult{}, r.err
	}
	return r.Ledger.CreateCheckoutSession(ctx, in)
}

func setup(t *testing.T) (*Service, *checkoutRecorder, ledger.Ledger, *session.Cache, *notification.Feed) {
	t.Helper()
	base := ledger.NewInMemory()
	rec := &checkoutRecorder{Ledger: base}
	cache := session.NewCache(base, logging.Discard())
	feed := notification.NewFeed(10)
	svc := NewService(rec, cache, feed, logging.Discard(), nil, "https://shop.example/store")
	return svc, rec, base, cache, feed
}

func TestTopUpRequiresSignIn(t *testing.T) {
	svc, rec, _, _, _ := setup(t)
	if _, err := svc.TopUp(context.Background(), money.FromUnits(10)); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if rec.last.Email != "" {
		t.Fatal("expected no checkout request")
	}
}

func TestTopUpRejectsOffMenuAmount(t *testing.T) {
	svc, _, base, cache, _ := setup(t)
	ledger.SeedBalance(base, "a@x.com", 0)
	cache.SignIn(context.Background(), "a@x.com")

	if _, err := svc.TopUp(context.Background(), money.FromUnits(15)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestTopUpPassesReturnURLs(t *testing.T) {
	svc, rec, base, cache, feed := setup(t)
	ledger.SeedBalance(base, "a@x.com", 0)
	cache.SignIn(context.Background(), "a@x.com")

	redirect, err := svc.TopUp(context.Background(), money.FromUnits(20))
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if redirect == "" {
		t.Fatal("expected redirect url")
	}
	success, err := url.Parse(rec.last.SuccessURL)
	if err != nil || success.Query().Get("success") != "true" || success.Path != "/store" {
		t.Fatalf("unexpected success url %q", rec.last.SuccessURL)
	}
	cancel, err := url.Parse(rec.last.CancelURL)
	if err != nil || cancel.Query().Get("canceled") != "true" {
		t.Fatalf("unexpected cancel url %q", rec.last.CancelURL)
	}
	if rec.last.Amount != money.FromUnits(20) {
		t.Fatalf("unexpected amount %s", rec.last.Amount)
	}
	if n := feed.Recent(1); len(n) != 1 || n[0].Kind != notification.KindTopUpRedirect {
		t.Fatalf("expected redirect notice, got %+v", n)
	}
}

func TestTopUpSurfacesTransportError(t *testing.T) {
	svc, rec, base, cache, _ := setup(t)
	ledger.SeedBalance(base, "a@x.com", 0)
	cache.SignIn(context.Background(), "a@x.com")
	rec.err = &ledger.TransportError{Op: ledger.OpCreateCheckoutSession, Err: errors.New("timeout")}

	if _, err := svc.TopUp(context.Background(), money.FromUnits(10)); !errors.Is(err, ledger.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestReconcile(t *testing.T) {
	svc, _, base, cache, feed := setup(t)
	ctx := context.Background()
	ledger.SeedBalance(base, "a@x.com", 200)
	cache.SignIn(ctx, "a@x.com")
	ledger.CreditTopUp(base, "a@x.com", money.FromUnits(10))

	balance, err := svc.Reconcile(ctx, OutcomeSuccess)
	if err != nil || balance != 1200 {
		t.Fatalf("expected refreshed balance 12.00, got %s %v", balance, err)
	}
	if cache.Current().Balance != 1200 {
		t.Fatalf("expected cache refreshed, got %s", cache.Current().Balance)
	}

	if _, err := svc.Reconcile(ctx, OutcomeCanceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := feed.Recent(1); len(n) != 1 || n[0].Kind != notification.KindPaymentCanceled {
		t.Fatalf("expected canceled notice, got %+v", n)
	}

	if _, err := svc.Reconcile(ctx, "maybe"); !errors.Is(err, ErrUnknownOutcome) {
		t.Fatalf("expected unknown outcome, got %v", err)
	}
}
