package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stockflow/storefront/internal/money"
)

func TestInMemoryLedger_BonusAppliedAtMostOncePerEmail(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if _, err := l.CreateIdentity(ctx, CreateIdentityInput{Email: "a@x.com"}); err != nil {
		t.Fatalf("create identity: %v", err)
	}

	granted := 0
	for i := 0; i < 5; i++ {
		outcome, err := l.GrantBonus(ctx, "a@x.com", fmt.Sprintf("device-%d", i))
		if err != nil {
			t.Fatalf("grant %d: %v", i, err)
		}
		if outcome.Granted() {
			granted++
		} else if outcome.Status != GrantAlreadyGranted {
			t.Fatalf("grant %d: expected already granted, got %s", i, outcome.Status)
		}
	}
	if granted != 1 {
		t.Fatalf("expected exactly one grant, got %d", granted)
	}

	id, _ := l.FetchIdentity(ctx, "A@X.com")
	if id.Balance != DefaultBonus {
		t.Fatalf("expected balance %s, got %s", DefaultBonus, id.Balance)
	}
}

func TestInMemoryLedger_ConcurrentGrants(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.CreateIdentity(ctx, CreateIdentityInput{Email: "a@x.com"})

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.GrantBonus(ctx, "a@x.com", "device-1"); err != nil {
				t.Errorf("grant failed: %v", err)
			}
		}()
	}
	wg.Wait()

	id, _ := l.FetchIdentity(ctx, "a@x.com")
	if id.Balance != DefaultBonus {
		t.Fatalf("expected bonus applied once, balance=%s", id.Balance)
	}
}

func TestInMemoryLedger_FingerprintRefusedForSecondEmail(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.CreateIdentity(ctx, CreateIdentityInput{Email: "a@x.com"})
	l.CreateIdentity(ctx, CreateIdentityInput{Email: "b@x.com"})

	first, _ := l.GrantBonus(ctx, "a@x.com", "fp-1")
	if !first.Granted() {
		t.Fatalf("expected first grant, got %s", first.Status)
	}

	second, _ := l.GrantBonus(ctx, "b@x.com", "fp-1")
	if second.Status != GrantRefused || second.Reason != ReasonDeviceAlreadyGranted {
		t.Fatalf("expected device refusal, got %+v", second)
	}

	id, _ := l.FetchIdentity(ctx, "b@x.com")
	if id.Balance != 0 {
		t.Fatalf("expected b balance 0, got %s", id.Balance)
	}
}

func TestInMemoryLedger_EmptyFingerprintIsNotExempt(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.CreateIdentity(ctx, CreateIdentityInput{Email: "a@x.com"})
	l.CreateIdentity(ctx, CreateIdentityInput{Email: "b@x.com"})

	if first, _ := l.GrantBonus(ctx, "a@x.com", ""); !first.Granted() {
		t.Fatalf("expected first grant, got %+v", first)
	}
	second, _ := l.GrantBonus(ctx, "b@x.com", " ")
	if second.Status != GrantRefused || second.Reason != ReasonDeviceAlreadyGranted {
		t.Fatalf("expected refusal for second deviceless grant, got %+v", second)
	}
}

func TestInMemoryLedger_CreateIdentityIsIdempotent(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	res, err := l.CreateIdentity(ctx, CreateIdentityInput{Email: "g@x.com", WantsBonus: true, EmailVerified: true, DeviceFingerprint: "fp"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.IsNewUser || !res.BonusGranted {
		t.Fatalf("expected new user with bonus, got %+v", res)
	}

	again, err := l.CreateIdentity(ctx, CreateIdentityInput{Email: "G@x.com", WantsBonus: true, EmailVerified: true, DeviceFingerprint: "fp"})
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if again.IsNewUser || again.BonusGranted {
		t.Fatalf("expected existing user without bonus, got %+v", again)
	}
	if again.Balance != DefaultBonus {
		t.Fatalf("expected balance unchanged, got %s", again.Balance)
	}
}

func TestInMemoryLedger_UnverifiedCreateNeedsVerification(t *testing.T) {
	l := NewInMemory()
	res, _ := l.CreateIdentity(context.Background(), CreateIdentityInput{Email: "p@x.com", WantsBonus: true})
	if res.BonusGranted || !res.NeedsVerification {
		t.Fatalf("expected bonus withheld, got %+v", res)
	}
}

func TestInMemoryLedger_PurchaseNeverNegative(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "a@x.com", money.FromUnits(10))

	amounts := []money.Cents{400, 400, 400, 200}
	balance := money.FromUnits(10)
	for i, amount := range amounts {
		res, err := l.SubmitPurchase(ctx, SubmitPurchaseInput{Email: "a@x.com", VideoID: "v1", Title: "Clip", Amount: amount})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if balance >= amount {
			if !res.Success || res.NewBalance != balance-amount {
				t.Fatalf("submit %d: expected success with %s, got %+v", i, balance-amount, res)
			}
			balance -= amount
			continue
		}
		if res.Success {
			t.Fatalf("submit %d: expected failure, got %+v", i, res)
		}
	}

	id, _ := l.FetchIdentity(ctx, "a@x.com")
	if id.Balance != balance || id.Balance < 0 {
		t.Fatalf("expected balance %s, got %s", balance, id.Balance)
	}
}

func TestInMemoryLedger_DuplicatePurchaseCreatesTwoLicenses(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "a@x.com", money.FromUnits(20))

	first, _ := l.SubmitPurchase(ctx, SubmitPurchaseInput{Email: "a@x.com", VideoID: "x", Title: "X", Amount: 500, ClientTxID: "run-1"})
	second, _ := l.SubmitPurchase(ctx, SubmitPurchaseInput{Email: "a@x.com", VideoID: "x", Title: "X", Amount: 500, ClientTxID: "run-2"})
	if !first.Success || !second.Success {
		t.Fatalf("expected both purchases to succeed: %+v %+v", first, second)
	}
	if first.DownloadLink == second.DownloadLink {
		t.Fatalf("expected distinct download links")
	}

	licenses, _ := l.FetchPurchases(ctx, "a@x.com")
	if len(licenses) != 2 {
		t.Fatalf("expected 2 licenses, got %d", len(licenses))
	}
}

func TestInMemoryLedger_ReplayedSubmissionIsNotChargedTwice(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "a@x.com", money.FromUnits(10))

	in := SubmitPurchaseInput{Email: "a@x.com", VideoID: "x", Title: "X", Amount: 300, ClientTxID: "run-1"}
	first, _ := l.SubmitPurchase(ctx, in)
	replay, _ := l.SubmitPurchase(ctx, in)
	if first.NewBalance != replay.NewBalance || first.DownloadLink != replay.DownloadLink {
		t.Fatalf("expected replay to return original result: %+v %+v", first, replay)
	}

	id, _ := l.FetchIdentity(ctx, "a@x.com")
	if id.Balance != 700 {
		t.Fatalf("expected balance 7.00, got %s", id.Balance)
	}
}

func TestInMemoryLedger_AbsentIdentity(t *testing.T) {
	l := NewInMemory()
	id, err := l.FetchIdentity(context.Background(), "nobody@x.com")
	if err != nil {
		t.Fatalf("fetch identity: %v", err)
	}
	if id.Found || id.Balance != 0 {
		t.Fatalf("expected absent zero-balance identity, got %+v", id)
	}
	licenses, err := l.FetchPurchases(context.Background(), "nobody@x.com")
	if err != nil || len(licenses) != 0 {
		t.Fatalf("expected empty purchases, got %v %v", licenses, err)
	}
}

func TestLicenseDirectDownloadURL(t *testing.T) {
	l := License{DownloadLink: "https://drive.example/uc?export=view&id=1"}
	if got := l.DirectDownloadURL(); got != "https://drive.example/uc?export=download&id=1" {
		t.Fatalf("unexpected url %s", got)
	}
}
