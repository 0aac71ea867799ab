package ledger

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stockflow/storefront/internal/money"
)

// DefaultBonus is the signup incentive applied by the in-memory ledger.
var DefaultBonus = money.FromUnits(5)

type account struct {
	email        string
	displayName  string
	verified     bool
	balance      money.Cents
	bonusGranted bool
	createdAt    time.Time
	licenses     []License
}

type inMemoryLedger struct {
	mu           sync.Mutex
	bonus        money.Cents
	downloadBase string
	checkoutBase string
	accounts     map[string]*account
	devices      map[string]string
	purchases    map[string]PurchaseResult
	now          func() time.Time
}

// InMemoryOption tunes the in-memory ledger.
type InMemoryOption func(*inMemoryLedger)

// WithBonus overrides the signup bonus amount.
func WithBonus(amount money.Cents) InMemoryOption {
	return func(l *inMemoryLedger) { l.bonus = amount }
}

// WithLinks sets the base URLs used for download links and checkout redirects.
func WithLinks(downloadBase, checkoutBase string) InMemoryOption {
	return func(l *inMemoryLedger) {
		if downloadBase != "" {
			l.downloadBase = downloadBase
		}
		if checkoutBase != "" {
			l.checkoutBase = checkoutBase
		}
	}
}

// NewInMemory creates a ledger honoring the remote contract: writes are
// serialised, the bonus is applied at most once per email and once per
// device fingerprint, and purchases check-and-deduct atomically. It backs
// tests and the development profile.
func NewInMemory(opts ...InMemoryOption) Ledger {
	l := &inMemoryLedger{
		bonus:        DefaultBonus,
		downloadBase: "https://downloads.invalid/license",
		checkoutBase: "https://checkout.invalid/session",
		accounts:     make(map[string]*account),
		devices:      make(map[string]string),
		purchases:    make(map[string]PurchaseResult),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *inMemoryLedger) CreateIdentity(_ context.Context, in CreateIdentityInput) (CreateIdentityResult, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return CreateIdentityResult{}, &RejectedError{Op: OpCreateIdentity, Message: "email is required"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if acc, exists := l.accounts[email]; exists {
		return CreateIdentityResult{IsNewUser: false, Balance: acc.balance}, nil
	}

	acc := &account{
		email:       email,
		displayName: in.DisplayName,
		verified:    in.EmailVerified,
		createdAt:   l.now(),
	}
	l.accounts[email] = acc

	res := CreateIdentityResult{IsNewUser: true}
	switch {
	case in.WantsBonus && in.EmailVerified:
		res.BonusGranted = l.grantLocked(acc, in.DeviceFingerprint).Granted()
	case in.WantsBonus:
		res.NeedsVerification = true
	}
	res.Balance = acc.balance
	return res, nil
}

func (l *inMemoryLedger) GrantBonus(_ context.Context, email, deviceFingerprint string) (GrantOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[NormalizeEmail(email)]
	if !ok {
		return GrantOutcome{Status: GrantRefused, Reason: ReasonUnknownIdentity}, nil
	}
	acc.verified = true
	return l.grantLocked(acc, deviceFingerprint), nil
}

func (l *inMemoryLedger) grantLocked(acc *account, deviceFingerprint string) GrantOutcome {
	if acc.bonusGranted {
		return GrantOutcome{Status: GrantAlreadyGranted, NewBalance: acc.balance, Reason: ReasonEmailAlreadyGranted}
	}
	// a missing fingerprint is one shared device, not an exemption
	device := strings.TrimSpace(deviceFingerprint)
	if owner, used := l.devices[device]; used && owner != acc.email {
		return GrantOutcome{Status: GrantRefused, NewBalance: acc.balance, Reason: ReasonDeviceAlreadyGranted}
	}
	l.devices[device] = acc.email
	acc.bonusGranted = true
	acc.balance += l.bonus
	return GrantOutcome{Status: GrantGranted, NewBalance: acc.balance}
}

func (l *inMemoryLedger) FetchIdentity(_ context.Context, email string) (Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	email = NormalizeEmail(email)
	acc, ok := l.accounts[email]
	if !ok {
		return Identity{Email: email}, nil
	}
	return Identity{Found: true, Email: acc.email, Balance: acc.balance}, nil
}

func (l *inMemoryLedger) FetchPurchases(_ context.Context, email string) ([]License, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[NormalizeEmail(email)]
	if !ok {
		return []License{}, nil
	}
	out := make([]License, len(acc.licenses))
	copy(out, acc.licenses)
	return out, nil
}

func (l *inMemoryLedger) SubmitPurchase(_ context.Context, in SubmitPurchaseInput) (PurchaseResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	email := NormalizeEmail(in.Email)
	txKey := ""
	if in.ClientTxID != "" {
		txKey = email + ":" + in.ClientTxID
		if res, exists := l.purchases[txKey]; exists {
			return res, nil
		}
	}

	acc, ok := l.accounts[email]
	if !ok {
		return PurchaseResult{Success: false, Message: "Account not found"}, nil
	}
	if in.Amount <= 0 {
		return PurchaseResult{Success: false, NewBalance: acc.balance, Message: "Amount must be positive"}, nil
	}
	if acc.balance < in.Amount {
		return PurchaseResult{Success: false, NewBalance: acc.balance, Message: "Insufficient funds"}, nil
	}

	acc.balance -= in.Amount
	license := License{
		VideoID:      in.VideoID,
		Title:        in.Title,
		Amount:       in.Amount,
		Timestamp:    l.now(),
		DownloadLink: fmt.Sprintf("%s/%s?license=%s", l.downloadBase, url.PathEscape(in.VideoID), uuid.NewString()),
	}
	acc.licenses = append(acc.licenses, license)

	res := PurchaseResult{
		Success:      true,
		NewBalance:   acc.balance,
		DownloadLink: license.DownloadLink,
		Timestamp:    license.Timestamp,
	}
	if txKey != "" {
		l.purchases[txKey] = res
	}
	return res, nil
}

func (l *inMemoryLedger) CreateCheckoutSession(_ context.Context, in CheckoutInput) (CheckoutResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[NormalizeEmail(in.Email)]; !ok {
		return CheckoutResult{Success: false, Message: "Account not found"}, nil
	}
	if in.Amount <= 0 {
		return CheckoutResult{Success: false, Message: "Amount must be positive"}, nil
	}
	q := url.Values{}
	q.Set("session", uuid.NewString())
	q.Set("amount", in.Amount.String())
	if in.SuccessURL != "" {
		q.Set("success_url", in.SuccessURL)
	}
	if in.CancelURL != "" {
		q.Set("cancel_url", in.CancelURL)
	}
	return CheckoutResult{Success: true, RedirectURL: l.checkoutBase + "?" + q.Encode()}, nil
}
