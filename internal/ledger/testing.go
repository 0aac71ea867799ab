package ledger

import (
	"time"

	"github.com/stockflow/storefront/internal/money"
)

// SeedBalance is a test helper that sets the balance of an identity in the
// in-memory ledger, creating the identity if needed.
func SeedBalance(l Ledger, email string, amount money.Cents) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	email = NormalizeEmail(email)
	acc, exists := mem.accounts[email]
	if !exists {
		acc = &account{email: email, verified: true, createdAt: mem.now()}
		mem.accounts[email] = acc
	}
	acc.balance = amount
}

// CreditTopUp simulates a settled checkout on the in-memory ledger.
func CreditTopUp(l Ledger, email string, amount money.Cents) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if acc, exists := mem.accounts[NormalizeEmail(email)]; exists {
		acc.balance += amount
	}
}

// SetClock pins the in-memory ledger's clock.
func SetClock(l Ledger, now func() time.Time) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		mem.now = now
		mem.mu.Unlock()
	}
}
