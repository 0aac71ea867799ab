package funding

import "github.com/stockflow/storefront/internal/money"

// TopUpRequest asks for a checkout session for one menu amount.
type TopUpRequest struct {
	Amount money.Cents `json:"amount"`
}

// TopUpResponse carries the hosted checkout redirect.
type TopUpResponse struct {
	RedirectURL string      `json:"redirectUrl"`
	Amount      money.Cents `json:"amount"`
}

// ReconcileRequest reports how the user came back from checkout.
type ReconcileRequest struct {
	Outcome string `json:"outcome"`
}

// ReconcileResponse returns the balance after reconciliation.
type ReconcileResponse struct {
	Outcome       string      `json:"outcome"`
	WalletBalance money.Cents `json:"walletBalance"`
}
