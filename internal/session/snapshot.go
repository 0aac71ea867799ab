package session

import (
	"time"

	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/money"
)

// Snapshot is an immutable view of the signed-in identity. Transitions
// always build a new Snapshot; callers never mutate one in place.
type Snapshot struct {
	Email       string           `json:"email"`
	Balance     money.Cents      `json:"walletBalance"`
	Purchases   []ledger.License `json:"purchases"`
	RefreshedAt time.Time        `json:"refreshedAt"`
}

// SignedIn reports whether the snapshot belongs to an identity.
func (s Snapshot) SignedIn() bool {
	return s.Email != ""
}

// LatestLicense returns the most recent license held for videoID.
func (s Snapshot) LatestLicense(videoID string) (ledger.License, bool) {
	return LatestLicense(s.Purchases, videoID)
}

// LatestLicense scans licenses for the most recent one matching videoID.
func LatestLicense(licenses []ledger.License, videoID string) (ledger.License, bool) {
	var (
		found  ledger.License
		exists bool
	)
	for _, l := range licenses {
		if l.VideoID != videoID {
			continue
		}
		if !exists || l.Timestamp.After(found.Timestamp) {
			found, exists = l, true
		}
	}
	return found, exists
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Purchases != nil {
		out.Purchases = append([]ledger.License(nil), s.Purchases...)
	}
	return out
}
