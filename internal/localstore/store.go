// Package localstore holds the small amount of durable client-side state the
// storefront keeps between runs: the last signed-in email and one
// pending-verification marker per email.
package localstore

import (
	"context"
	"strings"
)

const (
	// LastEmailKey stores the email of the last signed-in identity.
	LastEmailKey = "stockflow_user_email"

	pendingVerificationPrefix = "sf_unverified_"

	// unknownDevice is the marker value when no fingerprint was known.
	unknownDevice = "true"
)

// Store is a string key/value store. Absence is reported as ok=false with a
// nil error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// PendingVerificationKey returns the marker key for an email.
func PendingVerificationKey(email string) string {
	return pendingVerificationPrefix + strings.ToLower(strings.TrimSpace(email))
}

// MarkPendingVerification records that email was seen unverified on device.
// An existing marker keeps its device when device is empty.
func MarkPendingVerification(ctx context.Context, s Store, email, device string) error {
	if device == "" {
		prior, ok, err := PendingVerification(ctx, s, email)
		if err != nil {
			return err
		}
		if ok && prior != "" {
			return nil
		}
		device = unknownDevice
	}
	return s.Set(ctx, PendingVerificationKey(email), device)
}

// PendingVerification returns the device recorded with the marker for email.
// The device is empty when none was known at marking time.
func PendingVerification(ctx context.Context, s Store, email string) (string, bool, error) {
	device, ok, err := s.Get(ctx, PendingVerificationKey(email))
	if err != nil || !ok {
		return "", false, err
	}
	if device == unknownDevice {
		device = ""
	}
	return device, true, nil
}

// HasPendingVerification reports whether a marker exists for email.
func HasPendingVerification(ctx context.Context, s Store, email string) (bool, error) {
	_, ok, err := PendingVerification(ctx, s, email)
	return ok, err
}

// ClearPendingVerification removes the marker for email. Clearing an absent
// marker is not an error.
func ClearPendingVerification(ctx context.Context, s Store, email string) error {
	return s.Delete(ctx, PendingVerificationKey(email))
}

// LastEmail returns the remembered email, if any.
func LastEmail(ctx context.Context, s Store) (string, bool, error) {
	return s.Get(ctx, LastEmailKey)
}

// RememberEmail stores email as the last signed-in identity.
func RememberEmail(ctx context.Context, s Store, email string) error {
	return s.Set(ctx, LastEmailKey, email)
}

// ForgetEmail clears the last signed-in identity.
func ForgetEmail(ctx context.Context, s Store) error {
	return s.Delete(ctx, LastEmailKey)
}
