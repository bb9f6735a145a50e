// Package kms provides the Key Encryption Key (KEK) provider abstraction.
//
// A Provider is the abstract source of the KEK that wraps every Data
// Encryption Key in the keyring. Two concrete implementations are supplied:
// DeviceProvider (a 32-byte file on disk or an Argon2id-derived passphrase
// key) and CloudProvider (a remote key surfaced through gocloud.dev/secrets).
// Both cache the KEK after first retrieval; callers may invoke GetKEK and
// GetKEKByID concurrently from multiple goroutines.
package kms

import (
	"context"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
)

// Provider is the abstract source of Key Encryption Keys.
//
// Implementations must be safe for concurrent use and must memoize the KEK
// material after the first successful retrieval: repeated calls should not
// re-read a file, re-derive a passphrase key, or re-invoke a remote KMS.
// Every call returns a fresh copy of that memoized material: callers (the
// envelope wrapper) own the returned slice and are expected to zero it once
// done, so a Provider must never hand back a reference to its own cached
// bytes.
type Provider interface {
	// GetKEK returns the current KEK: its id and 32-byte key material.
	// This is the KEK new DEKs are wrapped under.
	GetKEK(ctx context.Context) (kekID string, key []byte, err error)

	// GetKEKByID resolves a KEK previously referenced by a WrappedDek's
	// KekID. Returns cryptoDomain.ErrKekNotFound if kekID does not match
	// any KEK this provider can produce.
	GetKEKByID(ctx context.Context, kekID string) (key []byte, err error)
}

func validateKeyLength(key []byte) error {
	if len(key) != 32 {
		return cryptoDomain.ErrInvalidKeySize
	}
	return nil
}

// copyKey returns a fresh copy of a cached KEK, so the caller can zero it
// without disturbing the provider's own memoized copy.
func copyKey(key []byte) []byte {
	out := make([]byte, len(key))
	copy(out, key)
	return out
}
