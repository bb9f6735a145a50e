// Package domain defines core cryptographic domain models for page-level
// envelope encryption. Implements the KEK (provider) -> DEK (wrapped,
// per-scope) -> page hierarchy with AESGCM and ChaCha20 support.
package domain

import (
	"github.com/evfsdb/evfs/internal/errors"
)

// Cryptographic operation errors, grouped by taxonomy kind (spec error model).
var (
	// ErrUnsupportedAlgorithm indicates the requested encryption algorithm is not supported.
	ErrUnsupportedAlgorithm = errors.Wrap(errors.ErrInvalidInput, "unsupported algorithm")

	// ErrInvalidKeySize indicates the cryptographic key size is invalid (must be 32 bytes).
	ErrInvalidKeySize = errors.Wrap(errors.ErrInvalidInput, "invalid key size")

	// CryptoFailure kind: AEAD authentication failed, wrong key, or tampered data.
	ErrCryptoFailure = errors.Wrap(errors.ErrInvalidInput, "crypto failure")

	// FormatFailure kind: missing marker, impossible reserve size, bad plaintext length.
	ErrFormatFailure = errors.Wrap(errors.ErrInvalidInput, "format failure")

	// ErrReserveTooSmall indicates the page reserve is smaller than tag+marker require.
	ErrReserveTooSmall = errors.Wrap(ErrFormatFailure, "reserve too small")

	// ErrMarkerMissing indicates a page has no recognition marker in its reserve.
	ErrMarkerMissing = errors.Wrap(ErrFormatFailure, "marker missing")

	// ProviderFailure kind: KEK unavailable, unknown id, wrong length.
	ErrProviderFailure = errors.Wrap(errors.ErrInvalidInput, "provider failure")

	// ErrKekNotFound indicates a KEK with the requested id is not known to the provider.
	ErrKekNotFound = errors.Wrap(errors.ErrNotFound, "kek not found")

	// PersistenceFailure kind: sidecar read/write errors.
	ErrPersistenceFailure = errors.Wrap(errors.ErrInvalidInput, "persistence failure")

	// PolicyFailure kind: storage policy violation.
	ErrPolicyFailure = errors.Wrap(errors.ErrInvalidInput, "policy failure")

	// ErrContextSealed indicates a file context's binding was changed after first use.
	ErrContextSealed = errors.Wrap(errors.ErrConflict, "file context already sealed")
)
