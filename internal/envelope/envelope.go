// Package envelope implements AEAD wrapping of Data Encryption Keys under a
// Key Encryption Key sourced from a kms.Provider.
//
// WrapDek is used the first time a scope's DEK is generated; UnwrapDek is
// used to recover a DEK previously persisted in the keyring sidecar. Both
// operations run under AES-256-GCM, matching the algorithm mandated for
// page encryption so a single AEADManager instance covers both concerns.
package envelope

import (
	"context"
	"crypto/rand"
	"fmt"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
	cryptoService "github.com/evfsdb/evfs/internal/crypto/service"
	"github.com/evfsdb/evfs/internal/kms"
)

const nonceSize = 12

// Wrapper wraps and unwraps Deks under a KEK obtained from a kms.Provider.
type Wrapper struct {
	aeadManager cryptoService.AEADManager
	provider    kms.Provider
}

// NewWrapper constructs a Wrapper from an AEAD cipher factory and a KEK
// provider.
func NewWrapper(aeadManager cryptoService.AEADManager, provider kms.Provider) *Wrapper {
	return &Wrapper{aeadManager: aeadManager, provider: provider}
}

// WrapDek encrypts dek.Key under the provider's current KEK, returning the
// persisted form. The DEK itself is not modified or consumed.
func (w *Wrapper) WrapDek(ctx context.Context, dek cryptoDomain.Dek) (cryptoDomain.WrappedDek, error) {
	kekID, kek, err := w.provider.GetKEK(ctx)
	if err != nil {
		return cryptoDomain.WrappedDek{}, fmt.Errorf("%w: %v", cryptoDomain.ErrProviderFailure, err)
	}
	defer cryptoDomain.Zero(kek)

	if len(kek) != 32 {
		return cryptoDomain.WrappedDek{}, cryptoDomain.ErrInvalidKeySize
	}
	if len(dek.Key) != 32 {
		return cryptoDomain.WrappedDek{}, cryptoDomain.ErrInvalidKeySize
	}

	cipher, err := w.aeadManager.CreateCipher(kek, cryptoDomain.AESGCM)
	if err != nil {
		return cryptoDomain.WrappedDek{}, fmt.Errorf("%w: %v", cryptoDomain.ErrCryptoFailure, err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return cryptoDomain.WrappedDek{}, fmt.Errorf("%w: generate nonce: %v", cryptoDomain.ErrCryptoFailure, err)
	}

	explicit, ok := cipher.(cryptoService.ExplicitNonceAEAD)
	if !ok {
		return cryptoDomain.WrappedDek{}, cryptoDomain.ErrUnsupportedAlgorithm
	}
	ciphertext := explicit.SealWithNonce(nonce, dek.Key, nil)

	return cryptoDomain.WrappedDek{
		Scope:      dek.Scope,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		KekID:      kekID,
		Algorithm:  cryptoDomain.AESGCM,
	}, nil
}

// UnwrapDek resolves wrapped.KekID through the provider and AEAD-decrypts
// the DEK ciphertext, verifying the recovered plaintext is exactly 32
// bytes. Tampering with ciphertext or nonce causes this to fail with
// cryptoDomain.ErrCryptoFailure; a kek_id the provider does not recognize
// fails with cryptoDomain.ErrProviderFailure.
func (w *Wrapper) UnwrapDek(ctx context.Context, wrapped cryptoDomain.WrappedDek) (cryptoDomain.Dek, error) {
	kek, err := w.provider.GetKEKByID(ctx, wrapped.KekID)
	if err != nil {
		return cryptoDomain.Dek{}, fmt.Errorf("%w: %v", cryptoDomain.ErrProviderFailure, err)
	}
	defer cryptoDomain.Zero(kek)

	if len(kek) != 32 {
		return cryptoDomain.Dek{}, cryptoDomain.ErrInvalidKeySize
	}

	cipher, err := w.aeadManager.CreateCipher(kek, wrapped.Algorithm)
	if err != nil {
		return cryptoDomain.Dek{}, fmt.Errorf("%w: %v", cryptoDomain.ErrCryptoFailure, err)
	}

	explicit, ok := cipher.(cryptoService.ExplicitNonceAEAD)
	if !ok {
		return cryptoDomain.Dek{}, cryptoDomain.ErrUnsupportedAlgorithm
	}

	plaintext, err := explicit.OpenWithNonce(wrapped.Nonce, wrapped.Ciphertext, nil)
	if err != nil {
		return cryptoDomain.Dek{}, fmt.Errorf("%w: %v", cryptoDomain.ErrCryptoFailure, err)
	}
	if len(plaintext) != 32 {
		cryptoDomain.Zero(plaintext)
		return cryptoDomain.Dek{}, fmt.Errorf("%w: unwrapped DEK must be 32 bytes, got %d",
			cryptoDomain.ErrFormatFailure, len(plaintext))
	}

	return cryptoDomain.Dek{
		Scope:     wrapped.Scope,
		Key:       plaintext,
		Algorithm: wrapped.Algorithm,
	}, nil
}
