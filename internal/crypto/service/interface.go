// Package service provides cryptographic service interfaces and implementations.
//
// This package implements the service layer for authenticated encryption,
// providing concrete implementations of AEAD algorithms used both to wrap
// Data Encryption Keys (envelope encryption) and, via explicit-nonce
// primitives, to encrypt database pages.
//
// # Services Overview
//
// AEADManagerService: Factory for creating AEAD cipher instances.
// Supports AES-256-GCM and ChaCha20-Poly1305.
//
// AESGCMCipher: Implements AEAD using AES-256-GCM with hardware acceleration support.
//
// ChaCha20Poly1305Cipher: Implements AEAD using ChaCha20-Poly1305 for platforms
// without AES hardware acceleration.
//
// # Algorithm Selection
//
//   - Use AESGCM on modern CPUs with AES-NI hardware acceleration
//   - Use ChaCha20 on mobile devices or systems without AES-NI
//   - Both provide equivalent 256-bit security when used correctly
//
// # Thread Safety
//
// All service implementations are stateless and thread-safe. Multiple goroutines
// can safely use the same service instances for concurrent operations.
package service

import (
	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
)

// AEAD defines the interface for Authenticated Encryption with Associated Data.
//
// Implementations ensure that any modification to the ciphertext or AAD will
// be detected during decryption.
type AEAD interface {
	// Encrypt encrypts plaintext with optional additional authenticated data (AAD).
	// A unique random nonce is generated for each call and returned alongside
	// the ciphertext; it must be stored for later decryption.
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)

	// Decrypt decrypts ciphertext using the provided nonce and AAD, verifying
	// the authentication tag before returning plaintext.
	Decrypt(ciphertext, nonce, aad []byte) ([]byte, error)

	// NonceSize returns the nonce length this cipher expects.
	NonceSize() int
}

// ExplicitNonceAEAD is implemented by ciphers that also support sealing and
// opening under a caller-supplied nonce. The page codec needs this: its
// nonce is derived deterministically from the page number (spec requirement
// for idempotent page writes), not generated randomly per call.
type ExplicitNonceAEAD interface {
	AEAD

	// SealWithNonce behaves like Encrypt but uses the caller-supplied nonce
	// instead of generating a random one.
	SealWithNonce(nonce, plaintext, aad []byte) (ciphertext []byte)

	// OpenWithNonce behaves like Decrypt but uses the caller-supplied nonce.
	OpenWithNonce(nonce, ciphertext, aad []byte) (plaintext []byte, err error)
}

// AEADManager defines the interface for creating AEAD cipher instances.
//
// Usage pattern:
//  1. Create an AEADManager instance
//  2. Call CreateCipher with a 32-byte key and desired algorithm
//  3. Use the returned AEAD cipher to encrypt/decrypt data
type AEADManager interface {
	// CreateCipher creates an AEAD cipher instance for the specified algorithm.
	// The key must be exactly 32 bytes (256 bits).
	CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error)
}
