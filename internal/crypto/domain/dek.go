package domain

// Dek is a Data Encryption Key resolved for a particular scope. The Key
// field is the plaintext 32-byte key material; it lives in memory only and
// must never be written to the sidecar. Callers that are done with a Dek
// should call Zero(dek.Key) (the keyring does this for every cached entry
// on Close/teardown).
type Dek struct {
	Scope     Scope
	Key       []byte
	Algorithm Algorithm
}

// WrappedDek is the on-disk form of a Dek: the DEK ciphertext produced by
// AEAD-encrypting the 32-byte key under a KEK, the nonce used for that
// encryption, and the id of the KEK so it can be resolved again later.
//
// Invariant: len(Ciphertext) == 32+16 (plaintext DEK plus AEAD tag).
type WrappedDek struct {
	Scope      Scope
	Ciphertext []byte
	Nonce      []byte
	KekID      string
	Algorithm  Algorithm
}
