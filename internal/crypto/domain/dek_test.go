package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDek_Zero(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0xAB
	}
	dek := Dek{Scope: DatabaseScope, Key: key, Algorithm: AESGCM}

	Zero(dek.Key)

	assert.Equal(t, make([]byte, 32), dek.Key)
}

func TestWrappedDek_Fields(t *testing.T) {
	wd := WrappedDek{
		Scope:      TableScope("users"),
		Ciphertext: make([]byte, 48),
		Nonce:      make([]byte, 12),
		KekID:      "device:file:/etc/evfs/kek",
		Algorithm:  AESGCM,
	}

	assert.Equal(t, "tbl:users", wd.Scope.String())
	assert.Len(t, wd.Ciphertext, 48)
	assert.Len(t, wd.Nonce, 12)
}
