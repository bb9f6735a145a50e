package kms

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
)

// writeWrappedKEKFile opens a real local-secrets keeper at uri, encrypts a
// fresh 32-byte KEK under it, and writes the ciphertext to a file. It
// returns the plaintext KEK for later comparison.
func writeWrappedKEKFile(t *testing.T, uri string) ([]byte, string) {
	t.Helper()
	ctx := context.Background()

	opener := NewKeeperOpener()
	keeper, err := opener.OpenKeeper(ctx, uri)
	require.NoError(t, err)
	defer func() { _ = keeper.Close() }()

	encryptKeeper, ok := keeper.(interface {
		Encrypt(context.Context, []byte) ([]byte, error)
	})
	require.True(t, ok, "local secrets keeper must support Encrypt for test setup")

	kek := make([]byte, 32)
	_, err = rand.Read(kek)
	require.NoError(t, err)

	ciphertext, err := encryptKeeper.Encrypt(ctx, kek)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wrapped.kek")
	require.NoError(t, os.WriteFile(path, ciphertext, 0600))

	return kek, path
}

func TestCloudProvider_GetKEK(t *testing.T) {
	ctx := context.Background()

	t.Run("decrypts and caches the remote KEK", func(t *testing.T) {
		uri := generateLocalSecretsURI(t)
		wantKEK, wrappedPath := writeWrappedKEKFile(t, uri)

		provider := NewCloudProvider(NewKeeperOpener(), uri, wrappedPath)

		kekID, key, err := provider.GetKEK(ctx)
		require.NoError(t, err)
		assert.Equal(t, uri, kekID)
		assert.Equal(t, wantKEK, key)

		// Second call must hit the cache, not re-read the file.
		require.NoError(t, os.Remove(wrappedPath))
		_, key2, err := provider.GetKEK(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantKEK, key2)
	})

	t.Run("zeroing a returned key does not corrupt later calls", func(t *testing.T) {
		uri := generateLocalSecretsURI(t)
		wantKEK, wrappedPath := writeWrappedKEKFile(t, uri)

		provider := NewCloudProvider(NewKeeperOpener(), uri, wrappedPath)

		_, first, err := provider.GetKEK(ctx)
		require.NoError(t, err)
		cryptoDomain.Zero(first)

		_, second, err := provider.GetKEK(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantKEK, second, "zeroing the first caller's copy must not zero the provider's cached KEK")
	})

	t.Run("missing wrapped file fails", func(t *testing.T) {
		uri := generateLocalSecretsURI(t)
		provider := NewCloudProvider(NewKeeperOpener(), uri, filepath.Join(t.TempDir(), "missing"))

		_, _, err := provider.GetKEK(ctx)
		assert.ErrorIs(t, err, cryptoDomain.ErrProviderFailure)
	})

	t.Run("invalid key URI fails", func(t *testing.T) {
		_, wrappedPath := writeWrappedKEKFile(t, generateLocalSecretsURI(t))
		provider := NewCloudProvider(NewKeeperOpener(), "invalid://uri", wrappedPath)

		_, _, err := provider.GetKEK(ctx)
		assert.ErrorIs(t, err, cryptoDomain.ErrProviderFailure)
	})

	t.Run("GetKEKByID only matches the configured key URI", func(t *testing.T) {
		uri := generateLocalSecretsURI(t)
		wantKEK, wrappedPath := writeWrappedKEKFile(t, uri)

		provider := NewCloudProvider(NewKeeperOpener(), uri, wrappedPath)

		got, err := provider.GetKEKByID(ctx, uri)
		require.NoError(t, err)
		assert.Equal(t, wantKEK, got)

		_, err = provider.GetKEKByID(ctx, "some-other-uri")
		assert.ErrorIs(t, err, cryptoDomain.ErrKekNotFound)
	})
}
