package fsctx

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
	cryptoService "github.com/evfsdb/evfs/internal/crypto/service"
	"github.com/evfsdb/evfs/internal/envelope"
	"github.com/evfsdb/evfs/internal/keyring"
)

type fakeProvider struct {
	kekID string
	kek   []byte
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	kek := make([]byte, 32)
	_, err := rand.Read(kek)
	require.NoError(t, err)
	return &fakeProvider{kekID: "device:passphrase", kek: kek}
}

func (f *fakeProvider) GetKEK(ctx context.Context) (string, []byte, error) {
	keyCopy := make([]byte, len(f.kek))
	copy(keyCopy, f.kek)
	return f.kekID, keyCopy, nil
}

func (f *fakeProvider) GetKEKByID(ctx context.Context, kekID string) ([]byte, error) {
	if kekID != f.kekID {
		return nil, cryptoDomain.ErrKekNotFound
	}
	keyCopy := make([]byte, len(f.kek))
	copy(keyCopy, f.kek)
	return keyCopy, nil
}

func newTestContext(t *testing.T, encryptEnabled bool) *FileContext {
	t.Helper()
	aeadManager := cryptoService.NewAEADManager()
	wrapper := envelope.NewWrapper(aeadManager, newFakeProvider(t))
	kr := keyring.New(wrapper, nil)
	return New(kr, aeadManager, 4096, 48, encryptEnabled)
}

func randomPage(t *testing.T, size int) []byte {
	t.Helper()
	page := make([]byte, size)
	_, err := rand.Read(page)
	require.NoError(t, err)
	return page
}

func TestFileContext_EncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	fc := newTestContext(t, true)

	original := randomPage(t, 4096)
	page := make([]byte, len(original))
	copy(page, original)

	require.NoError(t, fc.EncryptPageCtx(ctx, page, 1))
	assert.NotEqual(t, original[:4096-48], page[:4096-48])

	decrypted := make([]byte, len(page))
	copy(decrypted, page)
	require.NoError(t, fc.DecryptPageCtx(ctx, decrypted, 1))
	assert.Equal(t, original[:4096-48], decrypted[:4096-48])
}

func TestFileContext_EncryptPageCtx_Disabled_IsNoop(t *testing.T) {
	ctx := context.Background()
	fc := newTestContext(t, false)

	original := randomPage(t, 4096)
	page := make([]byte, len(original))
	copy(page, original)

	require.NoError(t, fc.EncryptPageCtx(ctx, page, 1))
	assert.Equal(t, original, page)
}

func TestFileContext_BuildPageScopeMap_RoutesToTableScope(t *testing.T) {
	ctx := context.Background()
	fc := newTestContext(t, true)

	require.NoError(t, fc.BuildPageScopeMap([]TableRootPage{
		{TableName: "users", RootPage: 10},
	}))

	usersDek, err := fc.keyring.DekFor(ctx, cryptoDomain.TableScope("users"))
	require.NoError(t, err)
	dbDek, err := fc.keyring.DekFor(ctx, cryptoDomain.DatabaseScope)
	require.NoError(t, err)
	require.NotEqual(t, usersDek.Key, dbDek.Key)

	page := randomPage(t, 4096)
	require.NoError(t, fc.EncryptPageCtx(ctx, page, 10))

	decryptedWithUsersKey := make([]byte, len(page))
	copy(decryptedWithUsersKey, page)
	require.NoError(t, fc.DecryptPageCtx(ctx, decryptedWithUsersKey, 10))

	// A context with no scope map resolves page 10 to the database scope
	// instead, a different DEK, so the same ciphertext must fail to decrypt.
	unmappedFc := New(fc.keyring, fc.aeadManager, 4096, 48, true)
	unmapped := make([]byte, len(page))
	copy(unmapped, page)
	err = unmappedFc.DecryptPageCtx(ctx, unmapped, 10)
	assert.ErrorIs(t, err, cryptoDomain.ErrCryptoFailure)
}

func TestFileContext_BuildPageScopeMap_SealedAfterFirstUse(t *testing.T) {
	ctx := context.Background()
	fc := newTestContext(t, true)

	page := randomPage(t, 4096)
	require.NoError(t, fc.EncryptPageCtx(ctx, page, 1))

	err := fc.BuildPageScopeMap([]TableRootPage{{TableName: "users", RootPage: 10}})
	assert.ErrorIs(t, err, cryptoDomain.ErrContextSealed)
}

func TestFileContext_DecryptPageCtx_WrongPageNumberFails(t *testing.T) {
	ctx := context.Background()
	fc := newTestContext(t, true)

	page := randomPage(t, 4096)
	require.NoError(t, fc.EncryptPageCtx(ctx, page, 5))

	err := fc.DecryptPageCtx(ctx, page, 6)
	assert.ErrorIs(t, err, cryptoDomain.ErrCryptoFailure)
}

func TestFileContext_Accessors(t *testing.T) {
	fc := newTestContext(t, true)
	assert.Equal(t, 4096, fc.PageSize())
	assert.Equal(t, 48, fc.ReserveSize())
	assert.True(t, fc.EncryptEnabled())
}
