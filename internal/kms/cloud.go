package kms

import (
	"context"
	"fmt"
	"os"
	"sync"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
)

// CloudProvider sources the KEK from a remote KMS key. The key URI (e.g.
// gcpkms://..., awskms://..., azurekeyvault://..., hashivault://...)
// identifies an opaque tenant key; the locally-held ciphertext at
// wrappedKEKFile is decrypted through it to recover the 32-byte KEK
// plaintext. The decrypted KEK is cached after the first call; the Keeper
// is closed once that decrypt is done.
type CloudProvider struct {
	opener         KeeperOpener
	keyURI         string
	wrappedKEKFile string

	once sync.Once
	key  []byte
	err  error
}

// NewCloudProvider constructs a CloudProvider. keyURI selects the remote KMS
// key (and, via its scheme, the gocloud.dev/secrets driver); wrappedKEKFile
// names the file holding the KEK ciphertext produced by that key.
func NewCloudProvider(opener KeeperOpener, keyURI, wrappedKEKFile string) *CloudProvider {
	return &CloudProvider{opener: opener, keyURI: keyURI, wrappedKEKFile: wrappedKEKFile}
}

func (c *CloudProvider) load(ctx context.Context) {
	ciphertext, err := os.ReadFile(c.wrappedKEKFile)
	if err != nil {
		c.err = fmt.Errorf("%w: read wrapped KEK file: %v", cryptoDomain.ErrProviderFailure, err)
		return
	}

	keeper, err := c.opener.OpenKeeper(ctx, c.keyURI)
	if err != nil {
		cryptoDomain.Zero(ciphertext)
		c.err = fmt.Errorf("%w: open KMS keeper: %v", cryptoDomain.ErrProviderFailure, err)
		return
	}
	defer func() { _ = keeper.Close() }()

	key, err := keeper.Decrypt(ctx, ciphertext)
	cryptoDomain.Zero(ciphertext)
	if err != nil {
		c.err = fmt.Errorf("%w: KMS decrypt: %v", cryptoDomain.ErrProviderFailure, err)
		return
	}
	if err := validateKeyLength(key); err != nil {
		cryptoDomain.Zero(key)
		c.err = fmt.Errorf("%w: KEK must be 32 bytes, got %d", err, len(key))
		return
	}
	c.key = key
}

// GetKEK returns a copy of the cloud KEK, identified by its key URI,
// decrypting and caching the backing material on first call. The caller
// owns the returned slice.
func (c *CloudProvider) GetKEK(ctx context.Context) (string, []byte, error) {
	c.once.Do(func() { c.load(ctx) })
	if c.err != nil {
		return "", nil, c.err
	}
	return c.keyURI, copyKey(c.key), nil
}

// GetKEKByID returns a copy of the cloud KEK if kekID matches the
// configured key URI, and cryptoDomain.ErrKekNotFound otherwise — the cloud
// provider only ever serves the single tenant key it was configured with.
func (c *CloudProvider) GetKEKByID(ctx context.Context, kekID string) ([]byte, error) {
	id, key, err := c.GetKEK(ctx)
	if err != nil {
		return nil, err
	}
	if id != kekID {
		return nil, fmt.Errorf("%w: %s", cryptoDomain.ErrKekNotFound, kekID)
	}
	return key, nil
}
