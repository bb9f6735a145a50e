package kms

import (
	"context"
	"fmt"

	"gocloud.dev/secrets"

	// Register all KMS provider drivers so KMS_KEY_URI schemes resolve
	// without callers needing to import drivers individually.
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"
)

// Keeper decrypts ciphertext using a remote KMS key. *secrets.Keeper
// implements this.
type Keeper interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Close() error
}

// KeeperOpener opens a Keeper for a given key URI. Separated from
// CloudProvider so tests can substitute a fake opener.
type KeeperOpener interface {
	OpenKeeper(ctx context.Context, keyURI string) (Keeper, error)
}

type gocloudOpener struct{}

// NewKeeperOpener returns a KeeperOpener backed by gocloud.dev/secrets,
// supporting gcpkms://, awskms://, azurekeyvault://, hashivault:// and
// base64key:// (test-only) URIs.
func NewKeeperOpener() KeeperOpener {
	return gocloudOpener{}
}

func (gocloudOpener) OpenKeeper(ctx context.Context, keyURI string) (Keeper, error) {
	keeper, err := secrets.OpenKeeper(ctx, keyURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open KMS keeper: %w", err)
	}
	return keeper, nil
}
