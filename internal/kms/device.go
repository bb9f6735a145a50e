package kms

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
)

// defaultDeviceSalt is used to derive the passphrase KEK when no
// DEVICE_KEY_SALT is configured. A fixed default keeps single-node
// deployments functional out of the box; production deployments should set
// an explicit per-deployment salt.
var defaultDeviceSalt = []byte("evfs-device-kek-v1-default-salt-")

// Argon2id tuning parameters, matched to OWASP's 2024 recommendation for
// interactive key derivation: 1 iteration, 64 MiB, 4 lanes, 32-byte output.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// DeviceProvider sources the KEK from local device material: either a raw
// 32-byte key file, or a passphrase put through Argon2id. Exactly one of
// the two construction paths applies to a given instance.
type DeviceProvider struct {
	keyFile    string
	passphrase string
	salt       []byte

	once  sync.Once
	kekID string
	key   []byte
	err   error
}

// NewDeviceFileProvider sources the KEK from a 32-byte file on disk.
// keyFile is resolved to an absolute path; the kek_id reported is
// "device:file:<absolute path>".
func NewDeviceFileProvider(keyFile string) (*DeviceProvider, error) {
	abs, err := filepath.Abs(keyFile)
	if err != nil {
		return nil, cryptoDomain.ErrProviderFailure
	}
	return &DeviceProvider{keyFile: abs}, nil
}

// NewDevicePassphraseProvider sources the KEK by deriving it from a
// passphrase via Argon2id. If salt is empty, a fixed per-deployment default
// is used. The kek_id reported is always "device:passphrase".
func NewDevicePassphraseProvider(passphrase string, salt []byte) *DeviceProvider {
	if len(salt) == 0 {
		salt = defaultDeviceSalt
	}
	return &DeviceProvider{passphrase: passphrase, salt: salt}
}

func (d *DeviceProvider) load() {
	if d.keyFile != "" {
		d.loadFromFile()
		return
	}
	d.loadFromPassphrase()
}

func (d *DeviceProvider) loadFromFile() {
	raw, err := os.ReadFile(d.keyFile)
	if err != nil {
		d.err = fmt.Errorf("%w: read device key file: %v", cryptoDomain.ErrProviderFailure, err)
		return
	}
	if err := validateKeyLength(raw); err != nil {
		cryptoDomain.Zero(raw)
		d.err = fmt.Errorf("%w: device key file must hold exactly 32 bytes, got %d",
			err, len(raw))
		return
	}
	d.key = raw
	d.kekID = "device:file:" + d.keyFile
}

func (d *DeviceProvider) loadFromPassphrase() {
	d.key = argon2.IDKey([]byte(d.passphrase), d.salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	d.kekID = "device:passphrase"
}

// GetKEK returns a copy of the device KEK, loading and caching the backing
// material on first call. The caller owns the returned slice.
func (d *DeviceProvider) GetKEK(ctx context.Context) (string, []byte, error) {
	d.once.Do(d.load)
	if d.err != nil {
		return "", nil, d.err
	}
	return d.kekID, copyKey(d.key), nil
}

// GetKEKByID returns a copy of the device KEK if kekID matches the id this
// provider produces, and cryptoDomain.ErrKekNotFound otherwise.
func (d *DeviceProvider) GetKEKByID(ctx context.Context, kekID string) ([]byte, error) {
	id, key, err := d.GetKEK(ctx)
	if err != nil {
		return nil, err
	}
	if id != kekID {
		return nil, fmt.Errorf("%w: %s", cryptoDomain.ErrKekNotFound, kekID)
	}
	return key, nil
}
