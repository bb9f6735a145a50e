// Package fsctx adapts a DB engine's per-open-file page I/O to the keyring:
// it binds a FileContext to one open file handle for its lifetime and
// builds the optional root-page→scope map used for per-table encryption.
package fsctx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evfsdb/evfs/internal/codec"
	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
	cryptoService "github.com/evfsdb/evfs/internal/crypto/service"
	"github.com/evfsdb/evfs/internal/keyring"
	"github.com/evfsdb/evfs/internal/metrics"
)

const metricsDomain = "codec"

// FileContext is the per-open-file record shared by every page I/O call
// against one database file: a keyring handle, the page geometry, and an
// optional root-page→Scope map for per-table encryption.
//
// A FileContext seals its root-page→scope map after the first encrypt/
// decrypt call: the map partitions which pages use which DEK, so changing
// it mid-file would make previously written pages undecryptable under the
// newly resolved scope.
type FileContext struct {
	keyring        *keyring.Keyring
	aeadManager    cryptoService.AEADManager
	pageSize       int
	reserveSize    int
	encryptEnabled bool

	biz metrics.BusinessMetrics

	mu           sync.RWMutex
	pageScopeMap map[uint32]cryptoDomain.Scope
	sealed       bool
}

// New constructs a FileContext bound to kr, with the given page geometry.
// encryptEnabled lets the integration layer open a file context in
// pass-through mode (no encryption) without a separate code path.
func New(kr *keyring.Keyring, aeadManager cryptoService.AEADManager, pageSize, reserveSize int, encryptEnabled bool) *FileContext {
	return NewWithMetrics(kr, aeadManager, pageSize, reserveSize, encryptEnabled, nil)
}

// NewWithMetrics is New plus a BusinessMetrics recorder for the
// codec.encrypt_page and codec.decrypt_page operations; biz may be nil to
// skip metrics entirely.
func NewWithMetrics(kr *keyring.Keyring, aeadManager cryptoService.AEADManager, pageSize, reserveSize int, encryptEnabled bool, biz metrics.BusinessMetrics) *FileContext {
	return &FileContext{
		keyring:        kr,
		aeadManager:    aeadManager,
		pageSize:       pageSize,
		reserveSize:    reserveSize,
		encryptEnabled: encryptEnabled,
		biz:            biz,
	}
}

func (fc *FileContext) recordOutcome(ctx context.Context, operation string, start time.Time, status string) {
	if fc.biz == nil {
		return
	}
	fc.biz.RecordOperation(ctx, metricsDomain, operation, status)
	fc.biz.RecordDuration(ctx, metricsDomain, operation, time.Since(start), status)
}

// PageSize returns the bound page size.
func (fc *FileContext) PageSize() int { return fc.pageSize }

// ReserveSize returns the bound reserve size.
func (fc *FileContext) ReserveSize() int { return fc.reserveSize }

// EncryptEnabled reports whether this context performs encryption at all.
func (fc *FileContext) EncryptEnabled() bool { return fc.encryptEnabled }

// BuildPageScopeMap populates the root-page→scope map from a list of
// (tableName, rootPageNo) pairs, typically read from the schema table.
// Pages not named here — including internal B-tree child pages of named
// tables — resolve to the database scope; per-table encryption is a
// targeted optimization, not a security boundary. Calling this after the
// context has sealed (first encrypt/decrypt) returns ErrContextSealed: the
// map must be established before page I/O begins.
func (fc *FileContext) BuildPageScopeMap(rootPages []TableRootPage) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.sealed {
		return cryptoDomain.ErrContextSealed
	}

	m := make(map[uint32]cryptoDomain.Scope, len(rootPages))
	for _, rp := range rootPages {
		m[rp.RootPage] = cryptoDomain.TableScope(rp.TableName)
	}
	fc.pageScopeMap = m
	return nil
}

// TableRootPage names the root page of one table, as read from the schema
// table by the integration layer.
type TableRootPage struct {
	TableName string
	RootPage  uint32
}

func (fc *FileContext) seal() map[uint32]cryptoDomain.Scope {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.sealed = true
	return fc.pageScopeMap
}

// EncryptPageCtx encrypts page in place for pageNo, resolving the DEK via
// the bound keyring and page-scope map. A no-op when encryption is
// disabled for this context.
func (fc *FileContext) EncryptPageCtx(ctx context.Context, page []byte, pageNo uint32) error {
	if !fc.encryptEnabled {
		return nil
	}
	start := time.Now()
	cipher, dek, err := fc.cipherForPage(ctx, pageNo)
	if err != nil {
		fc.recordOutcome(ctx, "encrypt_page", start, "error")
		return err
	}
	defer cryptoDomain.Zero(dek.Key)
	err = codec.EncryptPage(cipher, page, pageNo, fc.reserveSize)
	status := "success"
	if err != nil {
		status = "error"
	}
	fc.recordOutcome(ctx, "encrypt_page", start, status)
	return err
}

// DecryptPageCtx decrypts page in place for pageNo, resolving the DEK via
// the bound keyring and page-scope map. A no-op when encryption is
// disabled for this context.
func (fc *FileContext) DecryptPageCtx(ctx context.Context, page []byte, pageNo uint32) error {
	if !fc.encryptEnabled {
		return nil
	}
	start := time.Now()
	cipher, dek, err := fc.cipherForPage(ctx, pageNo)
	if err != nil {
		fc.recordOutcome(ctx, "decrypt_page", start, "error")
		return err
	}
	defer cryptoDomain.Zero(dek.Key)
	err = codec.DecryptPage(cipher, page, pageNo, fc.reserveSize)
	status := "success"
	if err != nil {
		status = "error"
	}
	fc.recordOutcome(ctx, "decrypt_page", start, status)
	return err
}

func (fc *FileContext) cipherForPage(ctx context.Context, pageNo uint32) (cryptoService.ExplicitNonceAEAD, cryptoDomain.Dek, error) {
	scopeMap := fc.seal()

	dek, err := fc.keyring.DekForPage(ctx, pageNo, scopeMap)
	if err != nil {
		return nil, cryptoDomain.Dek{}, err
	}

	aead, err := fc.aeadManager.CreateCipher(dek.Key, dek.Algorithm)
	if err != nil {
		cryptoDomain.Zero(dek.Key)
		return nil, cryptoDomain.Dek{}, fmt.Errorf("%w: %v", cryptoDomain.ErrCryptoFailure, err)
	}
	cipher, ok := aead.(cryptoService.ExplicitNonceAEAD)
	if !ok {
		cryptoDomain.Zero(dek.Key)
		return nil, cryptoDomain.Dek{}, fmt.Errorf("%w: algorithm %s has no explicit-nonce cipher", cryptoDomain.ErrCryptoFailure, dek.Algorithm)
	}
	return cipher, dek, nil
}
