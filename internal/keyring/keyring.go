// Package keyring caches and persists scope-to-DEK bindings.
//
// A Keyring is the single point of contact between the page codec and the
// KMS-backed envelope layer: it resolves a Scope to a live DEK, generating
// and wrapping a fresh one on first use, and persists the wrapped form to a
// sidecar file next to the database. Every exported method is safe to call
// from multiple goroutines concurrently, mirroring the DB engine's worker
// and checkpointer threads.
package keyring

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
	"github.com/evfsdb/evfs/internal/envelope"
	"github.com/evfsdb/evfs/internal/metrics"
)

const metricsDomain = "keyring"

// Keyring caches unwrapped DEKs per scope and mirrors their wrapped form to
// a sidecar file.
type Keyring struct {
	wrapper *envelope.Wrapper
	logger  *slog.Logger
	biz     metrics.BusinessMetrics

	mu        sync.RWMutex
	cache     map[string]cryptoDomain.Dek
	persisted map[string]cryptoDomain.WrappedDek
	sidecar   string
}

// New constructs a Keyring bound to wrapper. Call SetSidecarPath before
// first use to enable persistence; without it, DEKs are generated and
// cached in memory only.
func New(wrapper *envelope.Wrapper, logger *slog.Logger) *Keyring {
	return NewWithMetrics(wrapper, logger, nil)
}

// NewWithMetrics is New plus a BusinessMetrics recorder for dek_for and
// rewrap_all; biz may be nil to skip metrics entirely.
func NewWithMetrics(wrapper *envelope.Wrapper, logger *slog.Logger, biz metrics.BusinessMetrics) *Keyring {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyring{
		wrapper:   wrapper,
		logger:    logger,
		biz:       biz,
		cache:     make(map[string]cryptoDomain.Dek),
		persisted: make(map[string]cryptoDomain.WrappedDek),
	}
}

func (k *Keyring) recordOutcome(ctx context.Context, operation string, start time.Time, status string) {
	if k.biz == nil {
		return
	}
	k.biz.RecordOperation(ctx, metricsDomain, operation, status)
	k.biz.RecordDuration(ctx, metricsDomain, operation, time.Since(start), status)
}

// SetSidecarPath binds the keyring to the sidecar file derived from dbPath
// (extension replaced by sidecarExt). If the sidecar exists, its entries
// are parsed and loaded into the persisted mirror; entries are not
// unwrapped until a matching DekFor call. A parse error is logged and
// treated as an empty sidecar, per spec.
func (k *Keyring) SetSidecarPath(dbPath, sidecarExt string) error {
	path := SidecarPathFor(dbPath, sidecarExt)

	entries, existed, err := readSidecarFile(path)
	if err != nil {
		k.logger.Warn("sidecar parse failed, continuing with empty keyring",
			slog.String("path", path), slog.Any("error", err))
		entries = nil
	} else if existed {
		k.logger.Info("loaded sidecar", slog.String("path", path), slog.Int("entries", len(entries)))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.sidecar = path
	for _, e := range entries {
		k.persisted[e.Scope.String()] = e
	}
	return nil
}

// DekFor returns the DEK for scope, generating and persisting a new one if
// none exists yet. Concurrent callers requesting the same scope observe the
// same DEK; at most one generation occurs.
func (k *Keyring) DekFor(ctx context.Context, scope cryptoDomain.Scope) (cryptoDomain.Dek, error) {
	start := time.Now()
	dek, err := k.dekFor(ctx, scope)
	status := "success"
	if err != nil {
		status = "error"
	}
	k.recordOutcome(ctx, "dek_for", start, status)
	return dek, err
}

func (k *Keyring) dekFor(ctx context.Context, scope cryptoDomain.Scope) (cryptoDomain.Dek, error) {
	key := scope.String()

	k.mu.RLock()
	if dek, ok := k.cache[key]; ok {
		k.mu.RUnlock()
		return cloneDek(dek), nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	if dek, ok := k.cache[key]; ok {
		k.mu.Unlock()
		return cloneDek(dek), nil
	}

	if wrapped, ok := k.persisted[key]; ok {
		k.mu.Unlock()
		dek, err := k.wrapper.UnwrapDek(ctx, wrapped)
		if err != nil {
			return cryptoDomain.Dek{}, err
		}
		k.mu.Lock()
		if existing, ok := k.cache[key]; ok {
			k.mu.Unlock()
			cryptoDomain.Zero(dek.Key)
			return cloneDek(existing), nil
		}
		k.cache[key] = dek
		k.mu.Unlock()
		return cloneDek(dek), nil
	}

	dek, wrapped, err := k.generate(ctx, scope)
	if err != nil {
		k.mu.Unlock()
		return cryptoDomain.Dek{}, err
	}
	k.persisted[key] = wrapped
	sidecar := k.sidecar
	snapshot := k.snapshotPersistedLocked()
	k.mu.Unlock()

	if sidecar != "" {
		if err := writeSidecarFile(sidecar, encodeSidecar(snapshot)); err != nil {
			// Per spec: a new DEK that could not be persisted must not be
			// used, else a restart loses the ability to recover it.
			k.mu.Lock()
			delete(k.persisted, key)
			k.mu.Unlock()
			cryptoDomain.Zero(dek.Key)
			return cryptoDomain.Dek{}, err
		}
	}

	k.mu.Lock()
	if existing, ok := k.cache[key]; ok {
		k.mu.Unlock()
		cryptoDomain.Zero(dek.Key)
		return cloneDek(existing), nil
	}
	k.cache[key] = dek
	k.mu.Unlock()

	return cloneDek(dek), nil
}

// DekForPage returns the DEK for the scope of pageNo, using pageScopes to
// resolve the scope (nil or a miss resolves to DatabaseScope).
func (k *Keyring) DekForPage(ctx context.Context, pageNo uint32, pageScopes map[uint32]cryptoDomain.Scope) (cryptoDomain.Dek, error) {
	scope := cryptoDomain.DatabaseScope
	if pageScopes != nil {
		if s, ok := pageScopes[pageNo]; ok {
			scope = s
		}
	}
	return k.DekFor(ctx, scope)
}

// generate creates a fresh random DEK for scope and wraps it under the
// current KEK. Called with k.mu held for write.
func (k *Keyring) generate(ctx context.Context, scope cryptoDomain.Scope) (cryptoDomain.Dek, cryptoDomain.WrappedDek, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return cryptoDomain.Dek{}, cryptoDomain.WrappedDek{}, fmt.Errorf("%w: generate DEK: %v", cryptoDomain.ErrCryptoFailure, err)
	}
	dek := cryptoDomain.Dek{Scope: scope, Key: key, Algorithm: cryptoDomain.AESGCM}

	wrapped, err := k.wrapper.WrapDek(ctx, dek)
	if err != nil {
		cryptoDomain.Zero(key)
		return cryptoDomain.Dek{}, cryptoDomain.WrappedDek{}, err
	}
	return dek, wrapped, nil
}

// RewrapAll re-wraps every cached DEK under the current KEK and overwrites
// the sidecar. Used after an administrative KEK rotation; DEK bytes
// themselves are unchanged, only their wrapped (on-disk) form.
func (k *Keyring) RewrapAll(ctx context.Context) error {
	start := time.Now()
	err := k.rewrapAll(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	k.recordOutcome(ctx, "rewrap_all", start, status)
	return err
}

func (k *Keyring) rewrapAll(ctx context.Context) error {
	k.mu.RLock()
	deks := make([]cryptoDomain.Dek, 0, len(k.cache))
	for _, dek := range k.cache {
		deks = append(deks, cloneDek(dek))
	}
	sidecar := k.sidecar
	k.mu.RUnlock()

	rewrapped := make([]cryptoDomain.WrappedDek, 0, len(deks))
	for _, dek := range deks {
		w, err := k.wrapper.WrapDek(ctx, dek)
		if err != nil {
			for i := range deks {
				cryptoDomain.Zero(deks[i].Key)
			}
			return err
		}
		rewrapped = append(rewrapped, w)
	}

	k.mu.Lock()
	for _, w := range rewrapped {
		k.persisted[w.Scope.String()] = w
	}
	snapshot := k.snapshotPersistedLocked()
	k.mu.Unlock()

	for i := range deks {
		cryptoDomain.Zero(deks[i].Key)
	}

	if sidecar == "" {
		return nil
	}
	return writeSidecarFile(sidecar, encodeSidecar(snapshot))
}

// Entries returns the persisted (wrapped) DEK metadata for every known
// scope, sorted by scope string. Ciphertext/Nonce bytes are included since
// they are already the wrapped (at-rest) form; no plaintext key material is
// ever exposed by this method.
func (k *Keyring) Entries() []cryptoDomain.WrappedDek {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.snapshotPersistedLocked()
}

// snapshotPersistedLocked returns the persisted mirror as a slice in a
// deterministic order (sorted by scope string), for sidecar encoding.
// Callers must hold k.mu.
func (k *Keyring) snapshotPersistedLocked() []cryptoDomain.WrappedDek {
	keys := make([]string, 0, len(k.persisted))
	for key := range k.persisted {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]cryptoDomain.WrappedDek, 0, len(keys))
	for _, key := range keys {
		out = append(out, k.persisted[key])
	}
	return out
}

// Close zeros all cached DEK bytes and clears the cache and persisted
// mirror. The keyring must not be used afterward.
func (k *Keyring) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, dek := range k.cache {
		cryptoDomain.Zero(dek.Key)
		delete(k.cache, key)
	}
	k.persisted = make(map[string]cryptoDomain.WrappedDek)
}

func cloneDek(dek cryptoDomain.Dek) cryptoDomain.Dek {
	keyCopy := make([]byte, len(dek.Key))
	copy(keyCopy, dek.Key)
	return cryptoDomain.Dek{Scope: dek.Scope, Key: keyCopy, Algorithm: dek.Algorithm}
}
