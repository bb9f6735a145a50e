// Package app provides the dependency injection container assembling the
// encrypted-VFS components: configuration, logging, metrics, the KMS
// provider, the envelope wrapper, and factories for the per-database
// components (keyring, file context, policy guard).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/evfsdb/evfs/internal/config"
	cryptoService "github.com/evfsdb/evfs/internal/crypto/service"
	"github.com/evfsdb/evfs/internal/envelope"
	"github.com/evfsdb/evfs/internal/fsctx"
	"github.com/evfsdb/evfs/internal/keyring"
	"github.com/evfsdb/evfs/internal/kms"
	"github.com/evfsdb/evfs/internal/metrics"
)

// Container holds the application-wide singletons and provides factories
// for the per-database-file components. Singletons are created lazily on
// first access, each guarded by its own sync.Once, following the lazy
// initialization pattern used throughout this module's teacher lineage.
type Container struct {
	config *config.Config

	logger *slog.Logger

	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics

	kmsProvider kms.Provider
	aeadManager cryptoService.AEADManager
	wrapper     *envelope.Wrapper

	mu                  sync.Mutex
	loggerInit          sync.Once
	metricsProviderInit sync.Once
	businessMetricsInit sync.Once
	kmsProviderInit     sync.Once
	aeadManagerInit     sync.Once
	wrapperInit         sync.Once
	initErrors          map[string]error
}

// NewContainer creates a dependency injection container bound to cfg.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the bound configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the structured logger, built from the configured log
// level on first access.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// MetricsProvider returns the OpenTelemetry/Prometheus metrics provider.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.setInitError("metricsProvider", err)
		}
	})
	if storedErr, ok := c.getInitError("metricsProvider"); ok {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business operation metrics recorder.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		provider, providerErr := c.MetricsProvider()
		if providerErr != nil {
			err = providerErr
			c.setInitError("businessMetrics", err)
			return
		}
		c.businessMetrics, err = metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			c.setInitError("businessMetrics", err)
		}
	})
	if storedErr, ok := c.getInitError("businessMetrics"); ok {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// KMSProvider returns the configured KEK source (device file, device
// passphrase, or cloud KMS), selected by config.KMSProvider.
func (c *Container) KMSProvider() (kms.Provider, error) {
	var err error
	c.kmsProviderInit.Do(func() {
		c.kmsProvider, err = c.initKMSProvider()
		if err != nil {
			c.setInitError("kmsProvider", err)
		}
	})
	if storedErr, ok := c.getInitError("kmsProvider"); ok {
		return nil, storedErr
	}
	return c.kmsProvider, nil
}

// AEADManager returns the AEAD cipher factory.
func (c *Container) AEADManager() cryptoService.AEADManager {
	c.aeadManagerInit.Do(func() {
		c.aeadManager = cryptoService.NewAEADManager()
	})
	return c.aeadManager
}

// Wrapper returns the envelope wrapper (DEK wrap/unwrap against the
// configured KMS provider).
func (c *Container) Wrapper() (*envelope.Wrapper, error) {
	var err error
	c.wrapperInit.Do(func() {
		provider, providerErr := c.KMSProvider()
		if providerErr != nil {
			err = providerErr
			c.setInitError("wrapper", err)
			return
		}
		c.wrapper = envelope.NewWrapper(c.AEADManager(), provider)
	})
	if storedErr, ok := c.getInitError("wrapper"); ok {
		return nil, storedErr
	}
	return c.wrapper, nil
}

// NewKeyring builds a fresh Keyring bound to this container's wrapper and
// logger. Unlike the singletons above, a Keyring is per-open-database:
// the container does not cache one, since a process may manage several
// database files concurrently, each with its own sidecar.
func (c *Container) NewKeyring() (*keyring.Keyring, error) {
	wrapper, err := c.Wrapper()
	if err != nil {
		return nil, err
	}
	biz, err := c.BusinessMetrics()
	if err != nil {
		return nil, err
	}
	return keyring.NewWithMetrics(wrapper, c.Logger(), biz), nil
}

// NewFileContext builds a Keyring for dbPath (binding its sidecar) and a
// FileContext over it with the configured page geometry.
func (c *Container) NewFileContext(dbPath string) (*fsctx.FileContext, error) {
	kr, err := c.NewKeyring()
	if err != nil {
		return nil, err
	}
	if err := kr.SetSidecarPath(dbPath, c.config.SidecarExtension); err != nil {
		return nil, fmt.Errorf("bind sidecar for %s: %w", dbPath, err)
	}
	biz, err := c.BusinessMetrics()
	if err != nil {
		return nil, err
	}
	return fsctx.NewWithMetrics(kr, c.AEADManager(), c.config.PageSize, c.config.ReserveSize, true, biz), nil
}

// Shutdown flushes and releases process-wide resources. Per-database
// Keyring/FileContext instances are the caller's responsibility to close.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("metrics provider shutdown: %w", err)
		}
	}
	return nil
}

func (c *Container) initLogger() *slog.Logger {
	var level slog.Level
	switch c.config.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func (c *Container) initKMSProvider() (kms.Provider, error) {
	switch c.config.KMSProvider {
	case "cloud":
		opener := kms.NewKeeperOpener()
		return kms.NewCloudProvider(opener, c.config.KMSKeyURI, c.config.KMSWrappedKEKFile), nil
	case "device-file":
		return kms.NewDeviceFileProvider(c.config.DeviceKeyFile)
	case "device-passphrase", "":
		salt := []byte(c.config.DeviceKeySalt)
		return kms.NewDevicePassphraseProvider(c.config.DeviceKeyPassphrase, salt), nil
	default:
		return nil, fmt.Errorf("unsupported KMS_PROVIDER %q", c.config.KMSProvider)
	}
}

func (c *Container) setInitError(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initErrors[key] = err
}

func (c *Container) getInitError(key string) (error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err, ok := c.initErrors[key]
	return err, ok
}
