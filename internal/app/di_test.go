package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evfsdb/evfs/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:            "info",
		KMSProvider:         "device-passphrase",
		DeviceKeyPassphrase: "correct horse battery staple",
		DeviceKeySalt:       "fixed-test-salt",
		PageSize:            4096,
		ReserveSize:         48,
		SidecarExtension:    ".evfs-keyring",
		MetricsNamespace:    "evfs_test",
	}
}

func TestNewContainer(t *testing.T) {
	cfg := testConfig(t)
	c := NewContainer(cfg)
	require.NotNil(t, c)
	assert.Same(t, cfg, c.Config())
}

func TestContainer_Logger_SingletonAcrossCalls(t *testing.T) {
	c := NewContainer(testConfig(t))
	logger1 := c.Logger()
	logger2 := c.Logger()
	require.NotNil(t, logger1)
	assert.Same(t, logger1, logger2)
}

func TestContainer_Logger_DefaultsToInfoOnUnknownLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "not-a-level"
	c := NewContainer(cfg)
	assert.NotNil(t, c.Logger())
}

func TestContainer_KMSProvider_DevicePassphrase(t *testing.T) {
	c := NewContainer(testConfig(t))
	provider, err := c.KMSProvider()
	require.NoError(t, err)
	assert.NotNil(t, provider)

	// Singleton across calls.
	provider2, err := c.KMSProvider()
	require.NoError(t, err)
	assert.Same(t, provider, provider2)
}

func TestContainer_KMSProvider_DeviceFile_MissingFileErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.KMSProvider = "device-file"
	cfg.DeviceKeyFile = filepath.Join(t.TempDir(), "does-not-exist.key")
	c := NewContainer(cfg)

	_, err := c.KMSProvider()
	assert.Error(t, err)
}

func TestContainer_KMSProvider_UnsupportedProviderErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.KMSProvider = "bogus"
	c := NewContainer(cfg)

	_, err := c.KMSProvider()
	assert.Error(t, err)
}

func TestContainer_Wrapper_WrapsUnderConfiguredProvider(t *testing.T) {
	c := NewContainer(testConfig(t))
	wrapper, err := c.Wrapper()
	require.NoError(t, err)
	assert.NotNil(t, wrapper)
}

func TestContainer_AEADManager_Singleton(t *testing.T) {
	c := NewContainer(testConfig(t))
	m1 := c.AEADManager()
	m2 := c.AEADManager()
	assert.Same(t, m1, m2)
}

func TestContainer_NewKeyring_IndependentPerCall(t *testing.T) {
	c := NewContainer(testConfig(t))
	kr1, err := c.NewKeyring()
	require.NoError(t, err)
	kr2, err := c.NewKeyring()
	require.NoError(t, err)
	assert.NotSame(t, kr1, kr2)
}

func TestContainer_NewFileContext_BindsSidecar(t *testing.T) {
	c := NewContainer(testConfig(t))
	dbPath := filepath.Join(t.TempDir(), "app.db")

	fc, err := c.NewFileContext(dbPath)
	require.NoError(t, err)
	assert.Equal(t, 4096, fc.PageSize())
	assert.Equal(t, 48, fc.ReserveSize())
	assert.True(t, fc.EncryptEnabled())
}

func TestContainer_Shutdown_NoopWithoutMetricsProvider(t *testing.T) {
	c := NewContainer(testConfig(t))
	assert.NoError(t, c.Shutdown(context.Background()))
}
