// Package config provides application configuration management through environment variables.
package config

import (
	"os"
	"path/filepath"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration (admin HTTP surface: /healthz, /metrics only)
	ServerHost string
	ServerPort int

	// Logging
	LogLevel string

	// KMS provider selection: "device-file" (DeviceKeyFile), empty or
	// "device-passphrase" (DeviceKeyPassphrase), or "cloud", which uses the
	// gocloud.dev/secrets driver named by KMSKeyURI's scheme (gcpkms://,
	// awskms://, azurekeyvault://, hashivault://). Any other value is
	// rejected.
	KMSProvider string
	KMSKeyURI   string

	// KMSWrappedKEKFile names a file holding the KEK ciphertext produced by
	// the remote KMS key at KMSKeyURI; CloudProvider decrypts it once to
	// obtain the 32-byte KEK plaintext.
	KMSWrappedKEKFile string

	// Device-local KMS: DeviceKeyFile is used when KMSProvider is
	// "device-file"; DeviceKeyPassphrase (with DeviceKeySalt) when it is
	// "device-passphrase" or empty.
	DeviceKeyFile       string
	DeviceKeyPassphrase string
	DeviceKeySalt       string

	// Page codec
	PageSize    int
	ReserveSize int

	// Keyring persistence
	SidecarExtension string

	// Storage policy guard
	StoragePolicyJournalMode string
	StoragePolicyTempStore   string
	StoragePolicyEnforce     bool

	// Metrics
	MetricsNamespace string
}

// Load loads configuration from environment variables.
// It first attempts to load a .env file by searching recursively from the current directory
// up to the root directory. If no .env file is found, it continues with existing environment variables.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		// Server configuration
		ServerHost: env.GetString("SERVER_HOST", "0.0.0.0"),
		ServerPort: env.GetInt("SERVER_PORT", 8080),

		// Logging
		LogLevel: env.GetString("LOG_LEVEL", "info"),

		// KMS
		KMSProvider:       env.GetString("KMS_PROVIDER", ""),
		KMSKeyURI:         env.GetString("KMS_KEY_URI", ""),
		KMSWrappedKEKFile: env.GetString("KMS_WRAPPED_KEK_FILE", ""),

		DeviceKeyFile:       env.GetString("DEVICE_KEY_FILE", ""),
		DeviceKeyPassphrase: env.GetString("DEVICE_KEY_PASSPHRASE", ""),
		DeviceKeySalt:       env.GetString("DEVICE_KEY_SALT", ""),

		// Page codec
		PageSize:    env.GetInt("PAGE_SIZE", 4096),
		ReserveSize: env.GetInt("RESERVE_SIZE", 48),

		// Keyring persistence
		SidecarExtension: env.GetString("SIDECAR_EXTENSION", ".evfs-keyring"),

		// Storage policy guard
		StoragePolicyJournalMode: env.GetString("STORAGE_POLICY_JOURNAL_MODE", "MEMORY"),
		StoragePolicyTempStore:   env.GetString("STORAGE_POLICY_TEMP_STORE", "MEMORY"),
		StoragePolicyEnforce:     env.GetBool("STORAGE_POLICY_ENFORCE", true),

		// Metrics
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "evfs"),
	}
}

// GetGinMode maps LogLevel to the gin engine mode: "debug" stays verbose,
// everything else runs release mode to avoid gin's per-request debug logging
// in production.
func (c *Config) GetGinMode() string {
	if c.LogLevel == "debug" {
		return "debug"
	}
	return "release"
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	// Search for .env file recursively up the directory tree
	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			// .env file found, load it
			_ = godotenv.Load(envPath)
			return
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root directory
			break
		}
		dir = parent
	}
}
