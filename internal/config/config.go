// Package config holds OPERATOR-LEVEL configuration for a warden installation.
//
// This is infrastructure config set by whoever deploys warden, NOT request or
// channel configuration. Settings come from env vars (WARDEN_*) or a
// warden.config.yaml file. Channel provider credentials for outbound delivery
// belong to the external execution collaborators, never here.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the WARDEN_ prefix
// (e.g. "signing_key" → WARDEN_SIGNING_KEY) and to a YAML field in
// warden.config.yaml.
const (
	KeyDataDir           = "data_dir"
	KeySigningKey        = "signing_key"
	KeyPolicyFile        = "policy_file"
	KeyProviderBaseURL   = "provider_base_url"
	KeyDispatchTimeoutMS = "dispatch_timeout_ms"
)

// Defaults that do NOT involve crypto material. The signing key intentionally
// has no baked-in default; when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultDispatchTimeoutMS = 10000
)

// Config holds resolved operator-level configuration for a warden process.
type Config struct {
	DataDir           string        // Base directory for all state (~/.warden)
	SigningKey        string        // HMAC-SHA256 key for audit record signing (≥32 bytes)
	PolicyFile        string        // Optional policy table override file (YAML)
	ProviderBaseURL   string        // Outbound message provider endpoint (empty = loopback executor)
	DispatchTimeout   time.Duration // Bounded timeout per execution dispatch
	usingDefaultKey   bool
}

// UsingDefaultSigningKey returns true if the signing key was derived rather
// than set explicitly. Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultKey
}

// AuditDBPath returns the full path to the audit log SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// TasksDBPath returns the full path to the task store SQLite database.
func (c *Config) TasksDBPath() string {
	return filepath.Join(c.DataDir, "tasks.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKey logs a warning when the signing key is not explicitly set.
func (c *Config) WarnIfDefaultKey() {
	if c.usingDefaultKey {
		log.Warn().Msg("Using generated default WARDEN_SIGNING_KEY; set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()
	viper.SetDefault(KeyDispatchTimeoutMS, DefaultDispatchTimeoutMS)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:         resolveDataDir(),
		SigningKey:      viper.GetString(KeySigningKey),
		PolicyFile:      viper.GetString(KeyPolicyFile),
		ProviderBaseURL: viper.GetString(KeyProviderBaseURL),
		DispatchTimeout: time.Duration(viper.GetInt(KeyDispatchTimeoutMS)) * time.Millisecond,
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong; it
// exists solely so `warden serve` works out of the box while still signing
// audit records with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("warden:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch_timeout_ms must be positive")
	}
	return nil
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters
// (decoded length ≥32 for HMAC-SHA256). Hex is checked first so that hex
// format is validated; raw is accepted otherwise when the length suffices.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set WARDEN_SIGNING_KEY", n)
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
