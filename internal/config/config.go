// Package config loads the governance engine configuration from YAML.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/outputval"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/policy"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/risk"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/trust"
)

// Fail modes decide the verdict when the engine cannot evaluate.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Trust store backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// StoreConfig selects where trust state is persisted.
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path,omitempty"`
	RedisURL string `yaml:"redis_url,omitempty"`
	RedisKey string `yaml:"redis_key,omitempty"`
}

// AuditConfig controls the verdict audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// Config is the complete engine configuration.
type Config struct {
	FailMode         string                             `yaml:"fail_mode"`
	Policies         []policy.Policy                    `yaml:"policies"`
	TimeWindows      map[string]policy.TimeWindowConfig `yaml:"time_windows,omitempty"`
	Trust            trust.Config                       `yaml:"trust"`
	TrustStore       StoreConfig                        `yaml:"trust_store"`
	Risk             risk.Config                        `yaml:"risk"`
	OutputValidation outputval.Config                   `yaml:"output_validation"`
	Audit            AuditConfig                        `yaml:"audit"`
}

// DefaultConfig returns the configuration used when no file exists:
// fail-open, no policies, file-backed trust, audit off.
func DefaultConfig() *Config {
	return &Config{
		FailMode:         FailOpen,
		Trust:            trust.DefaultConfig(),
		TrustStore:       StoreConfig{Backend: BackendFile, Path: trust.DefaultPath()},
		Risk:             risk.DefaultConfig(),
		OutputValidation: outputval.DefaultConfig(),
		Audit:            AuditConfig{Path: defaultAuditPath()},
	}
}

// DefaultPath returns ~/.governance/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "governance.yaml"
	}
	return filepath.Join(home, ".governance", "config.yaml")
}

func defaultAuditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "governance", "audit.jsonl")
	}
	return filepath.Join(home, ".governance", "audit.jsonl")
}

// Load reads configuration from path. An empty path uses DefaultPath; a
// missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 hash of the raw
// bytes on disk. When no file exists the hash is that of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), Hash(nil), nil
		}
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, Hash(data), nil
}

// Parse decodes YAML over the defaults and validates the result. Fields
// absent from the document keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Hash returns the "sha256:<hex>" digest of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Validate checks settings that can be verified without compiling policies.
func (c *Config) Validate() error {
	switch c.FailMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("fail_mode must be %q or %q, got %q", FailOpen, FailClosed, c.FailMode)
	}
	switch c.TrustStore.Backend {
	case BackendFile:
	case BackendRedis:
		if c.TrustStore.RedisURL == "" {
			return fmt.Errorf("trust_store: redis backend requires redis_url")
		}
	default:
		return fmt.Errorf("trust_store: unknown backend %q", c.TrustStore.Backend)
	}
	if _, err := policy.ParseWindows(c.TimeWindows); err != nil {
		return err
	}
	if err := c.OutputValidation.Validate(); err != nil {
		return err
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit: enabled without path")
	}
	return nil
}

// Windows parses the configured named time windows.
func (c *Config) Windows() (map[string]policy.Window, error) {
	return policy.ParseWindows(c.TimeWindows)
}
