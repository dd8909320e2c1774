// Package config loads runtime configuration for the vault client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file selected via -c or -config.
//  3. Command-line flags (see Bind), which override earlier values.
//
// The result is validated once and then treated as read-only for the rest
// of the process.
package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/syncer"
)

// Cloud modes.
const (
	ModeNone          = "none"
	ModeBackup        = "backup"
	ModeCollaborative = "collaborative"
)

// Sync backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendGRPC     = "grpc"
)

// Config holds runtime settings for the vault client.
//
// Fields:
//   - StorePath: local SQLite file.
//   - TenantID / Email: defaults for login prompts.
//   - DeviceID: replica id override; a random one is kept in the store otherwise.
//   - CloudMode: none disables sync, collaborative enables user management.
//   - Backend and its connection settings.
//   - SessionTimeout / SessionMaxLifetime: idle window and absolute cap.
//   - KDF*: Argon2id cost for tenants created by this process.
//   - Algorithm: AEAD for new records.
//   - ConflictStrategy, SyncMaxAttempts, SyncBaseDelay: sync tuning.
type Config struct {
	StorePath string
	TenantID  string
	Email     string
	DeviceID  string

	CloudMode   string
	Backend     string
	BoltPath    string
	DatabaseDSN string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	ServerAddr  string
	ServerToken string

	SessionTimeout     time.Duration
	SessionMaxLifetime time.Duration

	KDFMemory      uint
	KDFTime        uint
	KDFParallelism uint

	Algorithm        string
	ConflictStrategy string
	SyncMaxAttempts  int
	SyncBaseDelay    time.Duration

	LogLevel string
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	c.StorePath = "vault.db"
	c.CloudMode = ModeNone
	c.Backend = BackendGRPC
	c.BoltPath = "vault-remote.db"
	c.S3Region = "us-east-1"
	c.ServerAddr = "127.0.0.1:50051"
	c.SessionTimeout = 24 * time.Hour
	c.SessionMaxLifetime = 7 * 24 * time.Hour
	c.KDFMemory = 64 * 1024
	c.KDFTime = 3
	c.KDFParallelism = 1
	c.Algorithm = string(cryptox.AES256GCM)
	c.ConflictStrategy = string(syncer.LastWriteWins)
	c.SyncMaxAttempts = syncer.DefaultMaxAttempts
	c.SyncBaseDelay = syncer.DefaultBaseDelay
	c.LogLevel = "warn"
}

// Validate rejects unknown enum values and settings no component can run with.
func (c *Config) Validate() error {
	switch c.CloudMode {
	case ModeNone, ModeBackup, ModeCollaborative:
	default:
		return fmt.Errorf("%w: unknown cloud mode %q", common.ErrInvalidInput, c.CloudMode)
	}
	switch c.Backend {
	case BackendMemory, BackendBolt, BackendPostgres, BackendS3, BackendGRPC:
	default:
		return fmt.Errorf("%w: unknown backend %q", common.ErrInvalidInput, c.Backend)
	}
	if _, err := cryptox.ParseAlgorithm(c.Algorithm); err != nil {
		return err
	}
	if _, err := syncer.ParseStrategy(c.ConflictStrategy); err != nil {
		return err
	}
	switch {
	case c.StorePath == "":
		return fmt.Errorf("%w: store path is required", common.ErrInvalidInput)
	case c.SessionTimeout <= 0 || c.SessionMaxLifetime < c.SessionTimeout:
		return fmt.Errorf("%w: session timeout must be positive and within max lifetime", common.ErrInvalidInput)
	case c.KDFMemory == 0 || c.KDFTime == 0 || c.KDFParallelism == 0 || c.KDFParallelism > 255:
		return fmt.Errorf("%w: bad kdf parameters", common.ErrInvalidInput)
	case c.SyncMaxAttempts <= 0 || c.SyncBaseDelay <= 0:
		return fmt.Errorf("%w: sync attempts and delay must be positive", common.ErrInvalidInput)
	}
	if c.CloudMode != ModeNone && c.Backend == BackendS3 && c.S3Bucket == "" {
		return fmt.Errorf("%w: s3 bucket is required", common.ErrInvalidInput)
	}
	return nil
}

// SyncEnabled reports whether a remote backend should be opened.
func (c *Config) SyncEnabled() bool { return c.CloudMode != ModeNone }

// Collaborative reports whether multi-user management is enabled.
func (c *Config) Collaborative() bool { return c.CloudMode == ModeCollaborative }

// KDF returns the Argon2id parameters.
func (c *Config) KDF() cryptox.KDFParams {
	return cryptox.KDFParams{Memory: uint32(c.KDFMemory), Time: uint32(c.KDFTime), Parallelism: uint8(c.KDFParallelism)}
}

// SyncOptions returns engine options for the configured tuning. The strategy
// is assumed validated.
func (c *Config) SyncOptions() syncer.Options {
	s, _ := syncer.ParseStrategy(c.ConflictStrategy)
	return syncer.Options{Strategy: s, MaxAttempts: c.SyncMaxAttempts, BaseDelay: c.SyncBaseDelay}
}

// LoadConfig builds a Config from defaults and the file named by -c/-config.
// Flags are applied later by the command layer through Bind.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
