package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/flagx"
	"github.com/dmitrijs2005/gophvault/internal/timex"
)

// FileConfig is the on-disk form of Config. Absent fields keep the value
// already in Config.
type FileConfig struct {
	StorePath string `json:"store_path" yaml:"store_path"`
	TenantID  string `json:"tenant_id" yaml:"tenant_id"`
	Email     string `json:"email" yaml:"email"`
	DeviceID  string `json:"device_id" yaml:"device_id"`

	CloudMode   string `json:"cloud_mode" yaml:"cloud_mode"`
	Backend     string `json:"backend" yaml:"backend"`
	BoltPath    string `json:"bolt_path" yaml:"bolt_path"`
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`
	S3Bucket    string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix    string `json:"s3_prefix" yaml:"s3_prefix"`
	S3Region    string `json:"s3_region" yaml:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key" yaml:"s3_secret_key"`
	ServerAddr  string `json:"server_addr" yaml:"server_addr"`
	ServerToken string `json:"server_token" yaml:"server_token"`

	SessionTimeout     timex.Duration `json:"session_timeout" yaml:"session_timeout"`
	SessionMaxLifetime timex.Duration `json:"session_max_lifetime" yaml:"session_max_lifetime"`

	KDF struct {
		Memory      uint `json:"memory" yaml:"memory"`
		Time        uint `json:"time" yaml:"time"`
		Parallelism uint `json:"parallelism" yaml:"parallelism"`
	} `json:"kdf" yaml:"kdf"`

	Algorithm        string `json:"algorithm" yaml:"algorithm"`
	ConflictStrategy string `json:"conflict_strategy" yaml:"conflict_strategy"`
	Sync             struct {
		MaxAttempts int            `json:"max_attempts" yaml:"max_attempts"`
		BaseDelay   timex.Duration `json:"base_delay" yaml:"base_delay"`
	} `json:"sync" yaml:"sync"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

func parseFile(config *Config) error {
	path := flagx.ConfigPath(os.Args[1:])
	if path == "" {
		return nil
	}
	return LoadFile(config, path)
}

// LoadFile overlays the file at path onto config. The extension picks the
// format: .yaml and .yml are YAML, anything else JSON.
func LoadFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: config: %v", common.ErrInvalidInput, err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("%w: config %s: %v", common.ErrInvalidInput, path, err)
	}
	c.apply(config)
	return nil
}

func (c *FileConfig) apply(config *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&config.StorePath, c.StorePath)
	set(&config.TenantID, c.TenantID)
	set(&config.Email, c.Email)
	set(&config.DeviceID, c.DeviceID)
	set(&config.CloudMode, c.CloudMode)
	set(&config.Backend, c.Backend)
	set(&config.BoltPath, c.BoltPath)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Prefix, c.S3Prefix)
	set(&config.S3Region, c.S3Region)
	set(&config.S3Endpoint, c.S3Endpoint)
	set(&config.S3AccessKey, c.S3AccessKey)
	set(&config.S3SecretKey, c.S3SecretKey)
	set(&config.ServerAddr, c.ServerAddr)
	set(&config.ServerToken, c.ServerToken)
	set(&config.Algorithm, c.Algorithm)
	set(&config.ConflictStrategy, c.ConflictStrategy)
	set(&config.LogLevel, c.LogLevel)

	if c.SessionTimeout.Duration > 0 {
		config.SessionTimeout = c.SessionTimeout.Duration
	}
	if c.SessionMaxLifetime.Duration > 0 {
		config.SessionMaxLifetime = c.SessionMaxLifetime.Duration
	}
	if c.KDF.Memory > 0 {
		config.KDFMemory = c.KDF.Memory
	}
	if c.KDF.Time > 0 {
		config.KDFTime = c.KDF.Time
	}
	if c.KDF.Parallelism > 0 {
		config.KDFParallelism = c.KDF.Parallelism
	}
	if c.Sync.MaxAttempts > 0 {
		config.SyncMaxAttempts = c.Sync.MaxAttempts
	}
	if c.Sync.BaseDelay.Duration > 0 {
		config.SyncBaseDelay = c.Sync.BaseDelay.Duration
	}
}
