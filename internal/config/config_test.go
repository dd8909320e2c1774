package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/syncer"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = append([]string{"vault"}, args...)
}

func defaults() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

func TestLoadDefaults(t *testing.T) {
	c := defaults()

	assert.Equal(t, ModeNone, c.CloudMode)
	assert.Equal(t, 24*time.Hour, c.SessionTimeout)
	assert.Equal(t, 7*24*time.Hour, c.SessionMaxLifetime)
	assert.Equal(t, uint(65536), c.KDFMemory)
	assert.Equal(t, uint(3), c.KDFTime)
	assert.Equal(t, uint(1), c.KDFParallelism)
	assert.Equal(t, "aes256gcm", c.Algorithm)
	assert.Equal(t, 5, c.SyncMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, c.SyncBaseDelay)
	assert.False(t, c.SyncEnabled())
	require.NoError(t, c.Validate())
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	withArgs(t)
	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(defaults(), c))
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_path: /tmp/v.db
cloud_mode: collaborative
backend: s3
s3_bucket: secrets
session_timeout: 1h
kdf:
  memory: 1024
sync:
  max_attempts: 2
  base_delay: 50ms
`), 0o600))
	withArgs(t, "-c", path)

	got, err := LoadConfig()
	require.NoError(t, err)

	want := defaults()
	want.StorePath = "/tmp/v.db"
	want.CloudMode = ModeCollaborative
	want.Backend = BackendS3
	want.S3Bucket = "secrets"
	want.SessionTimeout = time.Hour
	want.KDFMemory = 1024
	want.SyncMaxAttempts = 2
	want.SyncBaseDelay = 50 * time.Millisecond
	assert.Empty(t, cmp.Diff(want, got))
	assert.True(t, got.Collaborative())
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tenant_id":"acme","session_max_lifetime":"48h","conflict_strategy":"prefer_local"}`), 0o600))

	got := defaults()
	require.NoError(t, LoadFile(got, path))

	want := defaults()
	want.TenantID = "acme"
	want.SessionMaxLifetime = 48 * time.Hour
	want.ConflictStrategy = "prefer_local"
	assert.Empty(t, cmp.Diff(want, got))
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0o600))

	require.ErrorIs(t, LoadFile(defaults(), bad), common.ErrInvalidInput)
	require.ErrorIs(t, LoadFile(defaults(), filepath.Join(dir, "missing.json")), common.ErrInvalidInput)
}

func TestBind(t *testing.T) {
	got := defaults()
	fs := Bind(got)
	require.NoError(t, fs.Parse([]string{
		"-store", "x.db", "-mode", "backup", "-backend", "postgres", "-dsn", "postgres://db",
		"-session-timeout", "30m", "-kdf-time", "4", "-conflicts", "prefer_remote", "-c", "ignored.yaml",
	}))

	want := defaults()
	want.StorePath = "x.db"
	want.CloudMode = ModeBackup
	want.Backend = BackendPostgres
	want.DatabaseDSN = "postgres://db"
	want.SessionTimeout = 30 * time.Minute
	want.KDFTime = 4
	want.ConflictStrategy = "prefer_remote"
	assert.Empty(t, cmp.Diff(want, got))

	opts := got.SyncOptions()
	assert.Equal(t, syncer.PreferRemote, opts.Strategy)
	assert.Equal(t, uint32(4), got.KDF().Time)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"cloud mode", func(c *Config) { c.CloudMode = "cloudy" }},
		{"backend", func(c *Config) { c.Backend = "ftp" }},
		{"algorithm", func(c *Config) { c.Algorithm = "rot13" }},
		{"strategy", func(c *Config) { c.ConflictStrategy = "newest" }},
		{"store path", func(c *Config) { c.StorePath = "" }},
		{"session window", func(c *Config) { c.SessionMaxLifetime = time.Minute }},
		{"kdf", func(c *Config) { c.KDFParallelism = 0 }},
		{"attempts", func(c *Config) { c.SyncMaxAttempts = 0 }},
		{"s3 bucket", func(c *Config) { c.CloudMode, c.Backend = ModeBackup, BackendS3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults()
			tt.mutate(c)
			require.ErrorIs(t, c.Validate(), common.ErrInvalidInput)
		})
	}
}
