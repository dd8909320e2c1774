package config

import (
	"flag"
)

// Bind registers flags for every Config field on a new flag set, using the
// current values as defaults. Parsing the set overrides those fields; the
// set is usually handed to cobra through AddGoFlagSet.
//
// -c/-config is registered too so the file path is accepted, but the file
// itself is read earlier by LoadConfig.
func Bind(config *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("vault", flag.ContinueOnError)

	var path string
	fs.StringVar(&path, "config", "", "path to a JSON or YAML config file")
	fs.StringVar(&path, "c", "", "path to a config file (short)")

	fs.StringVar(&config.StorePath, "store", config.StorePath, "local store file")
	fs.StringVar(&config.TenantID, "tenant", config.TenantID, "default tenant id")
	fs.StringVar(&config.Email, "email", config.Email, "default user email")
	fs.StringVar(&config.DeviceID, "device", config.DeviceID, "device id override")
	fs.StringVar(&config.CloudMode, "mode", config.CloudMode, "cloud mode: none, backup or collaborative")
	fs.StringVar(&config.Backend, "backend", config.Backend, "sync backend: memory, bolt, postgres, s3 or grpc")
	fs.StringVar(&config.BoltPath, "bolt", config.BoltPath, "bolt backend file")
	fs.StringVar(&config.DatabaseDSN, "dsn", config.DatabaseDSN, "postgres backend DSN")
	fs.StringVar(&config.S3Bucket, "s3-bucket", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Prefix, "s3-prefix", config.S3Prefix, "S3 key prefix")
	fs.StringVar(&config.S3Region, "s3-region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3Endpoint, "s3-endpoint", config.S3Endpoint, "S3 endpoint override")
	fs.StringVar(&config.S3AccessKey, "s3-access-key", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "s3-secret-key", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.ServerAddr, "server", config.ServerAddr, "sync server address")
	fs.StringVar(&config.ServerToken, "server-token", config.ServerToken, "sync server device token")
	fs.DurationVar(&config.SessionTimeout, "session-timeout", config.SessionTimeout, "session idle timeout")
	fs.DurationVar(&config.SessionMaxLifetime, "session-max-lifetime", config.SessionMaxLifetime, "session absolute lifetime")
	fs.UintVar(&config.KDFMemory, "kdf-memory", config.KDFMemory, "argon2id memory (KiB)")
	fs.UintVar(&config.KDFTime, "kdf-time", config.KDFTime, "argon2id passes")
	fs.UintVar(&config.KDFParallelism, "kdf-parallelism", config.KDFParallelism, "argon2id lanes")
	fs.StringVar(&config.Algorithm, "algorithm", config.Algorithm, "aes256gcm or chacha20poly1305")
	fs.StringVar(&config.ConflictStrategy, "conflicts", config.ConflictStrategy, "lww, prefer_local or prefer_remote")
	fs.IntVar(&config.SyncMaxAttempts, "sync-attempts", config.SyncMaxAttempts, "tries per sync call")
	fs.DurationVar(&config.SyncBaseDelay, "sync-delay", config.SyncBaseDelay, "first sync retry delay")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	return fs
}
