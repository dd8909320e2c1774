package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/flagx"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string             gRPC bind address (e.g., ":50051")
//	-m string             metrics bind address, empty disables
//	-storage string       bolt, postgres, s3 or memory
//	-f string             bolt file
//	-d string             PostgreSQL DSN
//	-s string             JWT HMAC secret key
//	-t int                device token validity, hours
//	-u string             S3 root user
//	-p string             S3 root password
//	-b string             S3 bucket name
//	-g string             S3 region
//	-e string             S3 base endpoint
//	-l string             log level
//	-issue-token string   print a device token for this tenant and exit
//	-device string        device id put into the issued token
//
// Only the flags above are picked out of os.Args via flagx.FilterArgs, so -c
// and unrelated flags do not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:],
		"a", "m", "storage", "f", "d", "s", "t",
		"u", "p", "b", "g", "e", "l", "issue-token", "device",
	)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address for the metrics endpoint")
	fs.StringVar(&config.Storage, "storage", config.Storage, "storage backend")
	fs.StringVar(&config.BoltPath, "f", config.BoltPath, "bolt file")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("t", int(config.TokenValidityDuration.Hours()), "device token validity (in hours)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.IssueTokenTenant, "issue-token", config.IssueTokenTenant, "issue a device token for tenant")
	fs.StringVar(&config.IssueTokenDevice, "device", config.IssueTokenDevice, "device id for -issue-token")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Hour
}
