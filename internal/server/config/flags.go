package config

import (
	"flag"
	"strings"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/flagx"
)

var serverFlags = []string{"-a", "-r", "-db", "-d", "-s", "-k", "-b", "-o", "-m", "-w", "-i", "-q", "-l"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP/websocket bind address (e.g. ":8080")
//	-r string   gRPC relay bind address ("" disables)
//	-db string  record store driver: memory, postgres, sqlite
//	-d string   database DSN
//	-s string   JWT HMAC secret key
//	-k string   at-rest encryption key (hex or passphrase)
//	-b string   storage backend: local, s3
//	-o string   local object directory
//	-m int      maximum upload size, MiB
//	-w int      storage worker slots
//	-i int      relay session idle timeout, seconds (0 disables)
//	-q int      requests per client IP per rate limit window (0 disables)
//	-l string   log level
//
// Only these flags are looked at; everything else in args is ignored.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to serve HTTP and websocket")
	fs.StringVar(&config.EndpointAddrGRPC, "r", config.EndpointAddrGRPC, "address and port to serve the gRPC relay")
	fs.StringVar(&config.DatabaseDriver, "db", config.DatabaseDriver, "record store driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.EncryptionKey, "k", config.EncryptionKey, "at-rest encryption key")
	fs.StringVar(&config.StorageBackend, "b", config.StorageBackend, "storage backend")
	fs.StringVar(&config.StoragePath, "o", config.StoragePath, "local object directory")

	maxUpload := fs.Int64("m", config.MaxUploadSize>>20, "max upload size (in MiB)")
	fs.IntVar(&config.StorageWorkers, "w", config.StorageWorkers, "storage worker slots")
	idle := fs.Int("i", int(config.SessionIdleTimeout.Seconds()), "session idle timeout (in seconds)")
	fs.IntVar(&config.RateLimitRequests, "q", config.RateLimitRequests, "requests per client per rate limit window")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(flagx.FilterArgs(args, serverFlags)); err != nil {
		panic(err)
	}

	// Unit-converted flags only apply when given, so finer-grained values
	// from the JSON file survive.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "m":
			config.MaxUploadSize = *maxUpload << 20
		case "i":
			config.SessionIdleTimeout = time.Duration(*idle) * time.Second
		}
	})
	config.DatabaseDriver = strings.ToLower(config.DatabaseDriver)
}

// parseEnv lets deployments keep secrets out of argv and config files.
func parseEnv(config *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("FILERELAY_SECRET_KEY"); ok {
		config.SecretKey = v
	}
	if v, ok := lookup("FILERELAY_ENCRYPTION_KEY"); ok {
		config.EncryptionKey = v
	}
	if v, ok := lookup("FILERELAY_DATABASE_DSN"); ok {
		config.DatabaseDSN = v
	}
	if v, ok := lookup("FILERELAY_S3_ROOT_PASSWORD"); ok {
		config.S3RootPassword = v
	}
}
