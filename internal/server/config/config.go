// Package config handles configuration for the relay server: defaults,
// then a JSON overlay, then command-line flags, then FILERELAY_* secrets
// from the environment.
package config

import (
	"os"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/common"
)

// Database drivers understood by repomanager.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Storage backends understood by storage.NewBackend.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// DefaultAllowedTypes is the MIME allow-list used when none is configured.
var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/zip",
	"application/json",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
	"text/csv",
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"audio/mpeg",
	"video/mp4",
}

// Config holds runtime settings for the relay server.
//
// Fields:
//   - EndpointAddrHTTP / EndpointAddrGRPC: bind addresses for the HTTP+websocket
//     and gRPC relay endpoints ("" disables gRPC).
//   - DatabaseDriver / DatabaseDSN: transfer record store ("memory", "postgres", "sqlite").
//   - SecretKey: HMAC secret for verifying identity JWTs (HS256).
//   - EncryptionKey: at-rest key, 64 hex chars or a passphrase stretched with
//     EncryptionKeySalt. Empty generates a per-process key.
//   - StorageBackend, StoragePath, ScratchPath: where encrypted objects and
//     transient plaintext live.
//   - S3*: object storage settings for the "s3" backend.
//   - MaxUploadSize / AllowedTypes: upload validation.
//   - StorageWorkers: concurrent encrypt/decrypt jobs.
//   - SessionIdleTimeout: relay sessions without activity for this long are failed (0 disables).
//   - RateLimitRequests / RateLimitWindow: requests one client IP may make to
//     /api and /ws per window (0 requests disables).
type Config struct {
	EndpointAddrHTTP            string
	EndpointAddrGRPC            string
	DatabaseDriver              string
	DatabaseDSN                 string
	SecretKey                   string
	AccessTokenValidityDuration time.Duration
	EncryptionKey               string
	EncryptionKeySalt           string
	StorageBackend              string
	StoragePath                 string
	ScratchPath                 string
	S3RootUser                  string
	S3RootPassword              string
	S3Bucket                    string
	S3Region                    string
	S3BaseEndpoint              string
	MaxUploadSize               int64
	AllowedTypes                []string
	AllowedOrigins              []string
	StorageWorkers              int
	SessionIdleTimeout          time.Duration
	RateLimitRequests           int
	RateLimitWindow             time.Duration
	LogLevel                    string
	LogFormat                   string
}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey and the empty EncryptionKey are unsuitable for production.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDriver = DriverMemory
	c.DatabaseDSN = ""
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 24 * time.Hour
	c.EncryptionKey = ""
	c.EncryptionKeySalt = "filerelay"
	c.StorageBackend = BackendLocal
	c.StoragePath = "./data/objects"
	c.ScratchPath = "./data/scratch"
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "filerelay"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.MaxUploadSize = 50 * common.MiB
	c.AllowedTypes = append([]string(nil), DefaultAllowedTypes...)
	c.AllowedOrigins = []string{"http://localhost:3000"}
	c.StorageWorkers = 4
	c.SessionIdleTimeout = 2 * time.Minute
	c.RateLimitRequests = 100
	c.RateLimitWindow = 15 * time.Minute
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// LoadConfig builds a Config from defaults, the optional JSON file named by
// -c/-config, command-line flags and finally environment secrets.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, os.Args[1:])
	parseFlags(cfg, os.Args[1:])
	parseEnv(cfg, os.LookupEnv)
	return cfg
}
