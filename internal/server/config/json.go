package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/filerelay/internal/flagx"
	"github.com/dmitrijs2005/filerelay/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Pointer and slice
// fields distinguish "absent" from zero so a partial file only overrides
// what it names. Durations accept "90s" style strings or nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP            *string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC            *string         `json:"endpoint_addr_grpc"`
	DatabaseDriver              *string         `json:"database_driver"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	SecretKey                   *string         `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	EncryptionKey               *string         `json:"encryption_key"`
	EncryptionKeySalt           *string         `json:"encryption_key_salt"`
	StorageBackend              *string         `json:"storage_backend"`
	StoragePath                 *string         `json:"storage_path"`
	ScratchPath                 *string         `json:"scratch_path"`
	S3RootUser                  *string         `json:"s3_root_user"`
	S3RootPassword              *string         `json:"s3_root_password"`
	S3Bucket                    *string         `json:"s3_bucket"`
	S3Region                    *string         `json:"s3_region"`
	S3BaseEndpoint              *string         `json:"s3_base_endpoint"`
	MaxUploadSize               *int64          `json:"max_upload_size"`
	AllowedTypes                []string        `json:"allowed_types"`
	AllowedOrigins              []string        `json:"allowed_origins"`
	StorageWorkers              *int            `json:"storage_workers"`
	SessionIdleTimeout          *timex.Duration `json:"session_idle_timeout"`
	RateLimitRequests           *int            `json:"rate_limit_requests"`
	RateLimitWindow             *timex.Duration `json:"rate_limit_window"`
	LogLevel                    *string         `json:"log_level"`
	LogFormat                   *string         `json:"log_format"`
}

// parseJson overlays values from the JSON file given with -c/-config.
// Without the flag nothing happens; an unreadable or invalid file panics,
// as a misconfigured server must not start.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.EncryptionKey, c.EncryptionKey)
	setString(&config.EncryptionKeySalt, c.EncryptionKeySalt)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.StoragePath, c.StoragePath)
	setString(&config.ScratchPath, c.ScratchPath)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)

	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.SessionIdleTimeout != nil {
		config.SessionIdleTimeout = c.SessionIdleTimeout.Duration
	}
	if c.RateLimitWindow != nil {
		config.RateLimitWindow = c.RateLimitWindow.Duration
	}
	if c.RateLimitRequests != nil {
		config.RateLimitRequests = *c.RateLimitRequests
	}
	if c.MaxUploadSize != nil {
		config.MaxUploadSize = *c.MaxUploadSize
	}
	if c.StorageWorkers != nil {
		config.StorageWorkers = *c.StorageWorkers
	}
	if c.AllowedTypes != nil {
		config.AllowedTypes = c.AllowedTypes
	}
	if c.AllowedOrigins != nil {
		config.AllowedOrigins = c.AllowedOrigins
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
