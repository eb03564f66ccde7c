package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the filerelay client.
type Config struct {
	ServerEndpointAddr string
	HTTPBaseURL        string
	AccessToken        string
	ChunkSize          int
	TransferTimeout    time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.HTTPBaseURL = "http://127.0.0.1:8080"
	c.AccessToken = ""
	c.ChunkSize = 64 * 1024
	c.TransferTimeout = 10 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), command-line flags and the environment. Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, os.Args[1:])
	parseFlags(cfg, os.Args[1:])
	if v, ok := os.LookupEnv("FILERELAY_TOKEN"); ok {
		cfg.AccessToken = v
	}
	return cfg
}
