package config

import (
	"flag"

	"github.com/dmitrijs2005/filerelay/internal/flagx"
)

var clientFlags = []string{"-a", "-u", "-t", "-k"}

// parseFlags populates selected Config fields from command-line flags.
// Only -a, -u, -t and -k are looked at, so positional command arguments
// pass through untouched.
func parseFlags(cfg *Config, args []string) {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port of the relay")
	fs.StringVar(&cfg.HTTPBaseURL, "u", cfg.HTTPBaseURL, "base URL of the HTTP API")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	chunkKiB := fs.Int("k", cfg.ChunkSize/1024, "chunk size (in KiB)")

	if err := fs.Parse(flagx.FilterArgs(args, clientFlags)); err != nil {
		panic(err)
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "k" && *chunkKiB > 0 {
			cfg.ChunkSize = *chunkKiB * 1024
		}
	})
}
