package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/filerelay/internal/flagx"
	"github.com/dmitrijs2005/filerelay/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent
// fields keep their current value.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	HTTPBaseURL        string         `json:"http_base_url"`
	ChunkSize          int            `json:"chunk_size"`
	TransferTimeout    timex.Duration `json:"transfer_timeout"`
}

// parseJson overlays cfg with values loaded from the file named by -c or
// -config. Panics on read or unmarshal errors.
func parseJson(cfg *Config, args []string) {
	jsonConfigFile := flagx.ConfigPath(args)
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.HTTPBaseURL != "" {
		cfg.HTTPBaseURL = jc.HTTPBaseURL
	}
	if jc.ChunkSize > 0 {
		cfg.ChunkSize = jc.ChunkSize
	}
	if jc.TransferTimeout.Duration > 0 {
		cfg.TransferTimeout = jc.TransferTimeout.Duration
	}
}
