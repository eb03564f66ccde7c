// Package config loads runtime configuration for the filerelay client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//  4. FILERELAY_TOKEN, when set, supplies the access token.
//
// Supported flags
//
//	-a string   address:port of the gRPC relay endpoint
//	-u string   base URL of the HTTP API
//	-t string   access token
//	-k int      relay chunk size (KiB)
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "http_base_url": "http://127.0.0.1:8080",
//	  "chunk_size": 65536,
//	  "transfer_timeout": "10m"
//	}
package config
