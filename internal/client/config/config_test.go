package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, "http://127.0.0.1:8080", c.HTTPBaseURL)
	assert.Equal(t, 64*1024, c.ChunkSize)
	assert.Equal(t, 10*time.Minute, c.TransferTimeout)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	t.Setenv("FILERELAY_TOKEN", "env-token")
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr)
	assert.Equal(t, "env-token", cfg.AccessToken)
}

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestParseJsonThenFlags(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"server_endpoint_addr": "relay:6000",
		"http_base_url":        "https://relay.example",
		"chunk_size":           1024,
		"transfer_timeout":     "30s",
	})

	cfg := &Config{}
	cfg.LoadDefaults()
	args := []string{"send", "-c", path, "-k", "8", "-t", "tok", "bob", "a.pdf"}
	parseJson(cfg, args)
	parseFlags(cfg, args)

	want := &Config{
		ServerEndpointAddr: "relay:6000",
		HTTPBaseURL:        "https://relay.example",
		AccessToken:        "tok",
		ChunkSize:          8 * 1024,
		TransferTimeout:    30 * time.Second,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJson_PartialFileKeepsDefaults(t *testing.T) {
	path := writeTempJSON(t, map[string]any{"chunk_size": 2048})

	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, []string{"-config=" + path})

	assert.Equal(t, 2048, cfg.ChunkSize)
	assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr)
}

func TestParseJson_BadFilePanics(t *testing.T) {
	cfg := &Config{}
	assert.Panics(t, func() { parseJson(cfg, []string{"-c", filepath.Join(t.TempDir(), "missing.json")}) })
}

func TestParseFlags_IgnoresZeroChunk(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg, []string{"-k", "0"})
	assert.Equal(t, 64*1024, cfg.ChunkSize)
}
