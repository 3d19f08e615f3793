package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TomasB/geolookup/internal/clientip"
	"github.com/TomasB/geolookup/internal/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geolookup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0", cfg.Addr)
	assert.Equal(t, 8888, cfg.Port)
	assert.Equal(t, 0, cfg.GRPCPort)
	assert.Equal(t, "GeoLite2-ASN.mmdb", cfg.Datasets.ASN)
	assert.Equal(t, "GeoLite2-City.mmdb", cfg.Datasets.City)
	assert.True(t, cfg.Datasets.Watch)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"X-Forwarded-For"}, cfg.Proxy.Headers)
	assert.Equal(t, "leftmost", cfg.Proxy.ChainSelection)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8888", cfg.ListenAddr())
	assert.Empty(t, cfg.GRPCListenAddr())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
port: 9000
grpc_port: 9001
datasets:
  asn: /data/asn.mmdb
  city: ""
require_all_datasets: true
proxy:
  trusted: ["10.0.0.0/8", "192.0.2.1"]
  headers: [X-Real-IP]
  chain_selection: rightmost-untrusted
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Addr, "unset keys keep defaults")
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "0.0.0.0:9001", cfg.GRPCListenAddr())
	assert.Equal(t, "/data/asn.mmdb", cfg.Datasets.ASN)
	assert.Empty(t, cfg.Datasets.City)
	assert.True(t, cfg.Datasets.Watch)
	assert.True(t, cfg.RequireAllDatasets)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Proxy.Trusted)
	assert.Equal(t, []string{"X-Real-IP"}, cfg.Proxy.Headers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, []data.Source{{Kind: data.NetworkOwnership, Path: "/data/asn.mmdb"}}, cfg.Sources())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "listen_port: 80\n"))
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Load(writeFile(t, "port: 9000\nlanguage: de\n"))
	require.NoError(t, err)

	err = cfg.ApplyEnv(envMap(map[string]string{
		"PORT":                 "7000",
		"MMDB_CITY_PATH":       "",
		"TRUSTED_PROXIES":      "10.0.0.1, 172.16.0.0/12,,",
		"PROXY_HEADERS":        "Forwarded,X-Forwarded-For",
		"REQUIRE_ALL_DATASETS": "true",
		"MMDB_WATCH":           "false",
		"LOG_LEVEL":            "info",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port, "env overrides file")
	assert.Equal(t, "de", cfg.Language, "file value kept when env unset")
	assert.Empty(t, cfg.Datasets.City, "empty env var disables dataset")
	assert.Equal(t, "GeoLite2-ASN.mmdb", cfg.Datasets.ASN)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.Proxy.Trusted)
	assert.Equal(t, []string{"Forwarded", "X-Forwarded-For"}, cfg.Proxy.Headers)
	assert.True(t, cfg.RequireAllDatasets)
	assert.False(t, cfg.Datasets.Watch)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestApplyEnvInvalid(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PORT":        "http",
		"MMDB_VERIFY": "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "MMDB_VERIFY")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"negative grpc port", func(c *Config) { c.GRPCPort = -1 }},
		{"grpc port clash", func(c *Config) { c.GRPCPort = c.Port }},
		{"bad trusted proxy", func(c *Config) { c.Proxy.Trusted = []string{"10.0.0.0/33"} }},
		{"bad header", func(c *Config) { c.Proxy.Headers = []string{"X Forwarded"} }},
		{"bad chain selection", func(c *Config) { c.Proxy.ChainSelection = "middle" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSourcesDisabled(t *testing.T) {
	cfg := Default()
	cfg.Datasets.ASN = ""
	cfg.Datasets.City = ""
	assert.Empty(t, cfg.Sources())

	cfg = Default()
	assert.Equal(t, []data.Source{
		{Kind: data.NetworkOwnership, Path: "GeoLite2-ASN.mmdb"},
		{Kind: data.CityGeo, Path: "GeoLite2-City.mmdb"},
	}, cfg.Sources())
}

func TestPolicy(t *testing.T) {
	cfg := Default()
	cfg.Proxy.Trusted = []string{"10.0.0.0/8"}
	cfg.Proxy.ChainSelection = "rightmost-untrusted"

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, clientip.RightmostUntrusted, p.Selection)
	assert.Equal(t, []string{"X-Forwarded-For"}, p.Headers)
	require.NotNil(t, p.Trusted)

	cfg.Proxy.Trusted = []string{"nonsense"}
	_, err = cfg.Policy()
	assert.Error(t, err)
}

func TestListenAddrIPv6(t *testing.T) {
	cfg := Default()
	cfg.Addr = "::"
	assert.Equal(t, "[::]:8888", cfg.ListenAddr())
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,, b "))
}
