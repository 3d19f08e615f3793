// Package config holds the service configuration. Values are layered:
// built-in defaults, then an optional YAML file, then environment
// variables. Command line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/TomasB/geolookup/internal/clientip"
	"github.com/TomasB/geolookup/internal/data"
	"github.com/TomasB/geolookup/internal/logging"
	"golang.org/x/net/http/httpguts"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Addr               string   `yaml:"addr"`
	Port               int      `yaml:"port"`
	GRPCPort           int      `yaml:"grpc_port"`
	Datasets           Datasets `yaml:"datasets"`
	RequireAllDatasets bool     `yaml:"require_all_datasets"`
	Language           string   `yaml:"language"`
	Proxy              Proxy    `yaml:"proxy"`
	Log                Log      `yaml:"log"`
}

// Datasets locates the database files. An empty path disables the dataset.
type Datasets struct {
	ASN    string `yaml:"asn"`
	City   string `yaml:"city"`
	Verify bool   `yaml:"verify"`
	Watch  bool   `yaml:"watch"`
}

// Proxy is the forwarding header trust configuration.
type Proxy struct {
	Trusted        []string `yaml:"trusted"`
	Headers        []string `yaml:"headers"`
	ChainSelection string   `yaml:"chain_selection"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:     "0.0.0.0",
		Port:     8888,
		GRPCPort: 0,
		Datasets: Datasets{
			ASN:   "GeoLite2-ASN.mmdb",
			City:  "GeoLite2-City.mmdb",
			Watch: true,
		},
		Language: "en",
		Proxy: Proxy{
			Headers:        append([]string(nil), clientip.DefaultHeaders...),
			ChainSelection: clientip.Leftmost.String(),
		},
		Log: Log{
			Level:  "warn",
			Format: logging.FormatJSON,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overlays environment variables. lookup has the signature of
// os.LookupEnv; a variable that is set but empty still applies, which is how
// a dataset is disabled from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = SplitList(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("LISTEN_ADDR", &c.Addr)
	str("MMDB_ASN_PATH", &c.Datasets.ASN)
	str("MMDB_CITY_PATH", &c.Datasets.City)
	str("GEO_LANGUAGE", &c.Language)
	str("PROXY_CHAIN_SELECTION", &c.Proxy.ChainSelection)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	list("TRUSTED_PROXIES", &c.Proxy.Trusted)
	list("PROXY_HEADERS", &c.Proxy.Headers)

	return errors.Join(
		num("PORT", &c.Port),
		num("GRPC_PORT", &c.GRPCPort),
		flag("MMDB_VERIFY", &c.Datasets.Verify),
		flag("MMDB_WATCH", &c.Datasets.Watch),
		flag("REQUIRE_ALL_DATASETS", &c.RequireAllDatasets),
	)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc_port %d out of range", c.GRPCPort))
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.Port {
		errs = append(errs, fmt.Errorf("grpc_port must differ from port %d", c.Port))
	}
	if _, err := clientip.ParseTrusted(c.Proxy.Trusted); err != nil {
		errs = append(errs, err)
	}
	for _, h := range c.Proxy.Headers {
		if !httpguts.ValidHeaderFieldName(h) {
			errs = append(errs, fmt.Errorf("invalid proxy header name %q", h))
		}
	}
	if _, err := clientip.ParseChainSelection(c.Proxy.ChainSelection); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatJSON, logging.FormatText:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Sources lists the enabled datasets.
func (c Config) Sources() []data.Source {
	var sources []data.Source
	if c.Datasets.ASN != "" {
		sources = append(sources, data.Source{Kind: data.NetworkOwnership, Path: c.Datasets.ASN})
	}
	if c.Datasets.City != "" {
		sources = append(sources, data.Source{Kind: data.CityGeo, Path: c.Datasets.City})
	}
	return sources
}

// Policy builds the proxy trust policy.
func (c Config) Policy() (clientip.Policy, error) {
	trusted, err := clientip.ParseTrusted(c.Proxy.Trusted)
	if err != nil {
		return clientip.Policy{}, err
	}
	selection, err := clientip.ParseChainSelection(c.Proxy.ChainSelection)
	if err != nil {
		return clientip.Policy{}, err
	}
	return clientip.Policy{
		Trusted:   trusted,
		Headers:   append([]string(nil), c.Proxy.Headers...),
		Selection: selection,
	}, nil
}

// ListenAddr is the HTTP listen address.
func (c Config) ListenAddr() string {
	return joinHostPort(c.Addr, c.Port)
}

// GRPCListenAddr is the gRPC listen address, or "" when gRPC is disabled.
func (c Config) GRPCListenAddr() string {
	if c.GRPCPort == 0 {
		return ""
	}
	return joinHostPort(c.Addr, c.GRPCPort)
}

// SplitList splits a comma separated list, dropping empty elements.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
