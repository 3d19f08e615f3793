package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/TomasB/geolookup/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := newRootCommand(a).Execute(); err != nil {
		slog.Error("geolookup failed", "error", err)
		os.Exit(1)
	}
}

// options are the raw command line values. Only flags set explicitly
// override the file and environment.
type options struct {
	configFile string
	envFile    string

	addr           string
	port           int
	grpcPort       int
	asnFile        string
	cityFile       string
	verify         bool
	watch          bool
	requireAll     bool
	language       string
	trusted        []string
	headers        []string
	chainSelection string
	logLevel       string
	logFormat      string
	verbose        bool
	debug          bool
}

type app struct {
	opts   options
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "geolookup",
		Short:         "Resolve IP addresses to network owner and location",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          a.runServe,
	}

	def := config.Default()
	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.configFile, "config", "", "YAML configuration file")
	pf.StringVar(&a.opts.envFile, "env-file", "", "dotenv file to load (default .env if present)")
	pf.StringVar(&a.opts.addr, "addr", def.Addr, "listen address")
	pf.IntVarP(&a.opts.port, "port", "p", def.Port, "HTTP port")
	pf.IntVar(&a.opts.grpcPort, "grpc-port", def.GRPCPort, "gRPC port, 0 disables")
	pf.StringVar(&a.opts.asnFile, "asn-database-file", def.Datasets.ASN, "ASN database, empty disables")
	pf.StringVar(&a.opts.cityFile, "city-database-file", def.Datasets.City, "City database, empty disables")
	pf.BoolVar(&a.opts.verify, "verify-databases", def.Datasets.Verify, "verify database structure at startup")
	pf.BoolVar(&a.opts.watch, "watch-databases", def.Datasets.Watch, "warn when a database file changes on disk")
	pf.BoolVar(&a.opts.requireAll, "require-all-datasets", def.RequireAllDatasets, "report unhealthy unless every dataset loaded")
	pf.StringVar(&a.opts.language, "language", def.Language, "language of place names")
	pf.StringSliceVar(&a.opts.trusted, "trusted-proxy", nil, "proxy address or CIDR allowed to set forwarding headers (repeatable)")
	pf.StringSliceVar(&a.opts.headers, "proxy-header", nil, "forwarding header to consult, in priority order (repeatable)")
	pf.StringVar(&a.opts.chainSelection, "proxy-chain-selection", def.Proxy.ChainSelection, "leftmost or rightmost-untrusted")
	pf.StringVar(&a.opts.logLevel, "log-level", def.Log.Level, "debug, info, warn or error")
	pf.StringVar(&a.opts.logFormat, "log-format", def.Log.Format, "json or text")
	pf.BoolVarP(&a.opts.verbose, "verbose", "v", false, "log at info level")
	pf.BoolVar(&a.opts.debug, "debug", false, "log at debug level")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the lookup service (default)",
			Args:  cobra.NoArgs,
			RunE:  a.runServe,
		},
		&cobra.Command{
			Use:   "lookup ADDRESS...",
			Short: "Look addresses up and print one JSON document per line",
			Args:  cobra.MinimumNArgs(1),
			RunE:  a.runLookup,
		},
		&cobra.Command{
			Use:   "datasets",
			Short: "Print dataset metadata as JSON",
			Args:  cobra.NoArgs,
			RunE:  a.runDatasets,
		},
	)

	return root
}

// loadConfig layers defaults, the config file, the environment and the
// flags set on cmd.
func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if a.opts.envFile != "" {
		if err := godotenv.Load(a.opts.envFile); err != nil {
			return config.Config{}, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(a.opts.configFile)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}

	a.applyFlags(cmd.Flags(), &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *app) applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	o := a.opts
	set := fs.Changed

	if set("addr") {
		cfg.Addr = o.addr
	}
	if set("port") {
		cfg.Port = o.port
	}
	if set("grpc-port") {
		cfg.GRPCPort = o.grpcPort
	}
	if set("asn-database-file") {
		cfg.Datasets.ASN = o.asnFile
	}
	if set("city-database-file") {
		cfg.Datasets.City = o.cityFile
	}
	if set("verify-databases") {
		cfg.Datasets.Verify = o.verify
	}
	if set("watch-databases") {
		cfg.Datasets.Watch = o.watch
	}
	if set("require-all-datasets") {
		cfg.RequireAllDatasets = o.requireAll
	}
	if set("language") {
		cfg.Language = o.language
	}
	if set("trusted-proxy") {
		cfg.Proxy.Trusted = o.trusted
	}
	if set("proxy-header") {
		cfg.Proxy.Headers = o.headers
	}
	if set("proxy-chain-selection") {
		cfg.Proxy.ChainSelection = o.chainSelection
	}
	if set("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if o.verbose {
		cfg.Log.Level = "info"
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
	if set("log-format") {
		cfg.Log.Format = o.logFormat
	}
}
