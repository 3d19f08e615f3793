package main

import (
	"encoding/json"
	"fmt"

	"github.com/TomasB/geolookup/internal/clientip"
	"github.com/TomasB/geolookup/internal/config"
	"github.com/TomasB/geolookup/internal/data"
	lookuphandler "github.com/TomasB/geolookup/internal/handler/lookup"
	"github.com/TomasB/geolookup/internal/logging"
	"github.com/TomasB/geolookup/internal/lookup"
	"github.com/spf13/cobra"
)

// openRegistry loads the datasets for the one-shot commands, logging to
// stderr.
func (a *app) openRegistry(cmd *cobra.Command) (*data.Registry, config.Config, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger, err := logging.New(a.stderr, level, cfg.Log.Format)
	if err != nil {
		return nil, cfg, err
	}

	return data.Open(cfg.Sources(), data.HandleOptions{Verify: cfg.Datasets.Verify}, logger), cfg, nil
}

func (a *app) runLookup(cmd *cobra.Command, args []string) error {
	registry, cfg, err := a.openRegistry(cmd)
	if err != nil {
		return err
	}
	defer registry.Close()

	resolver, err := clientip.NewResolver(clientip.Policy{})
	if err != nil {
		return err
	}
	orchestrator := lookup.New(registry, lookup.WithLanguage(cfg.Language))
	enc := json.NewEncoder(cmd.OutOrStdout())

	var invalid int
	for _, raw := range args {
		addr, err := resolver.ResolveExplicit(raw)
		if err != nil {
			invalid++
			if err := enc.Encode(lookuphandler.ErrorResponse{Outcome: lookup.InvalidAddress, Error: err.Error()}); err != nil {
				return err
			}
			continue
		}
		if err := enc.Encode(orchestrator.Resolve(addr)); err != nil {
			return err
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d invalid address(es)", invalid)
	}
	return nil
}

func (a *app) runDatasets(cmd *cobra.Command, _ []string) error {
	registry, _, err := a.openRegistry(cmd)
	if err != nil {
		return err
	}
	defer registry.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(registry.Datasets())
}
