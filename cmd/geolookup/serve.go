package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/TomasB/geolookup/internal/clientip"
	"github.com/TomasB/geolookup/internal/config"
	"github.com/TomasB/geolookup/internal/data"
	grpchandler "github.com/TomasB/geolookup/internal/handler/grpc"
	"github.com/TomasB/geolookup/internal/logging"
	"github.com/TomasB/geolookup/internal/lookup"
	"github.com/TomasB/geolookup/internal/metrics"
	"github.com/TomasB/geolookup/internal/server"
	"github.com/TomasB/geolookup/internal/watch"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger, err := logging.Setup(a.stdout, level, cfg.Log.Format)
	if err != nil {
		return err
	}

	slog.Info("service starting", "log_level", level.String(), "datasets", len(cfg.Sources()))

	// Set Gin mode based on log level
	if level == slog.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve loads the datasets, then runs every listener until ctx is done.
// No listener is opened before the registry is complete, and the registry
// is closed only once every server has stopped.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	registry := data.Open(cfg.Sources(), data.HandleOptions{Verify: cfg.Datasets.Verify}, logger)
	var forced bool
	defer func() {
		if forced {
			// Handlers may still be reading the mapped files.
			logger.Warn("servers were stopped forcibly, datasets stay mapped until exit")
			return
		}
		registry.Close()
	}()

	status := registry.Health()
	for kind, loaded := range status.Datasets {
		m.SetDatasetLoaded(kind.String(), loaded)
	}
	if !status.AnyLoaded() {
		logger.Error("no dataset loaded, every lookup will be unavailable")
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	resolver, err := clientip.NewResolver(policy, clientip.WithLogger(logger), clientip.WithMetrics(m))
	if err != nil {
		return err
	}
	orchestrator := lookup.New(registry,
		lookup.WithLanguage(cfg.Language),
		lookup.WithLogger(logger),
		lookup.WithMetrics(m),
	)

	router, err := server.NewRouter(server.Deps{
		Reporter:           registry,
		Orchestrator:       orchestrator,
		Resolver:           resolver,
		RequireAllDatasets: cfg.RequireAllDatasets,
		Logger:             logger,
		Metrics:            m,
		Gatherer:           promReg,
	})
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}

	var glis net.Listener
	if addr := cfg.GRPCListenAddr(); addr != "" {
		glis, err = net.Listen("tcp", addr)
		if err != nil {
			lis.Close()
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{Handler: router}
	g.Go(func() error {
		return server.Serve(gctx, srv, lis, server.ShutdownTimeout)
	})

	if glis != nil {
		gs := grpchandler.NewServer(
			grpchandler.NewHandler(orchestrator, resolver),
			grpchandler.NewHealthServer(status, cfg.RequireAllDatasets),
			logger,
		)
		g.Go(func() error {
			return grpchandler.Serve(gctx, gs, glis, server.ShutdownTimeout)
		})
	}

	if cfg.Datasets.Watch && len(cfg.Sources()) > 0 {
		w, err := watch.New(cfg.Sources(), watch.WarnRestart(logger), logger)
		if err != nil {
			logger.Warn("dataset watcher disabled", "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if err := g.Wait(); err != nil {
		forced = errors.Is(err, server.ErrForcedShutdown) || errors.Is(err, grpchandler.ErrForcedStop)
		return err
	}

	slog.Info("service stopped")
	return nil
}
