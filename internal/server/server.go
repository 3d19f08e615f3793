// Package server assembles the HTTP surface and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/TomasB/geolookup/internal/handler/health"
	lookuphandler "github.com/TomasB/geolookup/internal/handler/lookup"
	"github.com/TomasB/geolookup/internal/logging"
	"github.com/TomasB/geolookup/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// ErrForcedShutdown is returned by Serve when requests were still running
// once the shutdown timeout elapsed.
var ErrForcedShutdown = errors.New("forced shutdown")

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Reporter           health.Reporter
	Orchestrator       lookuphandler.Orchestrator
	Resolver           lookuphandler.Resolver
	RequireAllDatasets bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. nil leaves the route out.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) (*gin.Engine, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()

	// Client addresses are decided by clientip only.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("disable gin proxy trust: %w", err)
	}

	router.Use(logging.GinLogger(logger))
	router.Use(d.Metrics.Middleware())
	router.Use(gin.Recovery())

	healthHandler := health.NewHandler(d.Reporter, d.RequireAllDatasets)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/ping", healthHandler.Ping)

	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))
	}

	lookupHandler := lookuphandler.NewHandler(d.Orchestrator, d.Resolver)
	api := router.Group("/api/v1")
	{
		api.GET("/address", lookupHandler.Self)
		api.GET("/address/", lookupHandler.Self)
		api.GET("/address/:address", lookupHandler.Address)
		api.GET("/datasets", healthHandler.Datasets)
	}

	return router, nil
}

// Serve runs srv on lis until ctx is done, then shuts it down gracefully
// within timeout. Connections still open after that are closed and
// ErrForcedShutdown is returned.
func Serve(ctx context.Context, srv *http.Server, lis net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server started", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("http server: %w: %v", ErrForcedShutdown, err)
	}

	slog.Info("http server stopped")
	return nil
}
