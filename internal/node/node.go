// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/tally"
	"github.com/blinklabs-io/tally/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewEngine builds an engine from the loaded configuration
func NewEngine(
	cfg *config.Config,
	logger *slog.Logger,
	opts ...tally.ConfigOptionFunc,
) (*tally.Engine, error) {
	addrs, err := cfg.Contracts.Addresses()
	if err != nil {
		return nil, err
	}
	return tally.New(
		tally.NewConfig(
			append(
				[]tally.ConfigOptionFunc{
					tally.WithLogger(logger),
					tally.WithRPCURL(cfg.RPCURL),
					tally.WithContracts(addrs),
					tally.WithIndexerURL(cfg.IndexerURL),
					tally.WithPriceURL(cfg.PriceURL),
					tally.WithPriceCacheTTL(cfg.PriceCacheTTL),
					tally.WithDatabasePath(cfg.DatabasePath),
					tally.WithBatchChunkSize(cfg.Batch.ChunkSize),
					tally.WithBatchConcurrency(cfg.Batch.Concurrency),
					tally.WithBatchRetry(
						cfg.Batch.MaxAttempts,
						cfg.Batch.RetryBase,
						cfg.Batch.RetryMax,
					),
					tally.WithConfirmationDepth(cfg.ConfirmationDepth),
					tally.WithRefreshInterval(cfg.RefreshInterval),
					tally.WithShutdownTimeout(cfg.ShutdownTimeout),
					tally.WithTracing(cfg.Tracing),
					tally.WithTracingStdout(cfg.TracingStdout),
				},
				opts...,
			)...,
		),
	)
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	engine, err := NewEngine(
		cfg,
		logger,
		// Enable metrics with default prometheus registry
		tally.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return err
	}
	// Metrics listener
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component", "node",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	//nolint:contextcheck
	if err := engine.Start(signalCtx); err != nil {
		shutdownMetrics(metricsServer, cfg.ShutdownTimeout, logger)
		return err
	}
	var runErr error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown", "component", "node")
	case runErr = <-metricsErr:
		logger.Error(
			fmt.Sprintf("failed to start metrics listener: %s", runErr),
			"component", "node",
		)
	}
	shutdownMetrics(metricsServer, cfg.ShutdownTimeout, logger)
	if err := engine.Stop(); err != nil {
		logger.Error("shutdown errors occurred", "component", "node", "error", err)
		return errors.Join(runErr, err)
	}
	logger.Info("shutdown complete", "component", "node")
	return runErr
}

func shutdownMetrics(
	server *http.Server,
	timeout time.Duration,
	logger *slog.Logger,
) {
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown error", "component", "node", "error", err)
	}
}
