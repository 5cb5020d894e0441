// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/morph/internal/errors"
	"github.com/kraklabs/morph/internal/telemetry"
	"github.com/kraklabs/morph/internal/ui"
)

// runServe runs the background processor until SIGINT or SIGTERM, with an
// optional Prometheus endpoint and the configured trace exporter.
func runServe(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	metricsAddr := fs.String("metrics-addr", "", "Expose Prometheus metrics on this address (overrides metrics.addr)")
	maxJobs := fs.Int("max-jobs", 0, "Maximum concurrent jobs (overrides processor.maxConcurrentJobs)")
	embedProvider := fs.String("embedding-provider", "", "Embedding provider: openai, ollama or mock")
	exporter := fs.String("telemetry", "", "Trace exporter: none, stdout or otlphttp")
	orphanAge := fs.Duration("orphan-age", 24*time.Hour, "Remove stored files without a job after this age (0 disables)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: morph serve [options]

Description:
  Claims pending jobs and processes them: downloads inputs, extracts archives,
  chunks sources, computes embeddings and stores chunks. Stops on SIGINT or
  SIGTERM, giving running jobs a grace period to stop.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  morph serve
  morph serve --metrics-addr :9464 --max-jobs 4
  morph serve --embedding-provider mock --telemetry stdout
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	// serve is long-running; log at info unless asked for more.
	if globals.Verbose == 0 {
		globals.Verbose = 1
		slog.SetDefault(newLogger(os.Stderr, globals))
	}
	logger := slog.Default()

	cfg := loadConfig(globals)
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *maxJobs > 0 {
		cfg.Processor.MaxConcurrentJobs = *maxJobs
	}
	if *embedProvider != "" {
		cfg.Embedding.Provider = *embedProvider
	}
	if *exporter != "" {
		cfg.Telemetry.Exporter = *exporter
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, version, os.Stderr, logger)
	if err != nil {
		errors.FatalError(errors.NewConfigError("Cannot set up tracing", err.Error(), "Check the telemetry section of your configuration", err), globals.JSON)
	}

	app := openAppWith(ctx, globals, cfg)
	defer func() { _ = app.Close() }()

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics.http.start", "addr", cfg.Metrics.Addr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	if *orphanAge > 0 {
		go sweepOrphans(ctx, app.Service.SweepOrphanFiles, *orphanAge, logger)
	}

	if !globals.Quiet {
		ui.Header("morph serve")
		ui.Infof("Processor %s, up to %d concurrent jobs", app.Processor.Holder(), cfg.Processor.MaxConcurrentJobs)
		ui.Infof("Workspaces in %s", app.Workspaces.Root())
	}

	runErr := app.Processor.Run(ctx)
	logger.Info("shutdown.signal", "err", runErr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics.http.shutdown.error", "err", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("telemetry.shutdown.error", "err", err)
	}
	if runErr != nil {
		errors.FatalError(errors.NewInternalError("Processor stopped with an error", runErr.Error(), "See the log above", runErr), globals.JSON)
	}
	if !globals.Quiet {
		ui.Success("Stopped")
	}
}

// sweepOrphans runs sweep every hour until ctx is done.
func sweepOrphans(ctx context.Context, sweep func(context.Context, time.Duration) (int, error), age time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := sweep(ctx, age); err != nil && ctx.Err() == nil {
			logger.Warn("files.sweep.error", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
