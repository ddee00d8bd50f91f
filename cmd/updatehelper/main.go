/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/plugin_update_helper/internal/config"
	"github.com/friendsincode/plugin_update_helper/internal/logbuffer"
	"github.com/friendsincode/plugin_update_helper/internal/logging"
	"github.com/friendsincode/plugin_update_helper/internal/server"
	"github.com/friendsincode/plugin_update_helper/internal/telemetry"
	"github.com/friendsincode/plugin_update_helper/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "updatehelper",
	Short: "Plugin Update Helper - timers and plugin update checks",
	Long:  "Plugin Update Helper runs persistent interval and recurrence timers and checks private update servers for new plugin releases.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the timer driver",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig(logBuf *logbuffer.Buffer) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logBuf != nil {
		logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))
	} else {
		logger = logging.Setup(cfg.Environment)
	}
	return nil
}

// openCore builds the services for one-shot commands.
func openCore(ctx context.Context) (*server.Core, error) {
	if err := loadConfig(nil); err != nil {
		return nil, err
	}
	core, err := server.NewCore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	if err := core.ApplySeed(ctx); err != nil {
		_ = core.Close()
		return nil, err
	}
	return core, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logBuf := logbuffer.New(logbuffer.DefaultCapacity)
	if err := loadConfig(logBuf); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Plugin Update Helper starting")

	// Initialize OpenTelemetry tracing
	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "updatehelper",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	if metricsServer := srv.MetricsServer(); metricsServer != nil {
		go func() {
			logger.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if metricsServer := srv.MetricsServer(); metricsServer != nil {
		_ = metricsServer.Shutdown(timeoutCtx)
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Plugin Update Helper stopped")
	return nil
}
