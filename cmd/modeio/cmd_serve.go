// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ModeioReport/services/report/server"
)

func newServeCmd(state *cli) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming report HTTP service",
		Long: `Serves POST /v1/reports/stream (server-sent events), artifact downloads,
the scope catalogue, /health and /metrics. SIGINT or SIGTERM starts a
graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := state.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cfg.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry := prometheus.NewRegistry()
			shutdownTelemetry, err := server.InitTelemetry(ctx, server.TelemetryConfig{
				ServiceName:    server.ServiceName,
				TraceExporter:  cfg.Server.TraceExporterName(),
				MetricExporter: cfg.Server.MetricExporter,
				OTLPEndpoint:   cfg.Server.OTelEndpoint,
				Registerer:     registry,
				Writer:         cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("setup telemetry: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTelemetry(flushCtx); err != nil {
					state.logger.Error("Failed to shut down telemetry", "error", err)
				}
			}()

			srv, err := server.New(cfg, state.logger, server.WithRegistry(registry))
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
