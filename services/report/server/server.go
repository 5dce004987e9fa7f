// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server assembles the report HTTP service: completion client,
// pipeline, metrics registry, middleware and routes, plus the listen and
// graceful-shutdown lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ModeioReport/pkg/config"
	"github.com/AleutianAI/ModeioReport/pkg/logging"
	"github.com/AleutianAI/ModeioReport/services/llm"
	"github.com/AleutianAI/ModeioReport/services/report"
	"github.com/AleutianAI/ModeioReport/services/report/handlers"
	"github.com/AleutianAI/ModeioReport/services/report/middleware"
	"github.com/AleutianAI/ModeioReport/services/report/observability"
	"github.com/AleutianAI/ModeioReport/services/report/routes"
	"github.com/AleutianAI/ModeioReport/services/report/sensitivity"
)

const (
	// ServiceName identifies the service in traces and logs.
	ServiceName = "modeio-report"

	// ShutdownTimeout bounds how long in-flight streams may finish after
	// shutdown begins. Streams still open afterwards are cut.
	ShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Service is the runnable report HTTP service.
type Service interface {
	// Run listens on the configured port and serves until ctx is done.
	Run(ctx context.Context) error

	// Serve serves on ln until ctx is done. ln is closed on return.
	Serve(ctx context.Context, ln net.Listener) error

	// Router exposes the handler tree, mainly for tests.
	Router() *gin.Engine
}

// Option customizes New.
type Option func(*Server)

// WithStreamer replaces the OpenAI-compatible client built from the
// configuration.
func WithStreamer(s llm.ChatStreamer) Option {
	return func(srv *Server) {
		srv.streamer = s
	}
}

// WithRegistry uses reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(srv *Server) {
		srv.registry = reg
	}
}

// Server implements Service.
type Server struct {
	cfg        config.Config
	logger     *logging.Logger
	streamer   llm.ChatStreamer
	registry   *prometheus.Registry
	metrics    *observability.ReportMetrics
	pipeline   *report.Pipeline
	router     *gin.Engine
	httpServer *http.Server
}

// New wires the report service from a validated configuration.
//
// # Description
//
// Builds, in order: the completion client (unless WithStreamer), a
// Prometheus registry with Go and process collectors, the report metrics,
// the sensitivity scanner, the pipeline, the SSE handler and a gin router
// carrying recovery, tracing, access logging and the routes.
//
// # Inputs
//
//   - cfg: Validated configuration.
//   - logger: Service logger. Nil means logging.Discard().
//   - opts: Optional streamer and registry overrides.
//
// # Outputs
//
//   - *Server: Ready to Run.
//   - error: Non-nil if the completion client cannot be built.
func New(cfg config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	if s.streamer == nil {
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create completion client: %w", err)
		}
		s.streamer = client
	}

	var metricsHandler http.Handler
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if cfg.Server.MetricsEnabled {
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metricsHandler = promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
	}
	s.metrics = observability.NewReportMetrics(s.registry)

	scanner, err := sensitivity.NewScanner()
	if err != nil {
		return nil, fmt.Errorf("load sensitivity patterns: %w", err)
	}

	s.pipeline = report.NewPipeline(cfg, s.streamer,
		report.WithMetrics(s.metrics),
		report.WithScanner(scanner),
		report.WithLogger(logger.With("component", "pipeline")),
	)
	stream := handlers.NewReportStreamHandler(s.pipeline, cfg,
		handlers.WithHandlerMetrics(s.metrics),
		handlers.WithHandlerLogger(logger.With("component", "handlers")),
	)

	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(ServiceName),
		middleware.RequestLogger(logger.With("component", "http")),
	)
	routes.SetupRoutes(s.router, cfg, s.pipeline, stream, metricsHandler)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// Router returns the handler tree.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run listens on the configured port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
//
// # Description
//
// One errgroup goroutine serves HTTP; the other waits for ctx (or a serve
// failure) and calls Shutdown with ShutdownTimeout. Streams still running
// when the timeout expires are closed forcibly.
//
// # Outputs
//
//   - error: Nil on a clean shutdown; otherwise the serve or shutdown error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting report server", "addr", ln.Addr().String(),
			"model", s.cfg.Model, "api_key_present", s.cfg.APIKey != "")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down report server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Graceful shutdown timed out, closing connections", "error", err)
			if cerr := s.httpServer.Close(); cerr != nil {
				return fmt.Errorf("close: %w", cerr)
			}
		}
		return nil
	})

	return g.Wait()
}

var _ Service = (*Server)(nil)
