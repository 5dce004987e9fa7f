// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrUnknownExporter is returned for an unsupported exporter name.
var ErrUnknownExporter = errors.New("unknown exporter")

// ShutdownFunc flushes and releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string

	// TraceExporter is "otlp", "stdout" or "none".
	TraceExporter string

	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string

	// OTLPEndpoint is the collector address for the otlp trace exporter.
	OTLPEndpoint string

	// Registerer receives the prometheus metric exporter. Nil means
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Writer receives stdout exporter output. Nil means os.Stdout.
	Writer io.Writer
}

// InitTelemetry installs the global tracer and meter providers.
//
// # Description
//
// Traces go to an OTLP collector over an insecure, lazily dialed gRPC
// connection, or to Writer as JSON. Metrics recorded through the OTel API
// (the completion client's stream instruments) are exposed on Registerer
// next to the native Prometheus collectors, or written to Writer
// periodically. "none" leaves the corresponding global untouched. The W3C
// trace-context and baggage propagators are installed whenever traces are.
//
// # Inputs
//
//   - ctx: Used while building exporters.
//   - cfg: Exporter selection.
//
// # Outputs
//
//   - ShutdownFunc: Flushes and shuts down every installed provider.
//   - error: ErrUnknownExporter for an unsupported name, or an exporter
//     construction failure. Nothing is installed on error.
func InitTelemetry(ctx context.Context, cfg TelemetryConfig) (ShutdownFunc, error) {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName))

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdownFuncs) - 1; i >= 0; i-- {
			errs = append(errs, shutdownFuncs[i](ctx))
		}
		return errors.Join(errs...)
	}

	tp, traceCleanup, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	mp, err := newMeterProvider(cfg, res)
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(ctx)
			_ = traceCleanup()
		}
		return nil, fmt.Errorf("init meter: %w", err)
	}

	if tp != nil {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown, func(context.Context) error {
			return traceCleanup()
		})
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	}
	return shutdown, nil
}

// newTracerProvider returns a nil provider for "none". The cleanup closes
// the gRPC connection of the otlp exporter.
func newTracerProvider(ctx context.Context, cfg TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, func() error, error) {
	noCleanup := func() error { return nil }

	var exporter sdktrace.SpanExporter
	cleanup := noCleanup
	switch cfg.TraceExporter {
	case "", "none":
		return nil, noCleanup, nil

	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, nil, errors.New("otlp trace exporter requires an endpoint")
		}
		conn, err := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		cleanup = conn.Close

	case "stdout":
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
		}

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()))
	return tp, cleanup, nil
}

// newMeterProvider returns a nil provider for "none".
func newMeterProvider(cfg TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "", "none":
		return nil, nil

	case "prometheus":
		exporter, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter)), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter))), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}
