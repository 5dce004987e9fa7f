// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "modeio.llm.openai"

var tracer = otel.Tracer(instrumentationName)

// Stream results recorded on the duration histogram.
const (
	resultOK            = "ok"
	resultRequestError  = "request_error"
	resultInterrupted   = "interrupted"
	resultCallbackError = "callback_error"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	// APIKey is sent as a bearer token. Required.
	APIKey string

	// BaseURL is the API root including the version segment,
	// e.g. "https://api.openai.com/v1". Empty means the library default.
	BaseURL string

	// Model is the model identifier. Required.
	Model string

	// Timeout bounds one ChatStream call end to end. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration

	// HTTPClient overrides the transport. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// MeterProvider receives the stream instruments. Nil means the global
	// provider.
	MeterProvider metric.MeterProvider
}

// OpenAIClient streams chat completions from an OpenAI-compatible service.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration

	fragments metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
//
// # Description
//
// Builds a go-openai client against cfg.BaseURL. Nothing is sent until
// ChatStream is called.
//
// # Inputs
//
//   - cfg: Client configuration. APIKey and Model are required.
//
// # Outputs
//
//   - *OpenAIClient: Ready for use.
//   - error: Non-nil if a required field is missing or an instrument
//     cannot be created.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	fragments, err := meter.Int64Counter("modeio.llm.stream.fragments",
		metric.WithDescription("Non-empty content fragments received from the completion service."))
	if err != nil {
		return nil, fmt.Errorf("openai: create fragment counter: %w", err)
	}
	duration, err := meter.Float64Histogram("modeio.llm.stream.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of streaming completion calls by result."))
	if err != nil {
		return nil, fmt.Errorf("openai: create duration histogram: %w", err)
	}

	slog.Info("Initializing OpenAI client", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		fragments: fragments,
		duration:  duration,
	}, nil
}

// Model returns the configured model identifier.
func (o *OpenAIClient) Model() string {
	return o.model
}

// ChatStream implements ChatStreamer.
//
// # Description
//
// Opens a streaming chat completion and forwards each non-empty content
// delta to callback. Role-only deltas and chunks without choices are
// skipped. The stream ends cleanly on the service's completion sentinel.
//
// # Limitations
//
//   - A connection that closes without the completion sentinel is reported
//     as a clean end by the underlying library.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	modelAttr := metric.WithAttributes(attribute.String("model", o.model))
	start := time.Now()
	result := resultOK
	defer func() {
		o.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("model", o.model),
			attribute.String("result", result),
		))
	}()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result = resultRequestError
		slog.Error("OpenAI stream request failed", "model", o.model, "error", err)
		return fmt.Errorf("openai stream request failed: %w", err)
	}
	defer stream.Close()

	fragments := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			span.SetAttributes(attribute.Int("llm.fragments", fragments))
			slog.Debug("OpenAI stream completed", "fragments", fragments)
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result = resultInterrupted
			slog.Warn("OpenAI stream interrupted", "fragments", fragments, "error", err)
			return fmt.Errorf("openai stream interrupted: %w", err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		fragments++
		o.fragments.Add(ctx, 1, modelAttr)
		if err := callback(StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
			result = resultCallbackError
			span.SetAttributes(attribute.Int("llm.fragments", fragments))
			return err
		}
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
