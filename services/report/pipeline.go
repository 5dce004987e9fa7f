// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report implements the streaming report-generation pipeline.
//
// One invocation runs strictly in order:
//
//	Ingest attachments -> annotate scopes -> compose prompt ->
//	stream completion (emit per fragment) -> materialize artifact
//
// Every invocation ends in exactly one terminal Outcome unless the caller
// abandons it. Failures are typed (ReadFailure, ServiceFailure,
// PersistFailure) and rendered into a diagnostic that names the cause.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ModeioReport/pkg/config"
	"github.com/AleutianAI/ModeioReport/pkg/logging"
	"github.com/AleutianAI/ModeioReport/services/llm"
	"github.com/AleutianAI/ModeioReport/services/report/observability"
	"github.com/AleutianAI/ModeioReport/services/report/sensitivity"
)

var tracer = otel.Tracer("modeio.report")

// =============================================================================
// Outcome
// =============================================================================

// Outcome is one emission of a pipeline invocation.
//
// Non-terminal outcomes carry the running report text and the fragment that
// was just appended. The terminal outcome carries the final text (or the
// diagnostic), the artifact path when one was written, and the typed
// failure when the invocation did not fully succeed.
type Outcome struct {
	// Text is the whole report so far, or the final/diagnostic text.
	Text string

	// Fragment is the delta appended by this emission. Empty when terminal.
	Fragment string

	// ArtifactPath is set only on a successful terminal outcome.
	ArtifactPath string

	// Digest is the SHA-256 of the final report, set on terminal outcomes
	// that follow a completed stream.
	Digest string

	// Terminal marks the last outcome of the invocation.
	Terminal bool

	// Err is the typed failure of a terminal outcome, if any.
	Err error
}

// EmitFunc receives outcomes synchronously, in order. Returning an error
// abandons the invocation.
type EmitFunc func(Outcome) error

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline runs report invocations. It holds only read-only state and is
// safe for concurrent use.
type Pipeline struct {
	systemPrompt string
	labels       config.Labels
	params       llm.GenerationParams
	streamer     llm.ChatStreamer
	ingestor     *Ingestor
	materializer *Materializer
	metrics      *observability.ReportMetrics
	logger       *logging.Logger
	scanner      *sensitivity.Scanner
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records invocation metrics.
func WithMetrics(m *observability.ReportMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Default: logging.Discard().
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithScanner screens the message and attachments for secrets and personal
// data before they are sent. Findings are logged in redacted form and
// counted; they never change the prompt or the report.
func WithScanner(s *sensitivity.Scanner) Option {
	return func(p *Pipeline) { p.scanner = s }
}

// WithMaterializer overrides the artifact writer built from the config.
func WithMaterializer(m *Materializer) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.materializer = m
		}
	}
}

// NewPipeline creates a Pipeline.
//
// # Description
//
// Takes the system prompt, labels, sampling overrides, attachment limit and
// artifact directory from cfg. cfg is copied; later changes to the caller's
// value have no effect.
//
// # Inputs
//
//   - cfg: Validated configuration.
//   - streamer: Completion backend. Must not be nil.
//   - opts: Optional metrics, logger, materializer.
//
// # Outputs
//
//   - *Pipeline: Ready for use.
//
// # Limitations
//
//   - Panics if streamer is nil.
func NewPipeline(cfg config.Config, streamer llm.ChatStreamer, opts ...Option) *Pipeline {
	if streamer == nil {
		panic("NewPipeline: streamer must not be nil")
	}

	p := &Pipeline{
		systemPrompt: cfg.SystemPrompt,
		labels:       cfg.Labels,
		params: llm.GenerationParams{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		},
		streamer:     streamer,
		ingestor:     NewIngestor(cfg.MaxAttachmentBytes),
		materializer: NewMaterializer(cfg.ArtifactDir),
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Materializer returns the artifact writer, used to serve downloads.
func (p *Pipeline) Materializer() *Materializer {
	return p.materializer
}

// Labels returns the user-visible label set.
func (p *Pipeline) Labels() config.Labels {
	return p.labels
}

// Generate runs one invocation and delivers its outcomes over a channel.
//
// # Description
//
// The channel is unbuffered: the pipeline advances only as fast as the
// caller receives, and each fragment yields exactly one outcome. The
// terminal outcome is the last value before the channel closes. Cancelling
// ctx aborts the completion request, suppresses the artifact, and closes
// the channel without a terminal outcome.
//
// # Inputs
//
//   - ctx: Cancels the invocation.
//   - req: Invocation input.
//
// # Outputs
//
//   - <-chan Outcome: Closed when the invocation ends.
//
// # Examples
//
//	for out := range pipeline.Generate(ctx, req) {
//	    render(out.Text)
//	    if out.Terminal && out.ArtifactPath != "" {
//	        offerDownload(out.ArtifactPath)
//	    }
//	}
func (p *Pipeline) Generate(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome)
	go func() {
		defer close(out)
		_, _ = p.Run(ctx, req, func(o Outcome) error {
			// A ready receiver must not win over cancellation.
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case out <- o:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return out
}

// Run executes one invocation, calling emit for every outcome.
//
// # Description
//
// Stages run in order and each proceeds only when its predecessor
// succeeded. Every non-empty fragment produces exactly one non-terminal
// emission carrying the running text. A failing stage produces exactly one
// terminal emission carrying its diagnostic:
//
//   - ReadFailure or pre-stream ServiceFailure: diagnostic only.
//   - Mid-stream ServiceFailure: partial text plus diagnostic suffix.
//   - PersistFailure: final text plus diagnostic suffix.
//
// No artifact is written unless the stream completed and the invocation is
// still live.
//
// # Inputs
//
//   - ctx: Cancels the invocation.
//   - req: Invocation input.
//   - emit: Receives outcomes in order.
//
// # Outputs
//
//   - Outcome: The terminal outcome delivered to emit.
//   - error: Non-nil only when no terminal outcome was delivered: ctx was
//     cancelled or emit failed (*SinkError). Pipeline failures are
//     reported in Outcome.Err, not here.
func (p *Pipeline) Run(ctx context.Context, req Request, emit EmitFunc) (Outcome, error) {
	start := time.Now()
	requestID := req.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := p.logger.With("requestId", requestID)

	p.metrics.InvocationStarted()
	defer p.metrics.InvocationEnded()

	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()

	scopes := NormalizeScopes(req.Scopes)
	span.SetAttributes(
		attribute.String("report.request_id", requestID),
		attribute.Int("report.attachments", len(req.Attachments)),
		attribute.StringSlice("report.scopes", scopes),
	)
	logger.Info("report invocation started",
		"attachments", len(req.Attachments),
		"scopes", scopes,
		"messageLength", len(req.Message))

	finish := func(out Outcome, err error) (Outcome, error) {
		status := statusOf(out, err)
		p.metrics.RecordOutcome(status, time.Since(start).Seconds())
		if err != nil || out.Err != nil {
			cause := err
			if cause == nil {
				cause = out.Err
			}
			span.RecordError(cause)
			span.SetStatus(codes.Error, string(status))
		}
		span.SetAttributes(attribute.String("report.status", string(status)))
		logger.Info("report invocation finished",
			"status", status,
			"artifact", out.ArtifactPath != "",
			"durationMs", time.Since(start).Milliseconds())
		return out, err
	}

	// Ingest.
	docs, err := p.ingest(ctx, req.Attachments)
	if err != nil {
		if ctx.Err() != nil {
			return finish(Outcome{}, ctx.Err())
		}
		p.metrics.RecordFailure(string(StageIngest))
		logger.Warn("attachment ingestion failed", "error", err)
		return finish(p.terminal(emit, Outcome{Text: Diagnostic(p.labels, err), Err: err}))
	}

	p.screen(ctx, logger, req.Message, docs)

	// Compose.
	prompt := ComposePrompt(p.systemPrompt, p.labels, req.Message, scopes, docs)
	buf := NewReportBuffer(ReportHeader(p.labels, scopes))
	logger.Debug("prompt composed", "userMessageLength", len(prompt.UserMessage), "documents", len(docs))

	// Stream.
	streamErr := p.stream(ctx, prompt, buf, emit)
	if ctx.Err() != nil {
		logger.Info("report invocation abandoned", "fragments", buf.Fragments())
		return finish(Outcome{}, ctx.Err())
	}
	var sinkErr *SinkError
	if errors.As(streamErr, &sinkErr) {
		logger.Info("report consumer went away", "fragments", buf.Fragments(), "error", sinkErr.Err)
		return finish(Outcome{}, sinkErr)
	}
	if streamErr != nil {
		failure := &ServiceFailure{Fragments: buf.Fragments(), Err: streamErr}
		p.metrics.RecordFailure(string(StageStream))
		logger.Warn("completion stream failed", "fragments", failure.Fragments, "error", streamErr)

		text := Diagnostic(p.labels, failure)
		if failure.MidStream() {
			text = buf.String() + "\n\n" + text
		}
		return finish(p.terminal(emit, Outcome{Text: text, Err: failure}))
	}

	// Materialize.
	final := buf.Finalize()
	logger.Debug("stream completed", "fragments", final.Fragments, "sha256", final.SHA256)

	out := Outcome{Text: final.Text, Digest: final.SHA256}
	path, err := p.persist(ctx, final)
	if err != nil {
		p.metrics.RecordFailure(string(StagePersist))
		logger.Warn("artifact write failed", "dir", p.materializer.Dir(), "error", err)
		out.Text = final.Text + "\n\n" + Diagnostic(p.labels, err)
		out.Err = err
		return finish(p.terminal(emit, out))
	}
	p.metrics.RecordArtifact()
	out.ArtifactPath = path

	delivered, err := p.terminal(emit, out)
	if err != nil {
		if rmErr := p.materializer.Remove(path); rmErr != nil {
			logger.Warn("could not remove undelivered artifact", "path", path, "error", rmErr)
		}
	}
	return finish(delivered, err)
}

// =============================================================================
// Stages
// =============================================================================

func (p *Pipeline) ingest(ctx context.Context, attachments []Attachment) ([]Document, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "Pipeline.ingest")
	defer span.End()

	docs, err := p.ingestor.Ingest(ctx, attachments)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failure")
	}
	return docs, err
}

// screen records sensitive-data findings for the outgoing content.
func (p *Pipeline) screen(ctx context.Context, logger *logging.Logger, message string, docs []Document) {
	if p.scanner == nil {
		return
	}
	_, span := tracer.Start(ctx, "Pipeline.screen")
	defer span.End()

	findings := p.scanner.Scan("message", message)
	for _, d := range docs {
		findings = append(findings, p.scanner.Scan(d.Name, d.Content)...)
	}
	span.SetAttributes(attribute.Int("report.sensitive_findings", len(findings)))
	if len(findings) == 0 {
		return
	}

	summary := sensitivity.Summarize(findings)
	for class, n := range summary {
		p.metrics.RecordSensitiveFindings(class, n)
	}
	for _, f := range findings {
		logger.Debug("sensitive content detected",
			"document", f.Document,
			"line", f.Line,
			"pattern", f.PatternID,
			"confidence", f.Confidence,
			"redacted", f.Redacted)
	}
	logger.Warn("outgoing content contains potentially sensitive data", "findings", summary)
}

func (p *Pipeline) stream(ctx context.Context, prompt ComposedPrompt, buf *ReportBuffer, emit EmitFunc) error {
	ctx, span := tracer.Start(ctx, "Pipeline.stream")
	defer span.End()

	start := time.Now()
	err := p.streamer.ChatStream(ctx, prompt.Messages(), p.params, func(event llm.StreamEvent) error {
		if event.Content == "" {
			return nil
		}
		if buf.Fragments() == 0 {
			p.metrics.RecordTimeToFirstFragment(time.Since(start).Seconds())
		}
		text, err := buf.Append(event.Content)
		if err != nil {
			return err
		}
		p.metrics.RecordFragment()
		if err := emit(Outcome{Text: text, Fragment: event.Content}); err != nil {
			return &SinkError{Err: err}
		}
		return nil
	})

	span.SetAttributes(attribute.Int("report.fragments", buf.Fragments()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failure")
	}
	return err
}

func (p *Pipeline) persist(ctx context.Context, final FinalReport) (string, error) {
	_, span := tracer.Start(ctx, "Pipeline.persist")
	defer span.End()

	path, err := p.materializer.Write(final.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failure")
		return "", err
	}
	span.SetAttributes(attribute.Int("report.bytes", len(final.Text)))
	return path, nil
}

// terminal delivers the last outcome of an invocation.
func (p *Pipeline) terminal(emit EmitFunc, out Outcome) (Outcome, error) {
	out.Terminal = true
	out.Fragment = ""
	if err := emit(out); err != nil {
		return out, &SinkError{Err: err}
	}
	return out, nil
}

// =============================================================================
// Diagnostics
// =============================================================================

// Diagnostic renders err as the user-visible text of a failed stage. The
// text always ends with the underlying cause.
func Diagnostic(labels config.Labels, err error) string {
	var (
		readErr    *ReadFailure
		serviceErr *ServiceFailure
		persistErr *PersistFailure
	)
	switch {
	case errors.As(err, &readErr):
		return labels.ReadFailure + " " + readErr.Error()
	case errors.As(err, &serviceErr):
		if serviceErr.MidStream() {
			return labels.StreamInterrupted + " " + serviceErr.Err.Error()
		}
		return labels.ServiceFailure + " " + serviceErr.Err.Error()
	case errors.As(err, &persistErr):
		return labels.PersistFailure + " " + persistErr.Err.Error()
	case err != nil:
		return err.Error()
	default:
		return ""
	}
}

func statusOf(out Outcome, err error) observability.Status {
	if err != nil {
		return observability.StatusAbandoned
	}
	switch StageOf(out.Err) {
	case StageIngest:
		return observability.StatusReadFailure
	case StageStream:
		return observability.StatusServiceFailure
	case StagePersist:
		return observability.StatusPersistFailure
	default:
		return observability.StatusSuccess
	}
}
