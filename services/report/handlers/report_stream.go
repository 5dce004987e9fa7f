// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the report pipeline over HTTP.
//
// # Streaming Protocol
//
// POST /v1/reports/stream answers with Server-Sent Events:
//
//	event: status  {"message": "Generating report..."}
//	event: token   {"content": "Risk", "length": 52}      (one per fragment)
//	event: done    {"text": "...", "artifact": "report_...txt", "download_url": "...", "sha256": "..."}
//	event: error   {"error": "...", "stage": "stream", "text": "..."}
//
// Exactly one of done or error ends the stream. Heartbeat comments
// (": ping") keep idle connections open.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ModeioReport/pkg/config"
	"github.com/AleutianAI/ModeioReport/pkg/logging"
	"github.com/AleutianAI/ModeioReport/services/report"
	"github.com/AleutianAI/ModeioReport/services/report/observability"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultHeartbeatInterval is the gap between keepalive comments.
	DefaultHeartbeatInterval = 15 * time.Second

	// ArtifactRoutePrefix is where artifacts are downloaded from.
	ArtifactRoutePrefix = "/v1/reports/artifacts/"

	// RequestIDHeader carries a caller-chosen request id.
	RequestIDHeader = "X-Request-ID"

	// maxDocuments bounds attachments per request.
	maxDocuments = 16
)

// AllowedExtensions are the upload types accepted by the report endpoint.
var AllowedExtensions = []string{".txt", ".md"}

var tracer = otel.Tracer("modeio.report.handlers")

// =============================================================================
// Request Types
// =============================================================================

// StreamReportRequest is the JSON form of a report request.
type StreamReportRequest struct {
	RequestID string          `json:"request_id" binding:"omitempty,max=128"`
	Message   string          `json:"message" binding:"max=200000"`
	Scopes    []string        `json:"scopes" binding:"max=16,dive,max=64"`
	Documents []DocumentInput `json:"documents" binding:"max=16,dive"`
}

// DocumentInput is an inline text document of a JSON request.
type DocumentInput struct {
	Name    string `json:"name" binding:"required,max=255"`
	Content string `json:"content"`
}

// =============================================================================
// Handler
// =============================================================================

// ReportStreamHandler serves the streaming report endpoint.
type ReportStreamHandler interface {
	HandleReportStream(c *gin.Context)
}

type reportStreamHandler struct {
	pipeline          *report.Pipeline
	cfg               config.Config
	metrics           *observability.ReportMetrics
	logger            *logging.Logger
	heartbeatInterval time.Duration
}

// HandlerOption configures a ReportStreamHandler.
type HandlerOption func(*reportStreamHandler)

// WithHandlerMetrics records keepalive and disconnect metrics.
func WithHandlerMetrics(m *observability.ReportMetrics) HandlerOption {
	return func(h *reportStreamHandler) { h.metrics = m }
}

// WithHandlerLogger sets the logger. Default: logging.Discard().
func WithHandlerLogger(l *logging.Logger) HandlerOption {
	return func(h *reportStreamHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) HandlerOption {
	return func(h *reportStreamHandler) {
		if d > 0 {
			h.heartbeatInterval = d
		}
	}
}

// NewReportStreamHandler creates the streaming report handler.
//
// # Description
//
// cfg supplies the scope catalogue used to reject unknown selectors and
// the attachment size limit used to bound request bodies.
//
// # Inputs
//
//   - pipeline: Report pipeline. Must not be nil.
//   - cfg: Validated configuration.
//   - opts: Optional metrics, logger, heartbeat interval.
//
// # Outputs
//
//   - ReportStreamHandler: Ready for use.
//
// # Limitations
//
//   - Panics if pipeline is nil.
func NewReportStreamHandler(pipeline *report.Pipeline, cfg config.Config, opts ...HandlerOption) ReportStreamHandler {
	if pipeline == nil {
		panic("NewReportStreamHandler: pipeline must not be nil")
	}
	h := &reportStreamHandler{
		pipeline:          pipeline,
		cfg:               cfg,
		logger:            logging.Discard(),
		heartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleReportStream handles POST /v1/reports/stream.
//
// # Description
//
// Accepts multipart/form-data (fields "message", "scopes", files under
// "files") or JSON (StreamReportRequest). Validation failures answer 400
// with a JSON body before any event is sent. Once streaming starts, every
// outcome of the pipeline becomes one event; the client closing the
// connection abandons the invocation and no artifact is written.
func (h *reportStreamHandler) HandleReportStream(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleReportStream")
	defer span.End()

	requestID := c.GetHeader(RequestIDHeader)
	req, err := h.parseRequest(c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		h.logger.Warn("rejected report request", "error", err, "remote", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = requestID
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := h.logger.With("requestId", req.ID)
	span.SetAttributes(
		attribute.String("request.id", req.ID),
		attribute.Int("request.attachments", len(req.Attachments)),
	)

	c.Header(RequestIDHeader, req.ID)
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer, req.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		logger.Error("Failed to create SSE writer", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	if err := writer.WriteStatus("Generating report..."); err != nil {
		logger.Info("client went away before streaming", "error", err)
		h.metrics.RecordClientDisconnect(observability.SurfaceHTTP)
		return
	}

	heartbeatDone := make(chan struct{})
	var heartbeat sync.WaitGroup
	heartbeat.Add(1)
	go func() {
		defer heartbeat.Done()
		h.runHeartbeat(ctx, writer, heartbeatDone)
	}()
	// The writer must be idle before the handler returns.
	defer heartbeat.Wait()
	defer close(heartbeatDone)

	_, runErr := h.pipeline.Run(ctx, req, func(out report.Outcome) error {
		if !out.Terminal {
			return writer.WriteToken(out.Fragment, len(out.Text))
		}
		return h.writeTerminal(writer, out)
	})
	if runErr != nil {
		span.SetStatus(codes.Error, "client disconnected")
		logger.Info("report stream abandoned by client", "error", runErr)
		h.metrics.RecordClientDisconnect(observability.SurfaceHTTP)
	}
}

// writeTerminal maps the terminal outcome to a done or error event. A
// persist failure still completed the report, so it ends in done with a
// warning instead of an artifact.
func (h *reportStreamHandler) writeTerminal(writer SSEWriter, out report.Outcome) error {
	var persistErr *report.PersistFailure
	switch {
	case out.Err == nil:
		name := filepath.Base(out.ArtifactPath)
		return writer.WriteDone(DoneEvent{
			Text:        out.Text,
			Artifact:    name,
			DownloadURL: ArtifactRoutePrefix + name,
			SHA256:      out.Digest,
		})
	case errors.As(out.Err, &persistErr):
		return writer.WriteDone(DoneEvent{
			Text:    out.Text,
			SHA256:  out.Digest,
			Warning: report.Diagnostic(h.pipeline.Labels(), out.Err),
		})
	default:
		return writer.WriteError(
			report.Diagnostic(h.pipeline.Labels(), out.Err),
			string(report.StageOf(out.Err)),
			out.Text,
		)
	}
}

func (h *reportStreamHandler) runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.logger.Debug("Failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(observability.SurfaceHTTP)
		}
	}
}

// =============================================================================
// Request Parsing
// =============================================================================

func (h *reportStreamHandler) parseRequest(c *gin.Context) (report.Request, error) {
	maxBody := h.cfg.MaxAttachmentBytes*maxDocuments + 1<<20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	var (
		req report.Request
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = h.parseMultipart(c)
	} else {
		req, err = h.parseJSON(c)
	}
	if err != nil {
		return report.Request{}, err
	}

	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return report.Request{}, errors.New("message or at least one document is required")
	}
	req.Scopes = report.NormalizeScopes(req.Scopes)
	for _, s := range req.Scopes {
		if !h.cfg.HasScope(s) {
			return report.Request{}, fmt.Errorf("unknown scope %q", s)
		}
	}
	return req, nil
}

func (h *reportStreamHandler) parseJSON(c *gin.Context) (report.Request, error) {
	var body StreamReportRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return report.Request{}, fmt.Errorf("invalid request body: %w", err)
	}

	req := report.Request{
		ID:      body.RequestID,
		Message: body.Message,
		Scopes:  body.Scopes,
	}
	for _, doc := range body.Documents {
		if err := checkExtension(doc.Name); err != nil {
			return report.Request{}, err
		}
		req.Attachments = append(req.Attachments, report.TextAttachment(doc.Name, doc.Content))
	}
	return req, nil
}

func (h *reportStreamHandler) parseMultipart(c *gin.Context) (report.Request, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return report.Request{}, fmt.Errorf("invalid multipart form: %w", err)
	}

	req := report.Request{
		Message: firstValue(form.Value, "message"),
		Scopes:  append(form.Value["scopes"], form.Value["scopes[]"]...),
	}
	files := append(form.File["files"], form.File["files[]"]...)
	if len(files) > maxDocuments {
		return report.Request{}, fmt.Errorf("at most %d documents per request", maxDocuments)
	}
	for _, fh := range files {
		if err := checkExtension(fh.Filename); err != nil {
			return report.Request{}, err
		}
		req.Attachments = append(req.Attachments, multipartAttachment(fh))
	}
	return req, nil
}

func multipartAttachment(fh *multipart.FileHeader) report.Attachment {
	return report.Attachment{
		Name: filepath.Base(fh.Filename),
		Open: func() (io.ReadCloser, error) {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}
}

func checkExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("unsupported document type %q: only %s are accepted", name, strings.Join(AllowedExtensions, ", "))
}

func firstValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
