// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SSEWriter writes report stream events.
//
// # Description
//
// Every event gets a UUID, a millisecond timestamp and a SHA-256 hash
// chained to the previous event's hash. Events are flushed immediately.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the heartbeat goroutine
// writes keepalives while the pipeline writes tokens.
type SSEWriter interface {
	// WriteEvent stamps, hashes, writes and flushes event.
	WriteEvent(event StreamEvent) error

	// WriteStatus sends a status event.
	WriteStatus(message string) error

	// WriteToken sends one fragment and the running report length in bytes.
	WriteToken(content string, length int) error

	// WriteDone sends the terminal done event.
	WriteDone(done DoneEvent) error

	// WriteError sends the terminal error event. text is whatever report
	// content accompanies the diagnostic and may be empty.
	WriteError(errMsg, stage, text string) error

	// WriteKeepAlive sends an SSE comment. Not part of the hash chain.
	WriteKeepAlive() error
}

type sseWriter struct {
	writer    http.ResponseWriter
	flusher   http.Flusher
	requestID string
	prevHash  string
	mu        sync.Mutex
}

// NewSSEWriter wraps w. requestID is stamped on every event.
//
// # Outputs
//
//   - SSEWriter: Ready for use.
//   - error: Non-nil if w cannot flush.
func NewSSEWriter(w http.ResponseWriter, requestID string) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{
		writer:    w,
		flusher:   flusher,
		requestID: requestID,
	}, nil
}

func (w *sseWriter) WriteEvent(event StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.RequestId = w.requestID
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes every field except Hash itself.
func computeEventHash(event StreamEvent) string {
	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.RequestId,
		event.Message,
		event.Content,
		event.Length,
		event.Text,
		event.Artifact,
		event.DownloadURL,
		event.SHA256,
		event.Warning,
		event.Error,
		event.Stage,
	)
	sum := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(sum[:])
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(StreamEvent{Type: EventStatus, Message: message})
}

func (w *sseWriter) WriteToken(content string, length int) error {
	return w.WriteEvent(StreamEvent{Type: EventToken, Content: content, Length: length})
}

func (w *sseWriter) WriteDone(done DoneEvent) error {
	return w.WriteEvent(StreamEvent{
		Type:        EventDone,
		Text:        done.Text,
		Artifact:    done.Artifact,
		DownloadURL: done.DownloadURL,
		SHA256:      done.SHA256,
		Warning:     done.Warning,
	})
}

func (w *sseWriter) WriteError(errMsg, stage, text string) error {
	return w.WriteEvent(StreamEvent{Type: EventError, Error: errMsg, Stage: stage, Text: text})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the response headers of an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
