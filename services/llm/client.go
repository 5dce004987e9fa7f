// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm talks to OpenAI-compatible chat completion services.
package llm

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are optional sampling overrides. Nil means the service
// default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

// StreamEventType classifies a StreamEvent.
type StreamEventType string

const (
	// StreamEventToken carries a non-empty content fragment.
	StreamEventToken StreamEventType = "token"
)

// StreamEvent is delivered to a StreamCallback once per fragment.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
}

// StreamCallback receives fragments in arrival order. Returning an error
// aborts the stream; ChatStream then returns that error unchanged.
type StreamCallback func(event StreamEvent) error

// ChatStreamer is a streaming chat completion backend.
//
// # Description
//
// ChatStream sends the conversation and invokes callback once per non-empty
// content fragment, in arrival order, on the calling goroutine. It returns
// nil when the service signals completion.
//
// # Outputs
//
//   - error: Non-nil if the request was rejected, the connection failed,
//     the service reported an error mid-stream, ctx was cancelled, or
//     callback returned an error.
type ChatStreamer interface {
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}
