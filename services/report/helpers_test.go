// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/AleutianAI/ModeioReport/pkg/config"
	"github.com/AleutianAI/ModeioReport/services/llm"
)

// =============================================================================
// Scripted Streamer
// =============================================================================

// scriptedStreamer replays a fixed fragment sequence.
//
// # Description
//
// Returns preErr before any fragment when set. Otherwise delivers every
// fragment (including empty ones, which the pipeline must skip), then
// either blocks until ctx is cancelled (waitForCancel) or returns
// failAfter.
type scriptedStreamer struct {
	fragments     []string
	preErr        error
	failAfter     error
	waitForCancel bool

	mu       sync.Mutex
	messages [][]llm.Message
	params   []llm.GenerationParams
}

func (s *scriptedStreamer) ChatStream(ctx context.Context, messages []llm.Message,
	params llm.GenerationParams, callback llm.StreamCallback) error {

	s.mu.Lock()
	s.messages = append(s.messages, messages)
	s.params = append(s.params, params)
	s.mu.Unlock()

	if s.preErr != nil {
		return s.preErr
	}
	for _, f := range s.fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: f}); err != nil {
			return err
		}
	}
	if s.waitForCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.failAfter
}

func (s *scriptedStreamer) lastMessages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1]
}

func (s *scriptedStreamer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// =============================================================================
// Fixtures
// =============================================================================

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SystemPrompt = "You are a privacy compliance reviewer."
	cfg.APIKey = "sk-test"
	cfg.Model = "test-model"
	cfg.ArtifactDir = t.TempDir()
	return cfg
}

// collector records every emitted outcome.
type collector struct {
	outcomes []Outcome
}

func (c *collector) emit(o Outcome) error {
	c.outcomes = append(c.outcomes, o)
	return nil
}

func (c *collector) last() Outcome {
	if len(c.outcomes) == 0 {
		return Outcome{}
	}
	return c.outcomes[len(c.outcomes)-1]
}

func failingAttachment(name string) Attachment {
	return Attachment{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return nil, errors.New("permission denied")
		},
	}
}
