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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
	"sync"
)

// ErrBufferFinalized is returned by Append after Finalize.
var ErrBufferFinalized = errors.New("report buffer already finalized")

// FinalReport is the immutable result of a completed stream.
type FinalReport struct {
	// Text is the header followed by every fragment in arrival order.
	Text string

	// SHA256 is the hex digest of Text.
	SHA256 string

	// Fragments is the number of fragments appended.
	Fragments int
}

// ReportBuffer is the append-only accumulator of one invocation.
//
// # Description
//
// Seeded with the report header. Every Append concatenates one fragment
// verbatim and feeds it to an incremental SHA-256 so the digest is ready
// the moment the stream ends.
//
// # Thread Safety
//
// Safe for concurrent use, though one invocation only appends from a
// single goroutine.
type ReportBuffer struct {
	mu        sync.Mutex
	text      strings.Builder
	hasher    hash.Hash
	fragments int
	finalized bool
}

// NewReportBuffer creates a buffer seeded with header.
func NewReportBuffer(header string) *ReportBuffer {
	b := &ReportBuffer{hasher: sha256.New()}
	b.text.WriteString(header)
	b.hasher.Write([]byte(header))
	return b
}

// Append adds one fragment and returns the buffer's current text.
func (b *ReportBuffer) Append(fragment string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return "", ErrBufferFinalized
	}
	b.text.WriteString(fragment)
	b.hasher.Write([]byte(fragment))
	b.fragments++
	return b.text.String(), nil
}

// String returns the current text.
func (b *ReportBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.String()
}

// Fragments returns the number of fragments appended so far.
func (b *ReportBuffer) Fragments() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fragments
}

// Finalize freezes the buffer. Calling it again returns the same report.
func (b *ReportBuffer) Finalize() FinalReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finalized = true
	return FinalReport{
		Text:      b.text.String(),
		SHA256:    hex.EncodeToString(b.hasher.Sum(nil)),
		Fragments: b.fragments,
	}
}
