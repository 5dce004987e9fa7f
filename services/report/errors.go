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
	"errors"
	"fmt"
)

// Stage names the pipeline stage a failure originated in. Used as a metrics
// label and in log records.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageStream  Stage = "stream"
	StagePersist Stage = "persist"
	StageSink    Stage = "sink"
)

// StagedError is implemented by every typed pipeline failure.
type StagedError interface {
	error
	Stage() Stage
}

// ReadFailure reports an attachment that could not be read or decoded.
type ReadFailure struct {
	Attachment string
	Err        error
}

func (e *ReadFailure) Error() string {
	return fmt.Sprintf("read attachment %q: %v", e.Attachment, e.Err)
}

func (e *ReadFailure) Unwrap() error { return e.Err }

// Stage implements StagedError.
func (e *ReadFailure) Stage() Stage { return StageIngest }

// ServiceFailure reports a completion-service error. Fragments is the number
// of fragments received before the failure; zero means the stream never
// started.
type ServiceFailure struct {
	Fragments int
	Err       error
}

func (e *ServiceFailure) Error() string {
	if e.MidStream() {
		return fmt.Sprintf("completion stream interrupted after %d fragments: %v", e.Fragments, e.Err)
	}
	return fmt.Sprintf("completion request failed: %v", e.Err)
}

func (e *ServiceFailure) Unwrap() error { return e.Err }

// Stage implements StagedError.
func (e *ServiceFailure) Stage() Stage { return StageStream }

// MidStream reports whether at least one fragment arrived before the failure.
func (e *ServiceFailure) MidStream() bool { return e.Fragments > 0 }

// PersistFailure reports that the final report could not be written.
type PersistFailure struct {
	Dir string
	Err error
}

func (e *PersistFailure) Error() string {
	return fmt.Sprintf("persist report in %q: %v", e.Dir, e.Err)
}

func (e *PersistFailure) Unwrap() error { return e.Err }

// Stage implements StagedError.
func (e *PersistFailure) Stage() Stage { return StagePersist }

// SinkError wraps an error returned by the caller's EmitFunc. It means the
// consumer went away, not that the pipeline failed.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return "emit outcome: " + e.Err.Error() }

func (e *SinkError) Unwrap() error { return e.Err }

// Stage implements StagedError.
func (e *SinkError) Stage() Stage { return StageSink }

// StageOf returns the stage of err, or "" when err carries none.
func StageOf(err error) Stage {
	var staged StagedError
	if errors.As(err, &staged) {
		return staged.Stage()
	}
	return ""
}
