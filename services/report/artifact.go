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
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownArtifact is returned by Resolve for names this materializer
// could not have produced.
var ErrUnknownArtifact = errors.New("unknown artifact")

var artifactNamePattern = regexp.MustCompile(
	`^report_\d{8}T\d{6}Z_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.txt$`)

// IsArtifactName reports whether name has the shape of an artifact file name.
func IsArtifactName(name string) bool {
	return artifactNamePattern.MatchString(name)
}

// Materializer writes final reports to uniquely named files.
//
// # Description
//
// File names are "report_{UTC timestamp}_{uuid}.txt". The file is created
// exclusively, so two invocations can never share one. Created files are
// never deleted by the Materializer itself except when a write fails
// halfway; cleanup of finished artifacts belongs to the operator.
//
// # Thread Safety
//
// Safe for concurrent use.
type Materializer struct {
	dir string
	now func() time.Time
}

// NewMaterializer creates a Materializer writing into dir. Empty dir means
// os.TempDir().
func NewMaterializer(dir string) *Materializer {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Materializer{dir: dir, now: time.Now}
}

// Dir returns the artifact directory.
func (m *Materializer) Dir() string {
	return m.dir
}

// Write persists text and returns the artifact path.
//
// # Outputs
//
//   - string: Absolute or dir-relative path of the new file.
//   - error: *PersistFailure when the directory or file cannot be written.
//     No partial file is left behind.
func (m *Materializer) Write(text string) (string, error) {
	if err := os.MkdirAll(m.dir, 0750); err != nil {
		return "", &PersistFailure{Dir: m.dir, Err: err}
	}

	name := fmt.Sprintf("report_%s_%s.txt", m.now().UTC().Format("20060102T150405Z"), uuid.NewString())
	path := filepath.Join(m.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", &PersistFailure{Dir: m.dir, Err: err}
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(path)
		return "", &PersistFailure{Dir: m.dir, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", &PersistFailure{Dir: m.dir, Err: err}
	}
	return path, nil
}

// Remove deletes an artifact this materializer wrote. Missing files are
// not an error.
func (m *Materializer) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Resolve maps an artifact file name to its path inside the artifact
// directory.
//
// # Outputs
//
//   - string: Path of an existing artifact.
//   - error: ErrUnknownArtifact for malformed names or missing files.
func (m *Materializer) Resolve(name string) (string, error) {
	if !IsArtifactName(name) {
		return "", ErrUnknownArtifact
	}
	path := filepath.Join(m.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrUnknownArtifact
	}
	return path, nil
}
