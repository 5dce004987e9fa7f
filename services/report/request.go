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
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Attachment is a reference to one uploaded text document. Open is called
// at most once, by the ingestor, in attachment order.
type Attachment struct {
	// Name identifies the attachment in diagnostics.
	Name string

	// Open returns the document bytes. The ingestor closes the reader.
	Open func() (io.ReadCloser, error)
}

// FileAttachment references a file on disk. The attachment name is the base
// name of path.
func FileAttachment(path string) Attachment {
	return Attachment{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// TextAttachment wraps in-memory text.
func TextAttachment(name, text string) Attachment {
	return Attachment{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(text)), nil
		},
	}
}

// Request is one pipeline invocation's input. It is not modified by the
// pipeline.
type Request struct {
	// ID correlates logs, spans and events. Generated when empty.
	ID string

	// Message is the user's free-text query. May be empty.
	Message string

	// Attachments are ingested in order.
	Attachments []Attachment

	// Scopes are regulatory-scope selectors in caller order.
	Scopes []string
}
