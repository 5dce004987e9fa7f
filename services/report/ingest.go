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
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	// ErrAttachmentTooLarge is wrapped by ReadFailure when a document
	// exceeds the configured size limit.
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")

	// ErrInvalidUTF8 is wrapped by ReadFailure when a document is not
	// valid UTF-8 text.
	ErrInvalidUTF8 = errors.New("attachment is not valid UTF-8 text")
)

// Document is the decoded content of one attachment.
type Document struct {
	Name    string
	Content string
}

// Ingestor reads attachments as UTF-8 text.
type Ingestor struct {
	maxBytes int64
}

// NewIngestor creates an Ingestor. maxBytes <= 0 disables the size limit.
func NewIngestor(maxBytes int64) *Ingestor {
	return &Ingestor{maxBytes: maxBytes}
}

// Ingest reads every attachment in order.
//
// # Description
//
// Opens, reads and validates each attachment in the order supplied. The
// first failure aborts the step: no documents are returned, only a
// *ReadFailure naming the attachment. No attachments returns (nil, nil).
//
// # Inputs
//
//   - ctx: Checked between attachments.
//   - attachments: Documents to read.
//
// # Outputs
//
//   - []Document: One per attachment, same order.
//   - error: *ReadFailure on any failure.
func (in *Ingestor) Ingest(ctx context.Context, attachments []Attachment) ([]Document, error) {
	if len(attachments) == 0 {
		return nil, nil
	}

	docs := make([]Document, 0, len(attachments))
	for _, att := range attachments {
		if err := ctx.Err(); err != nil {
			return nil, &ReadFailure{Attachment: att.Name, Err: err}
		}
		content, err := in.read(att)
		if err != nil {
			return nil, &ReadFailure{Attachment: att.Name, Err: err}
		}
		docs = append(docs, Document{Name: att.Name, Content: content})
	}
	return docs, nil
}

func (in *Ingestor) read(att Attachment) (string, error) {
	if att.Open == nil {
		return "", errors.New("attachment has no source")
	}
	rc, err := att.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var r io.Reader = rc
	if in.maxBytes > 0 {
		r = io.LimitReader(rc, in.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if in.maxBytes > 0 && int64(len(data)) > in.maxBytes {
		return "", fmt.Errorf("%w (%d bytes)", ErrAttachmentTooLarge, in.maxBytes)
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}
