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

// EventType names a server-sent event of the report stream.
type EventType string

const (
	// EventStatus announces progress before the first fragment.
	EventStatus EventType = "status"

	// EventToken carries one fragment.
	EventToken EventType = "token"

	// EventDone carries the final report. A persist failure still ends in
	// done, with Warning set and no artifact.
	EventDone EventType = "done"

	// EventError carries the diagnostic of a failed invocation.
	EventError EventType = "error"
)

// StreamEvent is the JSON payload of one SSE event.
//
// Id, CreatedAt, PrevHash and Hash are filled in by the SSEWriter and form a
// hash chain a client can verify.
type StreamEvent struct {
	Id        string    `json:"id"`
	Type      EventType `json:"type"`
	CreatedAt int64     `json:"created_at"`
	PrevHash  string    `json:"prev_hash,omitempty"`
	Hash      string    `json:"hash"`
	RequestId string    `json:"request_id,omitempty"`

	// status
	Message string `json:"message,omitempty"`

	// token
	Content string `json:"content,omitempty"`
	Length  int    `json:"length,omitempty"`

	// done, error
	Text        string `json:"text,omitempty"`
	Artifact    string `json:"artifact,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	Warning     string `json:"warning,omitempty"`

	// error
	Error string `json:"error,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// DoneEvent is the terminal payload of a completed stream.
type DoneEvent struct {
	Text        string
	Artifact    string
	DownloadURL string
	SHA256      string
	Warning     string
}
