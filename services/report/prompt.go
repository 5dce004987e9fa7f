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
	"strings"

	"github.com/AleutianAI/ModeioReport/pkg/config"
	"github.com/AleutianAI/ModeioReport/services/llm"
)

// ComposedPrompt is the two-message conversation sent to the completion
// service.
type ComposedPrompt struct {
	SystemInstruction string
	UserMessage       string
}

// Messages returns the conversation as {system, user}.
func (p ComposedPrompt) Messages() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: p.SystemInstruction},
		{Role: llm.RoleUser, Content: p.UserMessage},
	}
}

// ComposePrompt builds the conversation for one invocation.
//
// # Description
//
// The user message is the scope annotation (if any), then the raw message,
// then each document's content preceded by the attachment delimiter, in
// document order. Document content is copied verbatim. An empty message
// with documents still yields delimiter-separated content.
//
// # Inputs
//
//   - systemInstruction: Process-wide system prompt.
//   - labels: Supplies the scope instruction and attachment delimiter.
//   - message: Raw user query.
//   - scopes: Normalized scope selectors.
//   - docs: Ingested documents.
//
// # Outputs
//
//   - ComposedPrompt: Deterministic for identical inputs.
func ComposePrompt(systemInstruction string, labels config.Labels, message string,
	scopes []string, docs []Document) ComposedPrompt {

	var b strings.Builder
	b.WriteString(ScopeAnnotation(labels, scopes))
	b.WriteString(message)
	for _, doc := range docs {
		b.WriteString(labels.AttachmentDelimiter)
		b.WriteString(doc.Content)
	}

	return ComposedPrompt{
		SystemInstruction: systemInstruction,
		UserMessage:       b.String(),
	}
}
