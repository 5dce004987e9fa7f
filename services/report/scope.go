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
)

// NormalizeScopes trims selectors and drops blanks and repeats, keeping the
// first occurrence of each in caller order.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ScopeAnnotation returns the strict-review instruction that prefixes the
// user message, or "" when no scope is selected.
//
//	Review strictly against the following regulations: **GDPR, HIPAA**.
func ScopeAnnotation(labels config.Labels, scopes []string) string {
	if len(scopes) == 0 {
		return ""
	}
	return labels.ScopeInstruction + " **" + strings.Join(scopes, ", ") + "**.\n\n"
}

// ReportHeader returns the line every report opens with. It names the
// selected scopes, or the unspecified marker when there are none.
//
//	--- Regulations under review: GDPR, HIPAA ---
func ReportHeader(labels config.Labels, scopes []string) string {
	named := labels.UnspecifiedScope
	if len(scopes) > 0 {
		named = strings.Join(scopes, ", ")
	}
	return "--- " + labels.HeaderTitle + ": " + named + " ---\n\n"
}
