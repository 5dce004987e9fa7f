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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/ModeioReport/pkg/config"
)

func TestNormalizeScopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"only blanks", []string{" ", ""}, nil},
		{"keeps caller order", []string{"HIPAA", "GDPR"}, []string{"HIPAA", "GDPR"}},
		{"trims and dedupes", []string{" GDPR", "AIACT ", "GDPR"}, []string{"GDPR", "AIACT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeScopes(tt.in))
		})
	}
}

func TestReportHeader(t *testing.T) {
	t.Parallel()
	labels := config.EnglishLabels()

	assert.Equal(t, "--- Regulations under review: unspecified ---\n\n", ReportHeader(labels, nil))
	assert.Equal(t, "--- Regulations under review: GDPR ---\n\n", ReportHeader(labels, []string{"GDPR"}))
	assert.Equal(t, "--- Regulations under review: HIPAA, GDPR, AIACT ---\n\n",
		ReportHeader(labels, []string{"HIPAA", "GDPR", "AIACT"}))
}

func TestReportHeader_ChineseLabels(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "--- 审查法规: 未选择 ---\n\n", ReportHeader(config.ChineseLabels(), nil))
}

func TestScopeAnnotation(t *testing.T) {
	t.Parallel()
	labels := config.EnglishLabels()

	assert.Empty(t, ScopeAnnotation(labels, nil))

	got := ScopeAnnotation(labels, []string{"GDPR", "AIACT"})
	assert.True(t, strings.HasPrefix(got, labels.ScopeInstruction))
	assert.Contains(t, got, "**GDPR, AIACT**")
	assert.True(t, strings.HasSuffix(got, "\n\n"))
}
