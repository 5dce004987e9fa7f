// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sensitivity flags secrets and personal data in report
// attachments.
//
// Classification patterns are embedded in the binary so they travel with
// the executable and cannot change at runtime. Findings never carry the
// matched text, only a redacted form, so they are safe to log.
package sensitivity

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed classification_patterns.yaml
var classificationPatterns []byte

// Public is the classification of content that matches no pattern.
const Public = "public"

// ConfidenceLevel grades how likely a match is a true positive.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// UnmarshalYAML rejects unknown confidence levels.
func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch level := ConfidenceLevel(s); level {
	case High, Medium, Low:
		*c = level
		return nil
	default:
		return fmt.Errorf("invalid confidence %q", s)
	}
}

type patternFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Classification groups patterns under one name such as "pii".
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is one compiled detector.
type Pattern struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`

	compiled *regexp.Regexp
}

// Finding is one pattern match.
type Finding struct {
	Document       string          `json:"document"`
	Line           int             `json:"line"`
	Classification string          `json:"classification"`
	PatternID      string          `json:"pattern_id"`
	Description    string          `json:"description"`
	Confidence     ConfidenceLevel `json:"confidence"`
	Redacted       string          `json:"redacted"`
}

// Scanner matches content against classification patterns.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Scanner struct {
	classifications []Classification
}

// NewScanner builds a Scanner from the embedded patterns.
func NewScanner() (*Scanner, error) {
	return NewScannerFromYAML(classificationPatterns)
}

// NewScannerFromYAML builds a Scanner from a pattern document.
//
// # Description
//
// Parses the document, compiles every regex and orders classifications
// from highest to lowest priority.
//
// # Outputs
//
//   - *Scanner: Ready for use.
//   - error: Non-nil on malformed YAML, an unknown confidence level, or a
//     regex that does not compile.
func NewScannerFromYAML(data []byte) (*Scanner, error) {
	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse classification patterns: %w", err)
	}

	for i := range file.Classifications {
		c := &file.Classifications[i]
		for j := range c.Patterns {
			p := &c.Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %s: %w", p.ID, err)
			}
			p.compiled = re
		}
	}

	sort.SliceStable(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})
	return &Scanner{classifications: file.Classifications}, nil
}

// Classify returns the highest-priority classification matching content, or
// Public.
func (s *Scanner) Classify(content string) string {
	for _, c := range s.classifications {
		for _, p := range c.Patterns {
			if p.compiled.MatchString(content) {
				return c.Name
			}
		}
	}
	return Public
}

// Scan returns every match in content, line by line, in line order.
// document labels the findings.
func (s *Scanner) Scan(document, content string) []Finding {
	var findings []Finding
	for n, line := range strings.Split(content, "\n") {
		for _, c := range s.classifications {
			for _, p := range c.Patterns {
				for _, match := range p.compiled.FindAllString(line, -1) {
					findings = append(findings, Finding{
						Document:       document,
						Line:           n + 1,
						Classification: c.Name,
						PatternID:      p.ID,
						Description:    p.Description,
						Confidence:     p.Confidence,
						Redacted:       Redact(strings.TrimSpace(match)),
					})
				}
			}
		}
	}
	return findings
}

// Summarize counts findings per classification.
func Summarize(findings []Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.Classification]++
	}
	return counts
}

// Redact keeps the first and last two characters of s and masks the rest.
// Values of six characters or fewer are fully masked.
func Redact(s string) string {
	r := []rune(s)
	if len(r) <= 6 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}
