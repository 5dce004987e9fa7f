// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/ModeioReport/services/report"
)

var (
	savedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7")).Bold(true)
	digestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7A89"))
)

// reportRenderer prints pipeline outcomes to a terminal or a pipe.
//
// # Description
//
// Each outcome carries the whole report so far. In live mode the renderer
// prints only the part not yet on screen, so the report grows in place. When
// an outcome no longer extends what was printed (a failure diagnostic that
// replaces the text) the new text starts on a fresh line. In plain mode only
// the terminal outcome is printed, once.
//
// The artifact path and warnings go to the status writer so stdout carries
// only the report.
type reportRenderer struct {
	out     io.Writer
	status  io.Writer
	live    bool
	printed string
}

func newReportRenderer(out, status io.Writer, live bool) *reportRenderer {
	return &reportRenderer{out: out, status: status, live: live}
}

// Render prints one outcome.
func (r *reportRenderer) Render(o report.Outcome) error {
	if !r.live && !o.Terminal {
		return nil
	}

	text := o.Text
	var err error
	switch {
	case !r.live:
		_, err = io.WriteString(r.out, text)
	case strings.HasPrefix(text, r.printed):
		_, err = io.WriteString(r.out, text[len(r.printed):])
	default:
		_, err = io.WriteString(r.out, "\n"+text)
	}
	if err != nil {
		return err
	}
	r.printed = text

	if !o.Terminal {
		return nil
	}
	if _, err := io.WriteString(r.out, "\n"); err != nil {
		return err
	}
	if o.ArtifactPath != "" {
		r.statusLine(savedStyle, "Report saved to "+o.ArtifactPath)
		r.statusLine(digestStyle, "SHA-256 "+o.Digest)
	}
	return nil
}

// statusLine styles the line only in live mode, where status shares the
// terminal with the report.
func (r *reportRenderer) statusLine(style lipgloss.Style, line string) {
	if r.live {
		line = style.Render(line)
	}
	fmt.Fprintln(r.status, line)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
