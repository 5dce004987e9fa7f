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
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ModeioReport/services/report"
	"github.com/AleutianAI/ModeioReport/services/report/sensitivity"
)

func newScanCmd(state *cli) *cobra.Command {
	var (
		message string
		files   []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check a message and files for secrets and personal data",
		Long: `Runs the same sensitive-data screen that generate applies before content
is sent to the model. Nothing is sent anywhere. Matches are printed in
redacted form.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" && len(files) == 0 {
				return errors.New("provide --message, --file, or both")
			}
			scanner, err := sensitivity.NewScanner()
			if err != nil {
				return err
			}

			attachments := make([]report.Attachment, 0, len(files))
			for _, path := range files {
				attachments = append(attachments, report.FileAttachment(path))
			}
			docs, err := report.NewIngestor(state.cfg.MaxAttachmentBytes).Ingest(cmd.Context(), attachments)
			if err != nil {
				return err
			}

			findings := scanner.Scan("message", message)
			for _, d := range docs {
				findings = append(findings, scanner.Scan(d.Name, d.Content)...)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if findings == nil {
					findings = []sensitivity.Finding{}
				}
				return enc.Encode(findings)
			}
			if len(findings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sensitive data detected.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOCUMENT\tLINE\tCLASS\tPATTERN\tCONFIDENCE\tMATCH")
			for _, f := range findings {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
					f.Document, f.Line, f.Classification, f.PatternID, f.Confidence, f.Redacted)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "text to check")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "document to check (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print findings as JSON")
	return cmd
}
