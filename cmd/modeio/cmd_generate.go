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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ModeioReport/services/llm"
	"github.com/AleutianAI/ModeioReport/services/report"
	"github.com/AleutianAI/ModeioReport/services/report/observability"
	"github.com/AleutianAI/ModeioReport/services/report/sensitivity"
)

// errReportFailed marks a run whose terminal outcome was a failure. The
// diagnostic has already been printed with the report.
var errReportFailed = errors.New("report generation failed")

type generateOptions struct {
	message string
	files   []string
	scopes  []string
	plain   bool
}

func newGenerateCmd(state *cli) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a report in the terminal",
		Long: `Streams a privacy-compliance report for the message and files to stdout
and saves it as a text file. The file path is printed to stderr.

On a terminal the report grows as fragments arrive; when piped, the final
report is printed once. Ctrl-C abandons the report and writes no file.`,
		Example: `  modeio generate -m "Review our signup flow" -f privacy_policy.md -s GDPR -s AIACT
  modeio generate -f dpa.txt --plain > review.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.message == "" && len(opts.files) == 0 {
				return errors.New("provide --message, --file, or both")
			}
			for _, id := range opts.scopes {
				if !state.cfg.HasScope(id) {
					return fmt.Errorf("unknown scope %q (see 'modeio scopes')", id)
				}
			}

			client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
				APIKey:  state.cfg.APIKey,
				BaseURL: state.cfg.BaseURL,
				Model:   state.cfg.Model,
				Timeout: state.cfg.RequestTimeout,
			})
			if err != nil {
				return err
			}
			scanner, err := sensitivity.NewScanner()
			if err != nil {
				return err
			}
			// One-shot process: the registry lives only as long as the run.
			metrics := observability.NewReportMetrics(prometheus.NewRegistry())
			pipeline := report.NewPipeline(state.cfg, client,
				report.WithScanner(scanner),
				report.WithMetrics(metrics),
				report.WithLogger(state.logger.With("component", "pipeline")))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			live := !opts.plain && isTerminal(cmd.OutOrStdout())
			renderer := newReportRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), live)
			return runGenerate(ctx, pipeline, opts.request(), renderer, metrics)
		},
	}

	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "text to review")
	cmd.Flags().StringArrayVarP(&opts.files, "file", "f", nil, "document to attach (repeatable, read in order)")
	cmd.Flags().StringArrayVarP(&opts.scopes, "scope", "s", nil, "regulation to review against (repeatable)")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print only the final report even on a terminal")
	return cmd
}

func (o *generateOptions) request() report.Request {
	attachments := make([]report.Attachment, 0, len(o.files))
	for _, path := range o.files {
		attachments = append(attachments, report.FileAttachment(path))
	}
	return report.Request{
		ID:          uuid.NewString(),
		Message:     o.message,
		Attachments: attachments,
		Scopes:      o.scopes,
	}
}

// runGenerate drains one invocation into the renderer.
//
// # Description
//
// A render failure abandons the invocation. When the failed outcome was the
// terminal one its artifact is removed, since the user never saw the report
// it holds. Abandonment and render failures count as CLI disconnects.
//
// # Outputs
//
//   - error: errReportFailed when the terminal outcome is a failure, the
//     context error when the run was abandoned, or a render error.
func runGenerate(ctx context.Context, pipeline *report.Pipeline, req report.Request,
	renderer *reportRenderer, metrics *observability.ReportMetrics) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var final report.Outcome
	for out := range pipeline.Generate(ctx, req) {
		if err := renderer.Render(out); err != nil {
			cancel()
			metrics.RecordClientDisconnect(observability.SurfaceCLI)
			if out.Terminal && out.ArtifactPath != "" {
				if rmErr := pipeline.Materializer().Remove(out.ArtifactPath); rmErr != nil {
					slog.Warn("could not remove undelivered report", "path", out.ArtifactPath, "error", rmErr)
				}
			}
			return fmt.Errorf("write report: %w", err)
		}
		if out.Terminal {
			final = out
		}
	}

	if !final.Terminal {
		if err := ctx.Err(); err != nil {
			metrics.RecordClientDisconnect(observability.SurfaceCLI)
			return fmt.Errorf("report abandoned: %w", err)
		}
		return errors.New("report ended without a result")
	}
	if final.Err != nil {
		return errReportFailed
	}
	return nil
}
