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
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newScopesCmd(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "scopes",
		Short: "List the regulations a report can be scoped to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDEFAULT")
			for _, s := range state.cfg.Scopes {
				def := ""
				if s.Default {
					def = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Name, def)
			}
			return tw.Flush()
		},
	}
}
