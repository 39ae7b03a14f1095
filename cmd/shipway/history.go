// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newHistoryCmd creates the 'history' command, listing recent deployment
// runs from the database, newest first.
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent deployment runs",
		Long:  `Lists recent deployment runs recorded in the database, newest first, with their final stage and duration.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := store.GetRunHistory(limit)
			if err != nil {
				return fmt.Errorf("could not read run history: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("No deployment runs recorded yet.")
				return nil
			}

			for _, r := range runs {
				status := "ok"
				if !r.Succeeded {
					status = "FAILED"
					if r.FailedStage != "" {
						status = fmt.Sprintf("FAILED at %s", r.FailedStage)
					}
				}
				fmt.Printf("%s  %-22s %-10s %-8s %s\n",
					r.StartedAt.Local().Format(time.RFC3339),
					r.Target,
					r.FinalStage,
					r.Duration.Round(time.Millisecond),
					status,
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")
	return cmd
}
