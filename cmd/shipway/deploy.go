// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shipway/internal/deploy"
)

// newDeployCmd creates the 'deploy' command. It runs the full pipeline:
// trust reconciliation, key validation, probe, then the deployment script.
func newDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy [user@host]",
		Short: "Deploy the configured application to the remote host",
		Long: `Runs a full deployment: re-verifies the remote host key against the
trust database, validates the deploy key, probes the connection, and then
executes the deployment script (fetch, reset, install, stop, start). The
first failing step halts the run and the captured output is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args, false)
		},
	}
}

// newProbeCmd creates the 'probe' command: the deploy pipeline stopped
// after the diagnostic probe, leaving the remote application untouched.
func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [user@host]",
		Short: "Verify connectivity and trust without deploying",
		Long: `Runs the deployment pipeline up to and including the diagnostic probe:
host key reconciliation, key validation, connection, and a harmless remote
command. Nothing on the remote host is modified.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args, true)
		},
	}
}

func runPipeline(cmd *cobra.Command, args []string, probeOnly bool) error {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	target, err := parseTarget(arg)
	if err != nil {
		return err
	}

	opts, err := buildOptions(target, probeOnly)
	if err != nil {
		return err
	}

	orch := deploy.NewOrchestrator(newTrustStore(), store, opts)
	report, runErr := orch.Run(cmd.Context())
	printReport(report)
	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", report.RunID, runErr)
	}
	return nil
}
