// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for Shipway using the Cobra
// library. It defines the root command, subcommands (deploy, probe,
// trust-host, history, keygen, init), flags, and the entry point.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shipway/buildvars"
	"shipway/internal/config"
	"shipway/internal/db"
	"shipway/internal/deploy"
	"shipway/internal/logging"
	"shipway/internal/model"
	"shipway/internal/security"
	"shipway/internal/sshkey"
	"shipway/internal/trust"
)

var cfgFile string

// appConfig and store are populated by the root command's
// PersistentPreRunE before any subcommand runs.
var (
	appConfig config.Config
	store     db.Store
)

func main() {
	cmd := NewRootCmd()
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()
	if err := cmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

// NewRootCmd creates and configures a new root cobra command. Tests create
// fresh instances to stay isolated from the global one.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shipway",
		Short: "Shipway promotes a source-controlled app to a remote host over SSH.",
		Long: `Shipway deploys a git-tracked application to a single remote host.
Each run validates the deploy key, reconciles the host's SSH key against
the pinned trust records in the database, probes the connection, and then
executes the deployment script step by step. The first failing step halts
the run; nothing is retried.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var explicit *string
			if cfgFile != "" {
				explicit = &cfgFile
			}
			cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), explicit)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			appConfig = cfg
			applyDBFlags(cmd)
			logging.SetDebug(cfg.Debug)

			s, err := db.NewStoreFromDSN(appConfig.Database.Type, appConfig.Database.Dsn)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			store = s
			return nil
		},
	}

	cmd.AddCommand(newDeployCmd())
	cmd.AddCommand(newProbeCmd())
	cmd.AddCommand(newTrustHostCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newInitCmd())

	cmd.Version = buildvars.VersionOrDefault("dev")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is shipway.yaml in the user config dir, /etc/shipway, or the current directory)")
	cmd.PersistentFlags().String("db-type", "", "database type (sqlite, postgres)")
	cmd.PersistentFlags().String("db-dsn", "", "database connection string (DSN)")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	return cmd
}

// parseTarget splits a user@host argument, falling back to the configured
// target for missing parts.
func parseTarget(arg string) (model.Target, error) {
	t := model.Target{Host: appConfig.Target.Host, User: appConfig.Target.User}
	if arg != "" {
		if strings.Contains(arg, "@") {
			parts := strings.SplitN(arg, "@", 2)
			t.User = parts[0]
			t.Host = parts[1]
		} else {
			t.Host = arg
		}
	}
	if t.Host == "" {
		return t, fmt.Errorf("no target host: pass user@host or set target.host in the config")
	}
	if t.User == "" {
		return t, fmt.Errorf("no target user: pass user@host or set target.user in the config")
	}
	return t, nil
}

// applyDBFlags overrides the database settings from the --db-type and
// --db-dsn flags when set.
func applyDBFlags(cmd *cobra.Command) {
	if v, _ := cmd.Flags().GetString("db-type"); v != "" {
		appConfig.Database.Type = v
	}
	if v, _ := cmd.Flags().GetString("db-dsn"); v != "" {
		appConfig.Database.Dsn = v
	}
}

// readKeyMaterial loads the deploy key from the configured path.
func readKeyMaterial() (security.Secret, error) {
	path := appConfig.Key.Path
	if path == "" {
		return nil, fmt.Errorf("no deploy key configured: set key.path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deploy key %s: %w", path, err)
	}
	return security.Secret(data), nil
}

// resolvePassphrase validates the key material and obtains the passphrase
// for an encrypted key: from SHIPWAY_KEY_PASSPHRASE if set, otherwise by
// prompting when stdin is a terminal.
func resolvePassphrase(material security.Secret) ([]byte, error) {
	if _, err := sshkey.LoadKeyPair(material, nil); err == nil {
		return nil, nil
	} else if !sshkey.IsPassphraseMissing(err) {
		return nil, err
	}

	if env, ok := os.LookupEnv("SHIPWAY_KEY_PASSPHRASE"); ok {
		return []byte(env), nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("deploy key is encrypted and no passphrase is available (set SHIPWAY_KEY_PASSPHRASE)")
	}

	fmt.Fprint(os.Stderr, "Enter passphrase for deploy key: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// promptForConfirmation displays a prompt and reads a line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}

// newTrustStore builds the trust store over the open database with the
// configured connect timeout.
func newTrustStore() *trust.Store {
	return trust.NewStore(store, nil, appConfig.Timeouts.Connect)
}

// buildOptions assembles the orchestrator options shared by deploy and
// probe.
func buildOptions(target model.Target, probeOnly bool) (deploy.Options, error) {
	material, err := readKeyMaterial()
	if err != nil {
		return deploy.Options{}, err
	}
	passphrase, err := resolvePassphrase(material)
	if err != nil {
		return deploy.Options{}, err
	}

	steps := deploy.BuildSteps(deploy.StepConfig{
		AppDir:         appConfig.Deploy.AppDir,
		Branch:         appConfig.Deploy.Branch,
		InstallCommand: appConfig.Deploy.InstallCommand,
		StopCommand:    appConfig.Deploy.StopCommand,
		StartCommand:   appConfig.Deploy.StartCommand,
		LogFile:        appConfig.Deploy.LogFile,
	})

	return deploy.Options{
		Target:         target,
		KeyMaterial:    material,
		Passphrase:     passphrase,
		SeedRecords:    appConfig.SeedRecords(),
		Steps:          steps,
		ProbeOnly:      probeOnly,
		ConnectTimeout: appConfig.Timeouts.Connect,
		CommandTimeout: appConfig.Timeouts.Command,
		LogFile:        appConfig.Deploy.LogFile,
	}, nil
}

// printReport writes the human-readable run summary.
func printReport(report *deploy.RunReport) {
	fmt.Printf("Run %s against %s: %s (%s)\n", report.RunID, report.Target, report.FinalStage, report.Duration.Round(time.Millisecond))
	for _, o := range report.Outcomes {
		status := "ok"
		if o.Outcome.ExitStatus != 0 {
			status = fmt.Sprintf("exit %d", o.Outcome.ExitStatus)
		}
		fmt.Printf("  %-8s %s (%s)\n", o.Label, status, o.Outcome.Duration.Round(time.Millisecond))
	}
	if report.FailedStage != "" {
		fmt.Printf("Failed at stage %q: %v\n", report.FailedStage, report.Err)
	}
	if report.Output != "" {
		fmt.Printf("--- output ---\n%s\n", strings.TrimRight(report.Output, "\n"))
	}
}
