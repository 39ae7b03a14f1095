// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"shipway/internal/model"
	"shipway/internal/sshkey"
	"shipway/internal/trust"
)

// newTrustHostCmd creates the 'trust-host' command. It fetches a host's
// public key, shows the fingerprint, and on confirmation pins it as a
// well-known record that later deployments verify against.
func newTrustHostCmd() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "trust-host <user@host>",
		Short: "Pin a host's public key in the trust database",
		Long: `Connects to a host, retrieves its public SSH key, and prompts to save
it as a pinned record. Verify the displayed fingerprint out of band before
confirming; a record pinned here is treated as authoritative and survives
the per-run re-verification that discovered records go through.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			hostname := target
			if strings.Contains(target, "@") {
				hostname = strings.SplitN(target, "@", 2)[1]
			}

			fmt.Printf("Retrieving host key from %s...\n", hostname)
			key, err := trust.HandshakeProbe(hostname, appConfig.Timeouts.Connect)
			if err != nil {
				return fmt.Errorf("could not retrieve host key: %w", err)
			}

			fingerprint := ssh.FingerprintSHA256(key)
			fmt.Printf("\nThe authenticity of host '%s' can't be established.\n", hostname)
			fmt.Printf("%s key fingerprint is %s.\n", key.Type(), fingerprint)

			if warning := sshkey.CheckHostKeyAlgorithm(key.Type()); warning != "" {
				fmt.Printf("\n%s\n", warning)
			}

			if !assumeYes {
				answer := promptForConfirmation("Are you sure you want to trust this host? (yes/no): ")
				if answer != "yes" {
					fmt.Println("Host not trusted. Aborting.")
					os.Exit(1)
				}
			}

			record := model.HostRecord{
				Hostname:  hostname,
				PublicKey: string(ssh.MarshalAuthorizedKey(key)),
				Source:    model.SourceWellKnown,
			}
			ts := newTrustStore()
			// Replace any previously pinned keys for this host.
			if err := ts.Evict(hostname); err != nil {
				return fmt.Errorf("could not clear old host records: %w", err)
			}
			if err := ts.Seed([]model.HostRecord{record}); err != nil {
				return fmt.Errorf("could not save host key: %w", err)
			}

			fmt.Printf("Host '%s' (%s) added to trusted hosts.\n", hostname, key.Type())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "trust the host without prompting")
	return cmd
}
