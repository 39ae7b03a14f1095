// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shipway/internal/config"
	"shipway/internal/security"
	"shipway/internal/sshkey"
)

// newKeygenCmd creates the 'keygen' command. It generates a fresh ed25519
// deploy key pair and writes the private key with restrictive permissions.
func newKeygenCmd() *cobra.Command {
	var (
		output     string
		comment    string
		passphrase bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new ed25519 deploy key pair",
		Long: `Generates an ed25519 key pair for deployments. The private key is
written with mode 0600; the public key goes next to it with a .pub suffix.
Add the public key to the remote user's authorized_keys, then point
key.path in the config at the private key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass := ""
			if passphrase {
				p, err := promptNewPassphrase()
				if err != nil {
					return err
				}
				pass = p
			}

			pub, priv, err := sshkey.GenerateEd25519(comment, pass)
			if err != nil {
				return fmt.Errorf("key generation failed: %w", err)
			}

			if err := sshkey.WriteKeyFile(output, security.Secret(priv)); err != nil {
				return fmt.Errorf("could not write private key: %w", err)
			}
			pubPath := output + ".pub"
			if err := os.WriteFile(pubPath, []byte(pub), 0644); err != nil {
				return fmt.Errorf("could not write public key: %w", err)
			}

			fmt.Printf("Private key written to %s\n", output)
			fmt.Printf("Public key written to %s\n", pubPath)
			fmt.Printf("\n%s", pub)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "shipway_ed25519", "output path for the private key")
	cmd.Flags().StringVar(&comment, "comment", "shipway-deploy-key", "comment embedded in the public key")
	cmd.Flags().BoolVar(&passphrase, "passphrase", false, "encrypt the private key with a passphrase")
	return cmd
}

// promptNewPassphrase reads a passphrase twice and requires both entries to
// match.
func promptNewPassphrase() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("cannot prompt for a passphrase: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Enter passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	fmt.Fprint(os.Stderr, "Repeat passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

// newInitCmd creates the 'init' command, writing a starter config file.
func newInitCmd() *cobra.Command {
	var system bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long:  `Writes a shipway.yaml with the current effective settings to the user config directory (or the system one with --system).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteConfigFile(&appConfig, system); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}
			path, err := config.GetConfigPath(system)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&system, "system", false, "write the system-wide configuration")
	return cmd
}
