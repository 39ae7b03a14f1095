// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core data types shared across Shipway.
package model

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"shipway/internal/security"
)

// Target identifies the deployment destination (e.g., deploy@app-01).
type Target struct {
	Host string
	User string
}

// String returns the user@host representation.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Host)
}

// HostRecordSource says how a host record entered the trust store.
type HostRecordSource string

const (
	// SourceWellKnown marks records seeded from an out-of-band list (e.g., a
	// code host's published keys). These are authoritative and never replaced
	// by discovery.
	SourceWellKnown HostRecordSource = "well-known"
	// SourceDiscovered marks records captured from a live handshake probe
	// (trust-on-first-use).
	SourceDiscovered HostRecordSource = "discovered"
)

// HostRecord is one trusted public key for a host.
type HostRecord struct {
	ID          int
	Hostname    string
	PublicKey   string // authorized_keys format, e.g. "ssh-ed25519 AAAA..."
	Fingerprint string // SHA256 fingerprint of PublicKey
	Source      HostRecordSource
	AddedAt     time.Time
}

// KeyPair is the validated credential for a run. The private material is held
// only in memory and redacted from any formatted output; it is never persisted.
type KeyPair struct {
	Private     security.Secret
	Signer      ssh.Signer
	PublicKey   string // authorized_keys format
	Fingerprint string // SHA256 fingerprint of PublicKey
}

// ConnectionPolicy is the immutable per-run connection contract: who to talk
// to, which key to present, and which host keys to accept. Strict host-key
// checking is the only mode; there is deliberately no field to relax it.
type ConnectionPolicy struct {
	Target      Target
	Key         *KeyPair
	TrustedKeys []HostRecord
	Timeout     time.Duration
}

// RemoteOutcome is the result of one remote command invocation.
type RemoteOutcome struct {
	ExitStatus int
	Output     string // combined stdout+stderr in arrival order
	Duration   time.Duration
}

// DeploymentStep is one ordered unit of remote work with a label for reporting.
type DeploymentStep struct {
	Label   string
	Command string
}

// RunRecord is the persisted report of one deployment run.
type RunRecord struct {
	ID          string
	Target      string
	FinalStage  string
	FailedStage string
	Output      string // captured output of the failing step, or the log tail on success
	Duration    time.Duration
	StartedAt   time.Time
	Succeeded   bool
}
