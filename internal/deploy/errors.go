// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure taxonomy. Every error is fatal to the
// current run and surfaced verbatim with the stage label attached; nothing
// here is retried or downgraded internally.
var (
	// ErrUnknownHost means no trusted host record existed at policy build time.
	ErrUnknownHost = errors.New("unknown host: no trusted host record")
	// ErrAuthenticationFailed means the remote rejected our key.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrHostKeyMismatch means the live host key did not match the pinned
	// fingerprint. Never downgraded to a warning.
	ErrHostKeyMismatch = errors.New("host key mismatch")
	// ErrConnection covers network-level dial and session failures.
	ErrConnection = errors.New("connection error")
	// ErrTimeout means a bounded network wait elapsed.
	ErrTimeout = errors.New("timeout")
)

// CommandError reports a remote command that terminated with a non-zero exit
// status. The stage label ties the failure to the step that produced it.
type CommandError struct {
	Stage      string
	ExitStatus int
	Output     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("stage %s: remote command failed with exit status %d", e.Stage, e.ExitStatus)
}

// IsConnectionTimeoutError reports whether the error looks like a network
// timeout. The ssh library surfaces these as opaque strings, so the check is
// string-based.
func IsConnectionTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "i/o timeout")
}

// IsConnectionRefusedError reports whether the error indicates the host was
// unreachable at the network level.
func IsConnectionRefusedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "network is unreachable")
}

// IsAuthenticationError reports whether the error indicates the remote
// rejected our credentials.
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "permission denied")
}

// classifyDialError maps an ssh dial failure onto the taxonomy, preserving
// the original error for diagnosis.
func classifyDialError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrHostKeyMismatch) || strings.Contains(err.Error(), hostKeyMismatchMarker):
		return fmt.Errorf("%w: %v", ErrHostKeyMismatch, err)
	case errors.Is(err, ErrUnknownHost) || strings.Contains(err.Error(), unknownHostMarker):
		return fmt.Errorf("%w: %v", ErrUnknownHost, err)
	case IsAuthenticationError(err):
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	case IsConnectionTimeoutError(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case IsConnectionRefusedError(err):
		return fmt.Errorf("%w: host unreachable: %v", ErrConnection, err)
	default:
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
}
