// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"shipway/internal/model"
	"shipway/internal/trust"
)

// Markers embedded in host-key callback errors so dial failures can be
// classified after the ssh library has flattened them to strings.
const (
	hostKeyMismatchMarker = "presented host key does not match any trusted record"
	unknownHostMarker     = "no trusted host record"
)

// BuildPolicy composes the immutable connection policy for a run from the
// trust store's current records, a validated key pair, and the target. Strict
// host-key checking is the only mode; a policy that would accept an
// unrecognized host key cannot be constructed here. Fails with ErrUnknownHost
// when the trust store holds no record for the target host, which means
// discovery has not run.
func BuildPolicy(ts *trust.Store, key *model.KeyPair, target model.Target, timeout time.Duration) (*model.ConnectionPolicy, error) {
	if key == nil || key.Signer == nil {
		return nil, fmt.Errorf("cannot build policy without a validated key pair")
	}
	records, err := ts.Records(target.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust records for %s: %w", target.Host, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrUnknownHost, target.Host)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &model.ConnectionPolicy{
		Target:      target,
		Key:         key,
		TrustedKeys: records,
		Timeout:     timeout,
	}, nil
}

// hostKeyCallback returns the strict verification callback for a policy. The
// presented key must match one of the pinned fingerprints exactly; anything
// else aborts the handshake.
func hostKeyCallback(policy *model.ConnectionPolicy) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// The hostname passed to the callback can include the port; strip it
		// so the comparison uses the bare host the records were pinned under.
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			host = hostname
		}

		if len(policy.TrustedKeys) == 0 {
			return fmt.Errorf("%s for %s", unknownHostMarker, host)
		}

		presented := ssh.FingerprintSHA256(key)
		for _, rec := range policy.TrustedKeys {
			if rec.Fingerprint == presented {
				return nil
			}
		}
		return fmt.Errorf("%s: %s presented %s", hostKeyMismatchMarker, host, presented)
	}
}
