// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package trust

import (
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// probeComplete is the sentinel the host-key callback returns to stop the
// handshake once the key has been captured.
const probeComplete = "shipway: host key retrieved"

// HandshakeProbe connects to a host just far enough into the SSH handshake to
// retrieve its public key, then aborts. No authentication is attempted.
func HandshakeProbe(host string, timeout time.Duration) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	config := &ssh.ClientConfig{
		User: "shipway-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			// Returning an error aborts the handshake gracefully.
			return fmt.Errorf("%s", probeComplete)
		},
		Timeout: timeout,
	}

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	// ssh.Dial is expected to fail with our sentinel wrapped inside.
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		if strings.Contains(err.Error(), probeComplete) {
			return <-keyChan, nil
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}

	// Unreachable in practice since the callback always errors.
	_ = client.Close()
	return nil, fmt.Errorf("handshake with %s completed unexpectedly without capturing a key", host)
}
