// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

import (
	"fmt"
	"strings"
)

// Parse splits a raw public key line (like one from a known_hosts or
// authorized_keys file) into its core components: algorithm, key data, and
// comment. Leading options or hostnames before the algorithm are skipped.
func Parse(rawKey string) (algorithm, keyData, comment string, err error) {
	fields := strings.Fields(rawKey)
	if len(fields) == 0 {
		err = fmt.Errorf("empty line")
		return
	}

	keyStartIndex := -1
	for i, field := range fields {
		if strings.HasPrefix(field, "ssh-") || strings.HasPrefix(field, "ecdsa-") {
			keyStartIndex = i
			break
		}
	}

	if keyStartIndex == -1 {
		err = fmt.Errorf("no valid SSH key type found in line")
		return
	}

	if len(fields) < keyStartIndex+2 {
		err = fmt.Errorf("invalid public key format: missing key data after algorithm")
		return
	}

	algorithm = fields[keyStartIndex]
	keyData = fields[keyStartIndex+1]
	if len(fields) > keyStartIndex+2 {
		comment = strings.Join(fields[keyStartIndex+2:], " ")
	}

	return
}

// CheckHostKeyAlgorithm returns a human-readable warning for host key
// algorithms that are considered weak or deprecated, or an empty string when
// the algorithm is fine. The trust-host flow surfaces the warning before the
// operator pins the key.
func CheckHostKeyAlgorithm(algorithm string) string {
	switch algorithm {
	case "ssh-dss":
		return "WARNING: host presents a DSA key (ssh-dss), which is obsolete and insecure"
	case "ssh-rsa":
		return "NOTE: host presents an RSA key; prefer ed25519 host keys where available"
	default:
		return ""
	}
}
