// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshkey provides key material handling: loading and validating the
// deployment key pair, fingerprinting, and parsing public key lines.
package sshkey

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"shipway/internal/model"
	"shipway/internal/security"
)

// ErrInvalidKeyMaterial is returned when the provided secret is not a
// well-formed private key or public key derivation fails. This is a fatal
// configuration error; callers must not retry.
var ErrInvalidKeyMaterial = errors.New("invalid key material")

// LoadKeyPair parses the private key material and derives its public
// counterpart. The passphrase is only consulted for encrypted keys; pass nil
// for unencrypted material. The returned pair has been round-trip validated:
// a signature produced by the private key verifies against the derived public
// key, so the fingerprint is guaranteed to belong to this credential.
func LoadKeyPair(private security.Secret, passphrase []byte) (*model.KeyPair, error) {
	if private.IsEmpty() {
		return nil, fmt.Errorf("%w: no private key material provided", ErrInvalidKeyMaterial)
	}

	var signer ssh.Signer
	var err error
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(private.Bytes(), passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(private.Bytes())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	pub := signer.PublicKey()
	if err := verifyCounterpart(signer, pub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	return &model.KeyPair{
		Private:     private,
		Signer:      signer,
		PublicKey:   strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))),
		Fingerprint: ssh.FingerprintSHA256(pub),
	}, nil
}

// verifyCounterpart signs a fixed nonce with the private key and checks the
// signature against the derived public key. A mismatch means the key material
// is internally inconsistent.
func verifyCounterpart(signer ssh.Signer, pub ssh.PublicKey) error {
	nonce := []byte("shipway key pair self-check")
	sig, err := signer.Sign(nil, nonce)
	if err != nil {
		return fmt.Errorf("signing self-check failed: %v", err)
	}
	if err := pub.Verify(nonce, sig); err != nil {
		return fmt.Errorf("public key does not match private counterpart: %v", err)
	}
	return nil
}

// IsPassphraseMissing reports whether the load failure was caused by an
// encrypted key with no passphrase supplied, so callers can prompt instead of
// aborting.
func IsPassphraseMissing(err error) bool {
	var pmErr *ssh.PassphraseMissingError
	return errors.As(err, &pmErr) || strings.Contains(err.Error(), "this private key is passphrase protected")
}

// Fingerprint returns the SHA256 fingerprint of a public key line in
// authorized_keys format. Deriving the fingerprint is deterministic: the same
// line always yields the same fingerprint.
func Fingerprint(publicKeyLine string) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKeyLine))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// WriteKeyFile materializes private key material to disk with owner-only
// access for tools that require a file path. The parent directory is created
// 0700 and the file written 0600.
func WriteKeyFile(path string, private security.Secret) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, private.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	return nil
}
