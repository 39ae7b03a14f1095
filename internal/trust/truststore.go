// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package trust maintains the set of recognized host identities for a run.
// The record set is seeded from well-known keys at run start, mutated only
// during the trust-establishment stage, and read-only thereafter.
package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"shipway/internal/db"
	"shipway/internal/logging"
	"shipway/internal/model"
	"shipway/internal/sshkey"
)

// Scanner retrieves the public key a host presents during a live handshake.
// The production scanner is HandshakeProbe; tests inject fakes.
type Scanner func(host string, timeout time.Duration) (ssh.PublicKey, error)

// Store reconciles host records against a persistent backend.
type Store struct {
	backend db.Store
	scan    Scanner
	timeout time.Duration
}

// NewStore returns a trust store over the given backend. A nil scanner
// installs the live handshake probe.
func NewStore(backend db.Store, scan Scanner, timeout time.Duration) *Store {
	if scan == nil {
		scan = HandshakeProbe
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{backend: backend, scan: scan, timeout: timeout}
}

// Evict removes any existing host-key records for host. It is idempotent;
// absence of a record is not an error. Evict must run before Discover for the
// same host within a run so a rotated remote key does not collide with a
// stale record.
func (s *Store) Evict(host string) error {
	n, err := s.backend.DeleteHostRecords(host)
	if err != nil {
		return fmt.Errorf("failed to evict host records for %s: %w", host, err)
	}
	if n > 0 {
		logging.Debugf("trust: evicted %d stale record(s) for %s", n, host)
	}
	return nil
}

// Seed installs a fixed set of known-good records (e.g., a code host's
// published keys) before any dynamic discovery. Seeded records are
// authoritative: re-seeding an existing fingerprint is a no-op, and discovery
// never replaces them. Records missing a fingerprint get one derived from
// their public key line.
func (s *Store) Seed(records []model.HostRecord) error {
	for _, rec := range records {
		rec.Source = model.SourceWellKnown
		if rec.Fingerprint == "" {
			fp, err := sshkey.Fingerprint(rec.PublicKey)
			if err != nil {
				return fmt.Errorf("invalid seed record for %s: %w", rec.Hostname, err)
			}
			rec.Fingerprint = fp
		}
		if rec.AddedAt.IsZero() {
			rec.AddedAt = time.Now()
		}
		err := s.backend.AddHostRecord(rec)
		if errors.Is(err, db.ErrDuplicate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed record for %s: %w", rec.Hostname, err)
		}
	}
	return nil
}

// Discover queries host for its current public key over a live handshake and
// appends it as a trusted record. This is trust-on-first-use: the network
// round-trip's result is accepted as authentic, which is weaker than
// out-of-band verification. That trade-off is deliberate and confined to this
// operation; once pinned, any later mismatch is fatal.
func (s *Store) Discover(ctx context.Context, host string) (model.HostRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.HostRecord{}, err
	}

	key, err := s.scan(host, s.timeout)
	if err != nil {
		return model.HostRecord{}, fmt.Errorf("host key discovery for %s failed: %w", host, err)
	}

	rec := model.HostRecord{
		Hostname:    host,
		PublicKey:   strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))),
		Fingerprint: ssh.FingerprintSHA256(key),
		Source:      model.SourceDiscovered,
		AddedAt:     time.Now(),
	}

	err = s.backend.AddHostRecord(rec)
	if errors.Is(err, db.ErrDuplicate) {
		// Already pinned under the same fingerprint (e.g., seeded). Keep the
		// existing record; its source stays authoritative.
		logging.Debugf("trust: %s already pinned with %s", host, rec.Fingerprint)
		return rec, nil
	}
	if err != nil {
		return model.HostRecord{}, fmt.Errorf("failed to persist discovered key for %s: %w", host, err)
	}

	logging.Infof("trust: pinned %s (%s)", host, rec.Fingerprint)
	return rec, nil
}

// Records returns the currently trusted records for host.
func (s *Store) Records(host string) ([]model.HostRecord, error) {
	return s.backend.GetHostRecords(host)
}

// Fingerprints returns the currently trusted fingerprints for host.
func (s *Store) Fingerprints(host string) ([]string, error) {
	records, err := s.backend.GetHostRecords(host)
	if err != nil {
		return nil, err
	}
	fps := make([]string, 0, len(records))
	for _, r := range records {
		fps = append(fps, r.Fingerprint)
	}
	return fps, nil
}
