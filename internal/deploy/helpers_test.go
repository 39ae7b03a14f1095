// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"shipway/internal/db"
	"shipway/internal/model"
	"shipway/internal/security"
	"shipway/internal/sshkey"
	"shipway/internal/trust"
)

// testKey generates a fresh unencrypted deploy key for tests and returns the
// PEM private key plus the loaded pair.
func testKey(t *testing.T) (string, *model.KeyPair) {
	t.Helper()
	_, priv, err := sshkey.GenerateEd25519("test", "")
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	kp, err := sshkey.LoadKeyPair(security.Secret(priv), nil)
	if err != nil {
		t.Fatalf("key load failed: %v", err)
	}
	return priv, kp
}

// testHostKey generates a distinct key standing in for a remote host's key.
func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	_, kp := testKey(t)
	return kp.Signer.PublicKey()
}

func testBackend(t *testing.T) db.Store {
	t.Helper()
	s, err := db.NewStoreFromDSN("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTrustStore(t *testing.T, backend db.Store, hostKey ssh.PublicKey) *trust.Store {
	t.Helper()
	scanner := func(host string, timeout time.Duration) (ssh.PublicKey, error) {
		return hostKey, nil
	}
	return trust.NewStore(backend, scanner, time.Second)
}

// mockResult scripts one step's behavior for the mock runner.
type mockResult struct {
	exit   int
	output string
	err    error
}

// mockRunner replaces the SSH runner in orchestrator tests. Steps not
// explicitly scripted succeed with empty output.
type mockRunner struct {
	results map[string]mockResult
	calls   []string
	tail    string
	closed  bool
}

func newMockRunner() *mockRunner {
	return &mockRunner{results: map[string]mockResult{}}
}

func (m *mockRunner) set(stage string, res mockResult) { m.results[stage] = res }

func (m *mockRunner) Run(stage, command string) (model.RemoteOutcome, error) {
	m.calls = append(m.calls, stage)
	res, ok := m.results[stage]
	if !ok {
		return model.RemoteOutcome{ExitStatus: 0}, nil
	}
	outcome := model.RemoteOutcome{ExitStatus: res.exit, Output: res.output}
	if res.err != nil {
		return outcome, res.err
	}
	if res.exit != 0 {
		return outcome, &CommandError{Stage: stage, ExitStatus: res.exit, Output: res.output}
	}
	return outcome, nil
}

func (m *mockRunner) TailLog(path string, maxBytes int64) (string, error) {
	return m.tail, nil
}

func (m *mockRunner) Close() error {
	m.closed = true
	return nil
}

// injectRunner swaps NewRunnerFunc for the test's lifetime.
func injectRunner(t *testing.T, r Runner) {
	t.Helper()
	orig := NewRunnerFunc
	NewRunnerFunc = func(policy *model.ConnectionPolicy, commandTimeout time.Duration) (Runner, error) {
		return r, nil
	}
	t.Cleanup(func() { NewRunnerFunc = orig })
}
