// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package deploy connects to the deployment target over SSH and drives the
// promotion pipeline: trust establishment, policy construction, diagnostic
// probe, and the ordered deployment script.
package deploy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"shipway/internal/logging"
	"shipway/internal/model"
)

// DefaultCommandTimeout bounds a single remote command. Deployment steps are
// short (git fetch, pip install, process restart); anything slower than this
// indicates a wedged remote.
const DefaultCommandTimeout = 5 * time.Minute

// Runner executes remote commands under a fixed connection policy. One
// authenticated session is opened per command; calls are sequential, so all
// captured output belongs to the invocation that produced it.
type Runner interface {
	// Run executes command and returns its outcome. A non-zero exit status
	// yields both the outcome and a *CommandError carrying the stage label.
	Run(stage, command string) (model.RemoteOutcome, error)
	// TailLog returns up to maxBytes from the end of a remote file.
	TailLog(path string, maxBytes int64) (string, error)
	Close() error
}

// NewRunnerFunc creates the production runner. Tests replace it to avoid real
// network connections.
var NewRunnerFunc = NewRunner

// NewRunner dials the policy's target and returns a Runner bound to that
// connection. Authentication uses the policy's key; if the key is rejected
// and an ssh-agent is reachable, the agent's signers are tried as a fallback.
// Dial failures are classified into the package taxonomy.
func NewRunner(policy *model.ConnectionPolicy, commandTimeout time.Duration) (Runner, error) {
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}

	addr := policy.Target.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	callback := hostKeyCallback(policy)
	config := &ssh.ClientConfig{
		User:            policy.Target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(policy.Key.Signer)},
		HostKeyCallback: callback,
		Timeout:         policy.Timeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err == nil {
		return &sshRunner{client: client, commandTimeout: commandTimeout}, nil
	}

	classified := classifyDialError(err)
	if !IsAuthenticationError(err) {
		return nil, classified
	}

	// The deploy key was rejected. Outside CI an operator may be holding the
	// key in an agent instead; try its signers before giving up.
	agentClient := getSSHAgent()
	if agentClient == nil {
		return nil, classified
	}
	logging.Debugf("deploy: key auth rejected for %s, retrying via ssh-agent", policy.Target)
	agentConfig := &ssh.ClientConfig{
		User:            policy.Target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: callback,
		Timeout:         policy.Timeout,
	}
	client, err = ssh.Dial("tcp", addr, agentConfig)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return &sshRunner{client: client, commandTimeout: commandTimeout}, nil
}

type sshRunner struct {
	client         *ssh.Client
	commandTimeout time.Duration
}

// syncBuffer serializes writes from the session's output copy goroutines so
// the timeout path can read partial output while they may still be draining.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Run executes one command in a fresh session. Stdout and stderr share one
// buffer so the captured output preserves arrival order. The wait is bounded
// by the command timeout; on expiry the underlying connection is closed to
// unblock the session and the call fails with ErrTimeout.
func (r *sshRunner) Run(stage, command string) (model.RemoteOutcome, error) {
	start := time.Now()
	outcome := model.RemoteOutcome{ExitStatus: -1}

	session, err := r.client.NewSession()
	if err != nil {
		return outcome, fmt.Errorf("%w: failed to open session: %v", ErrConnection, err)
	}
	defer session.Close()

	var combined syncBuffer
	session.Stdout = &combined
	session.Stderr = &combined

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-time.After(r.commandTimeout):
		_ = r.client.Close()
		outcome.Output = combined.String()
		outcome.Duration = time.Since(start)
		return outcome, fmt.Errorf("%w: stage %s exceeded %s", ErrTimeout, stage, r.commandTimeout)
	case err = <-done:
	}

	outcome.Output = combined.String()
	outcome.Duration = time.Since(start)

	if err == nil {
		outcome.ExitStatus = 0
		return outcome, nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		outcome.ExitStatus = exitErr.ExitStatus()
		return outcome, &CommandError{Stage: stage, ExitStatus: outcome.ExitStatus, Output: outcome.Output}
	}
	return outcome, fmt.Errorf("%w: stage %s: %v", ErrConnection, stage, err)
}

// TailLog reads the last maxBytes of a remote file over SFTP. Used after a
// successful start step to pull the application log tail into the run report.
func (r *sshRunner) TailLog(path string, maxBytes int64) (string, error) {
	sftpClient, err := sftp.NewClient(r.client)
	if err != nil {
		return "", fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	f, err := sftpClient.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open remote file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat remote file %s: %w", path, err)
	}
	if size := info.Size(); size > maxBytes {
		if _, err := f.Seek(size-maxBytes, io.SeekStart); err != nil {
			return "", fmt.Errorf("failed to seek in remote file %s: %w", path, err)
		}
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read remote file %s: %w", path, err)
	}
	return string(content), nil
}

func (r *sshRunner) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
