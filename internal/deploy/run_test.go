// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"shipway/internal/model"
	"shipway/internal/security"
	"shipway/internal/trust"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	priv, _ := testKey(t)
	return Options{
		Target:      model.Target{Host: "app.example.com", User: "deploy"},
		KeyMaterial: security.Secret(priv),
		Steps: []model.DeploymentStep{
			{Label: "fetch", Command: "git fetch origin main"},
			{Label: "reset", Command: "git reset --hard origin/main"},
			{Label: "install", Command: "pip install -r requirements.txt"},
			{Label: "stop", Command: "pkill -f 'python app.py' || true"},
			{Label: "start", Command: "setsid nohup python app.py >> app.log 2>&1 < /dev/null &"},
		},
		LogFile: "app.log",
	}
}

func TestOrchestratorHappyPath(t *testing.T) {
	backend := testBackend(t)
	ts := testTrustStore(t, backend, testHostKey(t))
	mock := newMockRunner()
	mock.tail = "starting up\nlistening on :8080\n"
	injectRunner(t, mock)

	o := NewOrchestrator(ts, backend, testOptions(t))
	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.FinalStage != StageDeployed {
		t.Errorf("final stage = %s, want %s", report.FinalStage, StageDeployed)
	}
	if !report.Succeeded() {
		t.Error("report should count as succeeded")
	}

	wantCalls := []string{"probe", "fetch", "reset", "install", "stop", "start"}
	if len(mock.calls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", mock.calls, wantCalls)
	}
	for i, want := range wantCalls {
		if mock.calls[i] != want {
			t.Errorf("call %d = %q, want %q", i, mock.calls[i], want)
		}
	}
	if report.Output != mock.tail {
		t.Errorf("report output = %q, want log tail", report.Output)
	}
	if !mock.closed {
		t.Error("runner was not closed")
	}

	// The run must be recorded.
	history, err := backend.GetRunHistory(10)
	if err != nil {
		t.Fatalf("GetRunHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(history))
	}
	rec := history[0]
	if rec.ID != report.RunID {
		t.Errorf("record ID = %q, want %q", rec.ID, report.RunID)
	}
	if !rec.Succeeded || rec.FinalStage != string(StageDeployed) {
		t.Errorf("record = %+v, want succeeded at %s", rec, StageDeployed)
	}
	if rec.Target != "deploy@app.example.com" {
		t.Errorf("record target = %q", rec.Target)
	}
}

func TestOrchestratorProbeFailureHaltsScript(t *testing.T) {
	backend := testBackend(t)
	ts := testTrustStore(t, backend, testHostKey(t))
	mock := newMockRunner()
	mock.set("probe", mockResult{exit: 127, output: "sh: echo: not found"})
	injectRunner(t, mock)

	o := NewOrchestrator(ts, backend, testOptions(t))
	report, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected probe failure")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitStatus != 127 {
		t.Errorf("exit status = %d, want 127", cmdErr.ExitStatus)
	}
	if report.FinalStage != StageFailed || report.FailedStage != "probe" {
		t.Errorf("report = %s/%s, want Failed/probe", report.FinalStage, report.FailedStage)
	}
	if report.Output != "sh: echo: not found" {
		t.Errorf("report output = %q", report.Output)
	}
	// No deployment step may have run.
	if len(mock.calls) != 1 || mock.calls[0] != "probe" {
		t.Errorf("calls = %v, want [probe]", mock.calls)
	}

	history, err := backend.GetRunHistory(10)
	if err != nil {
		t.Fatalf("GetRunHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Succeeded {
		t.Errorf("expected one failed run record, got %+v", history)
	}
}

func TestOrchestratorStepFailureHaltsRemainder(t *testing.T) {
	backend := testBackend(t)
	ts := testTrustStore(t, backend, testHostKey(t))
	mock := newMockRunner()
	mock.set("install", mockResult{exit: 1, output: "ERROR: No matching distribution found for flask"})
	injectRunner(t, mock)

	o := NewOrchestrator(ts, backend, testOptions(t))
	report, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected step failure")
	}
	if report.FailedStage != "install" {
		t.Errorf("failed stage = %q, want install", report.FailedStage)
	}
	if report.Output != "ERROR: No matching distribution found for flask" {
		t.Errorf("report output = %q", report.Output)
	}
	// stop and start must not have executed; the old instance keeps serving.
	wantCalls := []string{"probe", "fetch", "reset", "install"}
	if len(mock.calls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", mock.calls, wantCalls)
	}
	for _, stage := range []string{"stop", "start"} {
		for _, call := range mock.calls {
			if call == stage {
				t.Errorf("stage %s ran after install failed", stage)
			}
		}
	}
}

func TestOrchestratorProbeOnly(t *testing.T) {
	backend := testBackend(t)
	ts := testTrustStore(t, backend, testHostKey(t))
	mock := newMockRunner()
	injectRunner(t, mock)

	opts := testOptions(t)
	opts.ProbeOnly = true
	o := NewOrchestrator(ts, backend, opts)
	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("probe run failed: %v", err)
	}
	if report.FinalStage != StageProbed {
		t.Errorf("final stage = %s, want %s", report.FinalStage, StageProbed)
	}
	if !report.Succeeded() {
		t.Error("probe-only run should count as succeeded")
	}
	if len(mock.calls) != 1 || mock.calls[0] != "probe" {
		t.Errorf("calls = %v, want [probe]", mock.calls)
	}
}

func TestOrchestratorDiscoveryFailure(t *testing.T) {
	backend := testBackend(t)
	scanner := func(host string, timeout time.Duration) (ssh.PublicKey, error) {
		return nil, fmt.Errorf("dial tcp 192.0.2.10:22: connect: connection refused")
	}
	ts := trust.NewStore(backend, scanner, time.Second)
	mock := newMockRunner()
	injectRunner(t, mock)

	o := NewOrchestrator(ts, backend, testOptions(t))
	report, err := o.Run(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if report.FinalStage != StageFailed {
		t.Errorf("final stage = %s, want %s", report.FinalStage, StageFailed)
	}
	if len(mock.calls) != 0 {
		t.Errorf("no remote command should run, got %v", mock.calls)
	}
}

func TestOrchestratorHonorsCancellation(t *testing.T) {
	backend := testBackend(t)
	ts := testTrustStore(t, backend, testHostKey(t))
	mock := newMockRunner()
	injectRunner(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(ts, backend, testOptions(t))
	report, err := o.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.FinalStage != StageFailed {
		t.Errorf("final stage = %s, want %s", report.FinalStage, StageFailed)
	}
	if len(mock.calls) != 0 {
		t.Errorf("no remote command should run, got %v", mock.calls)
	}
}

func TestOrchestratorZeroesKeyMaterial(t *testing.T) {
	backend := testBackend(t)
	ts := testTrustStore(t, backend, testHostKey(t))
	injectRunner(t, newMockRunner())

	opts := testOptions(t)
	material := opts.KeyMaterial

	o := NewOrchestrator(ts, backend, opts)
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// The key lives only for the run; afterwards the material must be wiped.
	for i, b := range material {
		if b != 0 {
			t.Fatalf("key material byte %d not wiped after the run", i)
		}
	}
}

func TestOrchestratorSeedsWellKnownRecords(t *testing.T) {
	backend := testBackend(t)
	hostKey := testHostKey(t)
	ts := testTrustStore(t, backend, hostKey)
	mock := newMockRunner()
	injectRunner(t, mock)

	pub := ssh.MarshalAuthorizedKey(hostKey)
	opts := testOptions(t)
	opts.SeedRecords = []model.HostRecord{{
		Hostname:  "app.example.com",
		PublicKey: string(pub),
	}}
	o := NewOrchestrator(ts, backend, opts)
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	records, err := ts.Records("app.example.com")
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	// The seeded record is authoritative; discovery of the same key must not
	// demote it.
	if records[0].Source != model.SourceWellKnown {
		t.Errorf("record source = %s, want %s", records[0].Source, model.SourceWellKnown)
	}
}
