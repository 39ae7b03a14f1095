// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shipway/internal/db"
	"shipway/internal/logging"
	"shipway/internal/model"
	"shipway/internal/security"
	"shipway/internal/sshkey"
	"shipway/internal/trust"
)

// logTailBytes is how much of the remote application log is pulled into the
// report after a successful start.
const logTailBytes = 4096

// Options carries everything one deployment run needs. Secret inputs (key
// material, passphrase) arrive from the surrounding configuration layer and
// are never persisted.
type Options struct {
	Target      model.Target
	KeyMaterial security.Secret
	Passphrase  []byte
	SeedRecords []model.HostRecord
	Steps       []model.DeploymentStep
	// ProbeCommand is the lightweight diagnostic run before the script.
	ProbeCommand string
	// ProbeOnly stops the pipeline after the probe stage.
	ProbeOnly      bool
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// LogFile, when set, is tailed over SFTP after a successful start and
	// included in the report. Best effort.
	LogFile string
}

// StepOutcome pairs a step label with its remote outcome for reporting.
type StepOutcome struct {
	Label   string
	Outcome model.RemoteOutcome
}

// RunReport is the per-run reporting surface: final status, the failing
// stage if any, and the captured output of the failing step.
type RunReport struct {
	RunID       string
	Target      model.Target
	FinalStage  Stage
	FailedStage string
	Err         error
	// Output is the failing step's captured output, or the application log
	// tail on success.
	Output    string
	Outcomes  []StepOutcome
	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded reports whether the run reached a successful terminal stage.
func (r *RunReport) Succeeded() bool {
	return r.FinalStage == StageDeployed || r.FinalStage == StageProbed
}

// Orchestrator sequences one deployment run: establish trust, build the
// connection policy, probe, then execute the deployment script. Each stage's
// output is the next stage's required input; no stage proceeds on a failed
// predecessor, and nothing is retried.
type Orchestrator struct {
	trust   *trust.Store
	history db.Store // run record sink; may be nil
	opts    Options
}

// NewOrchestrator wires an orchestrator. history may be nil to skip run
// record persistence.
func NewOrchestrator(ts *trust.Store, history db.Store, opts Options) *Orchestrator {
	if opts.ProbeCommand == "" {
		opts.ProbeCommand = "echo ok"
	}
	return &Orchestrator{trust: ts, history: history, opts: opts}
}

// Run drives the pipeline to a terminal stage. Cancellation is honored
// between stages only: once a remote step has started it runs to its own
// completion or timeout, so the remote is never left mid-command in an
// ambiguous state. The report is returned alongside the error so callers can
// surface captured output on failure.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:      uuid.NewString(),
		Target:     o.opts.Target,
		FinalStage: StageIdle,
		StartedAt:  time.Now(),
	}
	state := newPipelineState()
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		o.persist(report)
		// The key material lives only for the run; wipe it regardless of
		// outcome so nothing secret survives in memory or a core dump.
		o.opts.KeyMaterial.Zero()
		for i := range o.opts.Passphrase {
			o.opts.Passphrase[i] = 0
		}
	}()

	logging.Infof("deploy: run %s starting for %s", report.RunID, o.opts.Target)

	// Stage 1: trust establishment. Evict the (possibly stale) record for
	// the target, seed well-known records, then discover the live key.
	if err := ctx.Err(); err != nil {
		return report, o.fail(report, state, string(StageIdle), "", err)
	}
	if err := o.trust.Evict(o.opts.Target.Host); err != nil {
		return report, o.fail(report, state, string(StageTrustEstablished), "", err)
	}
	if err := o.trust.Seed(o.opts.SeedRecords); err != nil {
		return report, o.fail(report, state, string(StageTrustEstablished), "", err)
	}
	if _, err := o.trust.Discover(ctx, o.opts.Target.Host); err != nil {
		return report, o.fail(report, state, string(StageTrustEstablished), "", classifyDialError(err))
	}
	mustAdvance(state, StageTrustEstablished)
	report.FinalStage = state.current

	// Stage 2: validate the key pair and build the connection policy.
	if err := ctx.Err(); err != nil {
		return report, o.fail(report, state, string(StageTrustEstablished), "", err)
	}
	keyPair, err := sshkey.LoadKeyPair(o.opts.KeyMaterial, o.opts.Passphrase)
	if err != nil {
		return report, o.fail(report, state, string(StagePolicyReady), "", err)
	}
	// The signer carries the parsed key; the PEM bytes are not needed again.
	defer keyPair.Private.Zero()
	policy, err := BuildPolicy(o.trust, keyPair, o.opts.Target, o.opts.ConnectTimeout)
	if err != nil {
		return report, o.fail(report, state, string(StagePolicyReady), "", err)
	}
	mustAdvance(state, StagePolicyReady)
	report.FinalStage = state.current

	// Stage 3: diagnostic probe. Fails fast before the deployment script
	// touches the remote application.
	if err := ctx.Err(); err != nil {
		return report, o.fail(report, state, string(StagePolicyReady), "", err)
	}
	runner, err := NewRunnerFunc(policy, o.opts.CommandTimeout)
	if err != nil {
		return report, o.fail(report, state, "probe", "", err)
	}
	defer runner.Close()

	outcome, err := runner.Run("probe", o.opts.ProbeCommand)
	report.Outcomes = append(report.Outcomes, StepOutcome{Label: "probe", Outcome: outcome})
	if err != nil {
		return report, o.fail(report, state, "probe", outcome.Output, err)
	}
	mustAdvance(state, StageProbed)
	report.FinalStage = state.current
	logging.Debugf("deploy: probe ok in %s", outcome.Duration)

	if o.opts.ProbeOnly {
		return report, nil
	}

	// Stage 4: the ordered deployment script. The first non-zero exit halts
	// the sequence; remaining steps do not execute.
	if err := ctx.Err(); err != nil {
		return report, o.fail(report, state, string(StageProbed), "", err)
	}
	for _, step := range o.opts.Steps {
		logging.Infof("deploy: step %s: %s", step.Label, step.Command)
		outcome, err := runner.Run(step.Label, step.Command)
		report.Outcomes = append(report.Outcomes, StepOutcome{Label: step.Label, Outcome: outcome})
		if err != nil {
			return report, o.fail(report, state, step.Label, outcome.Output, err)
		}
	}
	mustAdvance(state, StageDeployed)
	report.FinalStage = state.current

	if o.opts.LogFile != "" {
		if tail, err := runner.TailLog(o.opts.LogFile, logTailBytes); err == nil {
			report.Output = tail
		} else {
			logging.Debugf("deploy: log tail unavailable: %v", err)
		}
	}

	logging.Infof("deploy: run %s deployed %s in %s", report.RunID, o.opts.Target, time.Since(report.StartedAt))
	return report, nil
}

// fail records the failing stage and transitions the pipeline to its failed
// terminal state. The original error is surfaced verbatim with the stage
// label attached.
func (o *Orchestrator) fail(report *RunReport, state *pipelineState, stageLabel, output string, cause error) error {
	mustAdvance(state, StageFailed)
	report.FinalStage = StageFailed
	report.FailedStage = stageLabel
	report.Output = output
	report.Err = fmt.Errorf("stage %s: %w", stageLabel, cause)
	logging.Errorf("deploy: %v", report.Err)
	return report.Err
}

// persist saves the run record. Failure to record history never fails the
// run itself.
func (o *Orchestrator) persist(report *RunReport) {
	if o.history == nil {
		return
	}
	err := o.history.SaveRunRecord(model.RunRecord{
		ID:          report.RunID,
		Target:      report.Target.String(),
		FinalStage:  string(report.FinalStage),
		FailedStage: report.FailedStage,
		Output:      report.Output,
		Duration:    report.Duration,
		StartedAt:   report.StartedAt,
		Succeeded:   report.Succeeded(),
	})
	if err != nil {
		logging.Warnf("deploy: failed to record run %s: %v", report.RunID, err)
	}
}

// mustAdvance panics on a disallowed transition; the pipeline is strictly
// linear and a violation is a programming error, not a runtime condition.
func mustAdvance(state *pipelineState, to Stage) {
	if err := state.advance(to); err != nil {
		panic(err)
	}
}
