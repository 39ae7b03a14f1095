// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import "fmt"

// Stage is one state of the deployment pipeline.
type Stage string

const (
	StageIdle             Stage = "Idle"
	StageTrustEstablished Stage = "TrustEstablished"
	StagePolicyReady      Stage = "PolicyReady"
	StageProbed           Stage = "Probed"
	StageDeployed         Stage = "Deployed"
	StageFailed           Stage = "Failed"
)

// IsTerminal reports whether the stage ends the run.
func IsTerminal(s Stage) bool {
	return s == StageDeployed || s == StageFailed
}

// isAllowedTransition encodes the pipeline's strictly linear progression.
// Failed is reachable from any non-terminal stage; nothing leaves a terminal
// stage.
func isAllowedTransition(from, to Stage) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StageFailed {
		return true
	}
	switch from {
	case StageIdle:
		return to == StageTrustEstablished
	case StageTrustEstablished:
		return to == StagePolicyReady
	case StagePolicyReady:
		return to == StageProbed
	case StageProbed:
		return to == StageDeployed
	default:
		return false
	}
}

// pipelineState tracks the current stage and validates every transition, so
// a skipped stage is a programming error caught immediately.
type pipelineState struct {
	current Stage
}

func newPipelineState() *pipelineState {
	return &pipelineState{current: StageIdle}
}

func (p *pipelineState) advance(to Stage) error {
	if !isAllowedTransition(p.current, to) {
		return fmt.Errorf("disallowed pipeline transition: %s -> %s", p.current, to)
	}
	p.current = to
	return nil
}
