// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"

	"shipway/internal/model"
)

// StepConfig describes the remote application enough to build the deployment
// script. Empty fields fall back to the defaults of the reference deployment
// (a Python web app run straight from its working tree).
type StepConfig struct {
	AppDir         string // remote working tree, e.g. /srv/app
	Branch         string // branch to promote, e.g. main
	InstallCommand string // dependency installer, run inside AppDir
	StopCommand    string // must be safe to run when no instance exists
	StartCommand   string // the long-running process, run inside AppDir
	LogFile        string // append-only log the started process writes to
}

const (
	defaultBranch         = "main"
	defaultInstallCommand = "pip install -r requirements.txt"
	defaultStartCommand   = "python app.py"
	defaultLogFile        = "app.log"
)

func (c StepConfig) withDefaults() StepConfig {
	if c.Branch == "" {
		c.Branch = defaultBranch
	}
	if c.InstallCommand == "" {
		c.InstallCommand = defaultInstallCommand
	}
	if c.StartCommand == "" {
		c.StartCommand = defaultStartCommand
	}
	if c.LogFile == "" {
		c.LogFile = defaultLogFile
	}
	if c.StopCommand == "" {
		// pkill exits 1 when nothing matched; stopping an already-stopped
		// app must not fail the run.
		c.StopCommand = fmt.Sprintf("pkill -f '%s' || true", c.StartCommand)
	}
	return c
}

// BuildSteps produces the ordered deployment script. Dependencies are
// installed before the running instance is stopped, so a failed install
// leaves the old instance serving. The start step detaches the process from
// the session (setsid + nohup, stdin from /dev/null) and appends its output
// to the log file, so it survives the SSH session ending.
func BuildSteps(c StepConfig) []model.DeploymentStep {
	c = c.withDefaults()
	cd := ""
	if c.AppDir != "" {
		cd = fmt.Sprintf("cd %s && ", c.AppDir)
	}
	return []model.DeploymentStep{
		{Label: "fetch", Command: fmt.Sprintf("%sgit fetch origin %s", cd, c.Branch)},
		{Label: "reset", Command: fmt.Sprintf("%sgit reset --hard origin/%s", cd, c.Branch)},
		{Label: "install", Command: cd + c.InstallCommand},
		{Label: "stop", Command: c.StopCommand},
		{Label: "start", Command: fmt.Sprintf("%ssetsid nohup %s >> %s 2>&1 < /dev/null &", cd, c.StartCommand, c.LogFile)},
	}
}
