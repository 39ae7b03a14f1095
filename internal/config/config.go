// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the layered Shipway configuration: defaults, then the
// config file, then environment variables (SHIPWAY_ prefix), then CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shipway/internal/model"
)

// Config is the full file-backed configuration. Secret material (the key
// passphrase) is deliberately absent; it is prompted for or passed through
// the environment, never written to disk.
type Config struct {
	Target struct {
		Host string `mapstructure:"host" yaml:"host"`
		User string `mapstructure:"user" yaml:"user"`
	} `mapstructure:"target" yaml:"target"`

	Key struct {
		// Path to the PEM private key used for deployment.
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"key" yaml:"key"`

	Deploy struct {
		AppDir         string `mapstructure:"app_dir" yaml:"app_dir"`
		Branch         string `mapstructure:"branch" yaml:"branch"`
		InstallCommand string `mapstructure:"install_command" yaml:"install_command"`
		StopCommand    string `mapstructure:"stop_command" yaml:"stop_command"`
		StartCommand   string `mapstructure:"start_command" yaml:"start_command"`
		LogFile        string `mapstructure:"log_file" yaml:"log_file"`
	} `mapstructure:"deploy" yaml:"deploy"`

	Timeouts struct {
		Connect time.Duration `mapstructure:"connect" yaml:"connect"`
		Command time.Duration `mapstructure:"command" yaml:"command"`
	} `mapstructure:"timeouts" yaml:"timeouts"`

	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`

	// KnownHosts seeds the trust store with out-of-band host keys before
	// discovery runs.
	KnownHosts []SeedEntry `mapstructure:"known_hosts" yaml:"known_hosts"`

	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// SeedEntry is one well-known host key from the config file.
type SeedEntry struct {
	Hostname  string `mapstructure:"hostname" yaml:"hostname"`
	PublicKey string `mapstructure:"public_key" yaml:"public_key"`
}

// SeedRecords converts the configured known-host entries into trust store
// seed records.
func (c *Config) SeedRecords() []model.HostRecord {
	records := make([]model.HostRecord, 0, len(c.KnownHosts))
	for _, e := range c.KnownHosts {
		records = append(records, model.HostRecord{
			Hostname:  e.Hostname,
			PublicKey: e.PublicKey,
			Source:    model.SourceWellKnown,
		})
	}
	return records
}

// Defaults returns the default value for every configurable key. Keys with
// no meaningful default are registered with an empty value anyway: viper's
// AutomaticEnv only surfaces environment variables for keys it already
// knows, so an unregistered key could not be set via SHIPWAY_* at all.
func Defaults() map[string]any {
	return map[string]any{
		"target.host":            "",
		"target.user":            "",
		"key.path":               "",
		"deploy.app_dir":         "",
		"deploy.branch":          "main",
		"deploy.install_command": "",
		"deploy.stop_command":    "",
		"deploy.start_command":   "",
		"deploy.log_file":        "",
		"database.type":          "sqlite",
		"database.dsn":           "./shipway.db",
		"timeouts.connect":       "10s",
		"timeouts.command":       "5m",
		"debug":                  false,
	}
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Shipway")
		default:
			configDir = "/etc/shipway"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "shipway")
	}

	return filepath.Join(configDir, "shipway.yaml"), nil
}

// LoadConfig builds the effective configuration for a command invocation.
// Precedence, lowest to highest: defaults, config file, environment, flags.
// An explicit config file path (from --config) overrides the search paths.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("shipway")
	v.SetConfigType("yaml")

	if explicitPath != nil {
		v.SetConfigFile(*explicitPath)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; anything else is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("shipway")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile persists the configuration as YAML under the user or
// system config directory.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file may name private key paths and database DSNs.
	return os.WriteFile(path, data, 0600)
}
