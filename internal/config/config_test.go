// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	cfg "shipway/internal/config"
	"shipway/internal/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	// Point the user config dir at an empty temp dir so no real config file
	// leaks into the test.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("database.type = %q, want sqlite", got.Database.Type)
	}
	if got.Deploy.Branch != "main" {
		t.Errorf("deploy.branch = %q, want main", got.Deploy.Branch)
	}
	if got.Timeouts.Connect != 10*time.Second {
		t.Errorf("timeouts.connect = %s, want 10s", got.Timeouts.Connect)
	}
}

func TestLoadConfigReadsExplicitFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	yaml := `target:
  host: app.example.com
  user: deploy
database:
  type: postgres
  dsn: postgresql://user@/shipway
timeouts:
  command: 2m
known_hosts:
  - hostname: app.example.com
    public_key: ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIDummy
`
	file := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Target.Host != "app.example.com" || got.Target.User != "deploy" {
		t.Errorf("target = %s@%s", got.Target.User, got.Target.Host)
	}
	if got.Database.Type != "postgres" {
		t.Errorf("database.type = %q, want postgres", got.Database.Type)
	}
	if got.Timeouts.Command != 2*time.Minute {
		t.Errorf("timeouts.command = %s, want 2m", got.Timeouts.Command)
	}
	if len(got.KnownHosts) != 1 || got.KnownHosts[0].Hostname != "app.example.com" {
		t.Errorf("known_hosts = %+v", got.KnownHosts)
	}
}

func TestLoadConfigEnvOnlyTarget(t *testing.T) {
	// CI passes the target and key entirely through the environment, with no
	// config file and no flags.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SHIPWAY_TARGET_HOST", "app.example.com")
	t.Setenv("SHIPWAY_TARGET_USER", "deploy")
	t.Setenv("SHIPWAY_KEY_PATH", "/ci/deploy_key")
	t.Setenv("SHIPWAY_DEPLOY_APP_DIR", "/srv/app")

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Target.Host != "app.example.com" {
		t.Errorf("target.host = %q, want env value", got.Target.Host)
	}
	if got.Target.User != "deploy" {
		t.Errorf("target.user = %q, want env value", got.Target.User)
	}
	if got.Key.Path != "/ci/deploy_key" {
		t.Errorf("key.path = %q, want env value", got.Key.Path)
	}
	if got.Deploy.AppDir != "/srv/app" {
		t.Errorf("deploy.app_dir = %q, want env value", got.Deploy.AppDir)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SHIPWAY_DATABASE_TYPE", "postgres")

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "postgres" {
		t.Errorf("database.type = %q, want env override postgres", got.Database.Type)
	}
}

func TestLoadConfigFlagOverridesAll(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SHIPWAY_DATABASE_DSN", "env.db")

	cmd := &cobra.Command{}
	cmd.Flags().String("database.dsn", "", "")
	if err := cmd.Flags().Set("database.dsn", "flag.db"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Dsn != "flag.db" {
		t.Errorf("database.dsn = %q, want flag.db", got.Database.Dsn)
	}
}

func TestWriteConfigFileCreatesFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	c := cfg.Config{}
	c.Target.Host = "app.example.com"
	c.Target.User = "deploy"
	c.Database.Type = "sqlite"
	c.Database.Dsn = "./shipway.db"

	if err := cfg.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}

	path, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file at %s, stat error: %v", path, err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}
}

func TestSeedRecords(t *testing.T) {
	c := cfg.Config{KnownHosts: []cfg.SeedEntry{
		{Hostname: "a.example.com", PublicKey: "ssh-ed25519 AAA"},
		{Hostname: "b.example.com", PublicKey: "ssh-ed25519 BBB"},
	}}
	records := c.SeedRecords()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Source != model.SourceWellKnown {
			t.Errorf("record %d source = %s, want %s", i, r.Source, model.SourceWellKnown)
		}
		if r.Hostname != c.KnownHosts[i].Hostname {
			t.Errorf("record %d hostname = %q", i, r.Hostname)
		}
	}
}
