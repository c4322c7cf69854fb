package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "auditagent.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `{"agent":{"account_id":"0.0.50"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Agent.MaxTurns != 15 {
		t.Fatalf("unexpected default max turns: %d", cfg.Agent.MaxTurns)
	}
	if cfg.Agent.Workers != 1 {
		t.Fatalf("unexpected default workers: %d", cfg.Agent.Workers)
	}
	if cfg.Transport.Driver != "memory" {
		t.Fatalf("unexpected default transport driver: %s", cfg.Transport.Driver)
	}
	if cfg.Checkpoint.Driver != "file" {
		t.Fatalf("unexpected default checkpoint driver: %s", cfg.Checkpoint.Driver)
	}
	if cfg.Checkpoint.Path != filepath.Join(dir, "data", "checkpoint.json") {
		t.Fatalf("checkpoint path not anchored to config dir: %s", cfg.Checkpoint.Path)
	}
	if cfg.Storage.AuditStore.Driver != "memory" {
		t.Fatalf("unexpected default storage driver: %s", cfg.Storage.AuditStore.Driver)
	}
	if cfg.Engine.Provider != "openai" || cfg.Engine.OpenAI.TimeoutSeconds != 120 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if len(cfg.Alerting.Channels) != 1 || cfg.Alerting.Channels[0] != "log" {
		t.Fatalf("unexpected alerting defaults: %v", cfg.Alerting.Channels)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"agent": {"account_id": "0.0.50"},
		"checkpoint": {"path": "state/cp.json"},
		"sandbox": {"catalog_path": "conf/tools.yaml"},
		"runtime": {"data_dir": "var"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Checkpoint.Path != filepath.Join(dir, "state", "cp.json") {
		t.Fatalf("checkpoint path not resolved: %s", cfg.Checkpoint.Path)
	}
	if cfg.Sandbox.CatalogPath != filepath.Join(dir, "conf", "tools.yaml") {
		t.Fatalf("catalog path not resolved: %s", cfg.Sandbox.CatalogPath)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "var") {
		t.Fatalf("data dir not resolved: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadValidates(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing account id": `{}`,
		"bad transport":      `{"agent":{"account_id":"0.0.50"},"transport":{"driver":"kafka"}}`,
		"bad checkpoint":     `{"agent":{"account_id":"0.0.50"},"checkpoint":{"driver":"etcd"}}`,
		"bad storage":        `{"agent":{"account_id":"0.0.50"},"storage":{"audit_store":{"driver":"postgres"}}}`,
		"bad engine":         `{"agent":{"account_id":"0.0.50"},"engine":{"provider":"llama"}}`,
	}
	for name, content := range cases {
		path := writeConfig(t, t.TempDir(), content)
		if _, err := Load(path); err == nil {
			t.Fatalf("case %q: expected validation error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
