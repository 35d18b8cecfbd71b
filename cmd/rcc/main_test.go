package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/scheduler"
	"github.com/routecc/rcc/telemetry"
)

const reloadTestConfig = `
providers:
  - id: openai-main
    protocol: openai
    base_url: https://api.openai.com/v1
    api_key: sk-test
    models:
      - id: gpt-4o

virtualModels:
  - id: vm
    strategy: round-robin
    targets:
      - provider: openai-main
        model: gpt-4o
`

func newTestManager(t *testing.T) *scheduler.Manager {
	t.Helper()
	tracker := telemetry.NewTracker(telemetry.NewMemoryStore(10), nil)
	manager := scheduler.NewManager(tracker, nil, nil)
	t.Cleanup(func() { manager.Shutdown(context.Background()) })
	return manager
}

func TestReloadInstallsPoolsAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(reloadTestConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	manager := newTestManager(t)

	if err := reload(path, &core.NoOpLogger{}, nil, manager); err != nil {
		t.Fatalf("reload: %v", err)
	}

	found := false
	for _, vm := range manager.ListVirtualModels() {
		if vm == "vm" {
			found = true
		}
	}
	if !found {
		t.Errorf("virtual models = %v, want vm installed", manager.ListVirtualModels())
	}

	backups, err := filepath.Glob(filepath.Join(dir, "config.yaml.*.bak"))
	if err != nil || len(backups) != 1 {
		t.Errorf("backups = %v (err %v), want exactly one", backups, err)
	}
}

func TestReloadRejectsBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("providers: [nonsense"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	manager := newTestManager(t)

	if err := reload(path, &core.NoOpLogger{}, nil, manager); err == nil {
		t.Fatal("reload of unparseable config should fail")
	}
	if vms := manager.ListVirtualModels(); len(vms) != 0 {
		t.Errorf("failed reload must not install pools: %v", vms)
	}

	backups, _ := filepath.Glob(filepath.Join(dir, "*.bak"))
	if len(backups) != 0 {
		t.Errorf("failed reload must not write a backup: %v", backups)
	}
}
