package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("SIMHOST_TOKEN_SIGNING_KEY", "test-key")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.Autoscaler.ConsecutiveRequired != 3 {
		t.Fatalf("expected default consecutive windows 3, got %d", cfg.Autoscaler.ConsecutiveRequired)
	}
}

func TestLoadMergesYAMLFile(t *testing.T) {
	t.Setenv("SIMHOST_TOKEN_SIGNING_KEY", "test-key")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "listen_addr: \":9090\"\nnode_id: \"node-a\"\ncluster:\n  store_driver: sqlite\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected file listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.Cluster.StoreDriver != "sqlite" {
		t.Fatalf("expected sqlite store driver, got %s", cfg.Cluster.StoreDriver)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("SIMHOST_TOKEN_SIGNING_KEY", "test-key")
	t.Setenv("SIMHOST_LISTEN_ADDR", ":7070")
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("expected env override, got %s", cfg.ListenAddr)
	}
}

func TestLoadMissingRequiredSigningKeyFails(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing required token signing key")
	}
}
