package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.NumShards != 1 {
		t.Fatalf("expected default NumShards 1, got %d", cfg.Network.NumShards)
	}
	if cfg.Consensus.PoWSubmissionTimeoutMS != 60_000 {
		t.Fatalf("expected default pow timeout 60000ms, got %d", cfg.Consensus.PoWSubmissionTimeoutMS)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	contents := []byte("network:\n  num_shards: 4\n  network_id: 2\nrpc:\n  listen_addr: \"0.0.0.0:8545\"\n")
	if err := os.WriteFile(path, contents, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.NumShards != 4 {
		t.Fatalf("expected NumShards 4, got %d", cfg.Network.NumShards)
	}
	if cfg.Network.NetworkID != 2 {
		t.Fatalf("expected NetworkID 2, got %d", cfg.Network.NetworkID)
	}
	if cfg.RPC.ListenAddr != "0.0.0.0:8545" {
		t.Fatalf("expected rpc listen_addr override, got %q", cfg.RPC.ListenAddr)
	}
	// Unset fields still fall back to defaults.
	if cfg.Consensus.ViewChangeTimeoutMS != 5_000 {
		t.Fatalf("expected default viewchange timeout to survive a partial override, got %d", cfg.Consensus.ViewChangeTimeoutMS)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHARDCORE_NETWORK_NUM_SHARDS", "8")
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.NumShards != 8 {
		t.Fatalf("expected env override NumShards 8, got %d", cfg.Network.NumShards)
	}
}
