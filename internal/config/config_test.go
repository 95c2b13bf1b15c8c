package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\nchain: bsc\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DEXROUTE_OUTPUT", "json")
	t.Setenv("DEXROUTE_CHAIN", "base")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5, Chain: "eth", SlippageBps: -1}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.Chain != "eth" {
		t.Fatalf("expected chain from flags, got %s", settings.Chain)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadTradeDefaults(t *testing.T) {
	tmp := t.TempDir()
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(tmp, "missing.yaml"), SlippageBps: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !settings.ProtectiveMode {
		t.Fatal("protective mode should default to on")
	}
	if settings.SlippageBps != 500 {
		t.Fatalf("expected default slippage of 500 bps, got %d", settings.SlippageBps)
	}
	if settings.DeadlineHorizon != 20*time.Minute {
		t.Fatalf("expected 20m deadline horizon, got %s", settings.DeadlineHorizon)
	}
}

func TestLoadSlippageBounds(t *testing.T) {
	tmp := t.TempDir()
	_, err := Load(GlobalFlags{ConfigPath: filepath.Join(tmp, "missing.yaml"), SlippageBps: 10001})
	if err == nil {
		t.Fatal("expected error for slippage above 10000 bps")
	}
}

func TestLoadRPCOverridePrecedence(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("rpc:\n  bsc: https://file.example\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DEXROUTE_RPC_BSC", "https://env.example")
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Chain: "bsc", RPCURL: "https://flag.example", SlippageBps: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.RPCOverrides["bsc"] != "https://flag.example" {
		t.Fatalf("expected flag rpc override to win, got %s", settings.RPCOverrides["bsc"])
	}
}
