package app

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qinghaihe378-ai/dexroute/internal/version"
)

type testEnvelope struct {
	Version  string          `json:"version"`
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Error    *testError      `json:"error"`
	Warnings []string        `json:"warnings"`
	Meta     struct {
		Command string `json:"command"`
		Cache   struct {
			Status string `json:"status"`
		} `json:"cache"`
	} `json:"meta"`
}

type testError struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("DEXROUTE_CACHE_PATH", filepath.Join(dir, "cache", "cache.db"))
	t.Setenv("DEXROUTE_CACHE_LOCK_PATH", filepath.Join(dir, "cache", "cache.lock"))
}

func run(t *testing.T, args ...string) (int, testEnvelope, string, string) {
	t.Helper()
	isolate(t)
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run(args)

	payload := stdout.Bytes()
	if code != 0 {
		payload = stderr.Bytes()
	}
	var env testEnvelope
	if len(bytes.TrimSpace(payload)) > 0 && bytes.HasPrefix(bytes.TrimSpace(payload), []byte("{")) {
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("decode envelope: %v\noutput: %s", err, payload)
		}
	}
	return code, env, stdout.String(), stderr.String()
}

func TestVersionCommand(t *testing.T) {
	code, _, stdout, _ := run(t, "version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if strings.TrimSpace(stdout) != version.CLIVersion {
		t.Fatalf("unexpected version output: %q", stdout)
	}
}

func TestChainsCommand(t *testing.T) {
	code, env, _, _ := run(t, "chains")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !env.Success {
		t.Fatal("expected success envelope")
	}
	var chains []chainView
	if err := json.Unmarshal(env.Data, &chains); err != nil {
		t.Fatalf("decode chains: %v", err)
	}
	if len(chains) != 3 {
		t.Fatalf("expected 3 chains, got %d", len(chains))
	}
	keys := map[string]bool{}
	for _, chain := range chains {
		keys[chain.Key] = true
		if chain.ChainID == 0 || chain.WrappedNative == "" {
			t.Fatalf("incomplete chain entry: %+v", chain)
		}
	}
	for _, want := range []string{"eth", "base", "bsc"} {
		if !keys[want] {
			t.Fatalf("missing chain %s", want)
		}
	}
	if env.Meta.Cache.Status != "bypass" {
		t.Fatalf("static data should bypass cache, got %s", env.Meta.Cache.Status)
	}
}

func TestVenuesCommandFiltersByChain(t *testing.T) {
	code, env, _, _ := run(t, "venues", "--chain", "bsc")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	var venues []venueView
	if err := json.Unmarshal(env.Data, &venues); err != nil {
		t.Fatalf("decode venues: %v", err)
	}
	if len(venues) == 0 {
		t.Fatal("expected at least one bsc venue")
	}
	for _, venue := range venues {
		if venue.Chain != "bsc" {
			t.Fatalf("venue %s leaked from chain %s", venue.ID, venue.Chain)
		}
	}
}

func TestVenuesCommandRejectsUnknownChain(t *testing.T) {
	code, env, _, _ := run(t, "venues", "--chain", "solana")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if env.Error == nil || env.Error.Type != "usage_error" {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
}

func TestSchemaCommandDescribesBuy(t *testing.T) {
	code, env, _, _ := run(t, "schema", "buy")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	var described struct {
		Path string `json:"path"`
		Use  string `json:"use"`
	}
	if err := json.Unmarshal(env.Data, &described); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if described.Path != "dexroute buy" {
		t.Fatalf("unexpected path: %s", described.Path)
	}
	if !strings.Contains(described.Use, "<native-amount>") {
		t.Fatalf("unexpected use line: %s", described.Use)
	}
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	code, env, _, _ := run(t, "stake")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if env.Error == nil || env.Error.Type != "usage_error" {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
}

func TestBuyRequiresAmountArg(t *testing.T) {
	code, env, _, _ := run(t, "buy", "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if env.Error == nil || env.Error.Type != "usage_error" {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
}

func TestSellRejectsBadPercent(t *testing.T) {
	for _, percent := range []string{"0", "101", "abc"} {
		code, env, _, _ := run(t, "sell", "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", percent)
		if code != 2 {
			t.Fatalf("percent %s: expected exit 2, got %d", percent, code)
		}
		if env.Error == nil || !strings.Contains(env.Error.Message, "percent") {
			t.Fatalf("percent %s: unexpected error body: %+v", percent, env.Error)
		}
	}
}

func TestInfoRejectsMalformedAddress(t *testing.T) {
	code, env, _, _ := run(t, "info", "not-an-address")
	if code != 20 {
		t.Fatalf("expected exit 20, got %d", code)
	}
	if env.Error == nil || env.Error.Type != "invalid_address" {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
}

func TestConflictingOutputFlags(t *testing.T) {
	code, env, _, _ := run(t, "chains", "--json", "--plain")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if env.Error == nil || env.Error.Type != "usage_error" {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
}

func TestTradesCommandEmptyJournal(t *testing.T) {
	code, env, _, _ := run(t, "trades")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	var trades []json.RawMessage
	if err := json.Unmarshal(env.Data, &trades); err != nil {
		t.Fatalf("decode trades: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected empty journal, got %d entries", len(trades))
	}
}

func TestResultsOnlyEmitsBareData(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run([]string{"chains", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", code, stderr.String())
	}
	var chains []chainView
	if err := json.Unmarshal(stdout.Bytes(), &chains); err != nil {
		t.Fatalf("results-only output should be the bare data payload: %v\n%s", err, stdout.String())
	}
	if len(chains) != 3 {
		t.Fatalf("expected 3 chains, got %d", len(chains))
	}
}
