package signer

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func clearKeyEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath, EnvKeystorePassword, EnvKeystorePasswordFile} {
		t.Setenv(key, "")
	}
}

func TestLocalSignerSignsWithEnvKey(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvPrivateKey, testPrivateKey)

	s, err := NewLocalSignerFromEnv(KeySourceEnv)
	if err != nil {
		t.Fatalf("NewLocalSignerFromEnv failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}

	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      21_000,
		GasPrice: big.NewInt(1),
	})
	signed, err := s.SignTx(common.Big1, tx)
	if err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(common.Big1), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != s.Address() {
		t.Fatalf("signed tx recovers %s, signer address is %s", sender, s.Address())
	}
}

func TestLocalSignerLoadsKeyFile(t *testing.T) {
	clearKeyEnv(t)
	keyFile := filepath.Join(t.TempDir(), "key.hex")
	if err := os.WriteFile(keyFile, []byte("0x"+testPrivateKey+"\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv(EnvPrivateKeyFile, keyFile)

	s, err := NewLocalSignerFromEnv(KeySourceFile)
	if err != nil {
		t.Fatalf("NewLocalSignerFromEnv failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func TestLocalSignerAutoDiscoversDefaultKeyFile(t *testing.T) {
	clearKeyEnv(t)
	cfgDir := t.TempDir()
	keyFile := filepath.Join(cfgDir, defaultPrivateKeyRelativePath)
	if err := os.MkdirAll(filepath.Dir(keyFile), 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(keyFile, []byte(testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv("XDG_CONFIG_HOME", cfgDir)

	s, err := NewLocalSignerFromEnv(KeySourceAuto)
	if err != nil {
		t.Fatalf("auto key source should find the default key file: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func TestLocalSignerOverrideBeatsConfiguredSources(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvPrivateKeyFile, "/tmp/does-not-exist")

	s, err := NewLocalSignerFromInputs(KeySourceFile, testPrivateKey)
	if err != nil {
		t.Fatalf("override key should win over the file source: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func TestLocalSignerRejectsUnknownSource(t *testing.T) {
	clearKeyEnv(t)
	if _, err := NewLocalSignerFromEnv("vault"); err == nil {
		t.Fatal("expected error for unsupported key source")
	}
}

func TestLocalSignerMissingKeyNamesEnvVars(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := NewLocalSignerFromEnv(KeySourceAuto)
	if err == nil {
		t.Fatal("expected missing key error")
	}
	if !strings.Contains(err.Error(), EnvPrivateKey) {
		t.Fatalf("missing key error should name %s, got: %v", EnvPrivateKey, err)
	}
}

func TestDefaultKeyFileDiscoveryIgnoresMissingPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if got := discoverDefaultPrivateKeyFile(); got != "" {
		t.Fatalf("expected empty path when no key file exists, got %q", got)
	}
}
