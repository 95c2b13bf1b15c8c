package registry

import (
	"fmt"
	"strings"
)

// Canonical default EVM RPC endpoints by chain key.
// These values are used whenever no override is configured.
var defaultRPCByChain = map[string]string{
	"eth":  "https://eth.llamarpc.com",
	"base": "https://mainnet.base.org",
	"bsc":  "https://bsc-dataseed.binance.org",
}

func DefaultRPCURL(chainKey string) (string, bool) {
	value, ok := defaultRPCByChain[chainKey]
	return value, ok
}

func ResolveRPCURL(override, chainKey string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainKey); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain %q; provide --rpc-url", chainKey)
}
