package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain describes an EVM network the router can trade on.
type Chain struct {
	Key           string
	Name          string
	ChainID       int64
	NativeSymbol  string
	WrappedNative common.Address
}

var chains = []Chain{
	{
		Key:           "eth",
		Name:          "Ethereum",
		ChainID:       1,
		NativeSymbol:  "ETH",
		WrappedNative: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	},
	{
		Key:           "base",
		Name:          "Base",
		ChainID:       8453,
		NativeSymbol:  "ETH",
		WrappedNative: common.HexToAddress("0x4200000000000000000000000000000000000006"),
	},
	{
		Key:           "bsc",
		Name:          "BNB Smart Chain",
		ChainID:       56,
		NativeSymbol:  "BNB",
		WrappedNative: common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"),
	},
}

var chainsByKey = func() map[string]Chain {
	m := make(map[string]Chain, len(chains))
	for _, c := range chains {
		m[c.Key] = c
	}
	return m
}()

var chainsByID = func() map[int64]Chain {
	m := make(map[int64]Chain, len(chains))
	for _, c := range chains {
		m[c.ChainID] = c
	}
	return m
}()

func Chains() []Chain {
	out := make([]Chain, len(chains))
	copy(out, chains)
	return out
}

func ChainByKey(key string) (Chain, error) {
	c, ok := chainsByKey[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Chain{}, fmt.Errorf("unknown chain %q (supported: eth, base, bsc)", key)
	}
	return c, nil
}

func ChainByID(id int64) (Chain, bool) {
	c, ok := chainsByID[id]
	return c, ok
}

// Well-known token homes. When a pasted address matches one of these, the
// session switches to that chain without probing RPC endpoints.
var wellKnownTokens = map[string]string{
	"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": "eth",  // WETH
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": "eth",  // USDC
	"0xdac17f958d2ee523a2206206994597c13d831ec7": "eth",  // USDT
	"0x6b175474e89094c44da98b954eedeac495271d0f": "eth",  // DAI
	"0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c": "bsc",  // WBNB
	"0x55d398326f99059ff775485246999027b3197955": "bsc",  // USDT
	"0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d": "bsc",  // USDC
	"0x4200000000000000000000000000000000000006": "base", // WETH
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": "base", // USDC
}

// DetectTokenChain reports the chain a well-known token lives on. The second
// return is false for addresses with no registry entry; callers should keep
// the session's current chain in that case.
func DetectTokenChain(addr common.Address) (Chain, bool) {
	key, ok := wellKnownTokens[strings.ToLower(addr.Hex())]
	if !ok {
		return Chain{}, false
	}
	return chainsByKey[key], true
}
