// Package evm wraps read-only contract access behind a small interface so
// higher layers can be exercised against fakes.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Caller is the read surface used by the resolver, surveyor, oracle and risk
// scanner. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", rpcURL, err)
	}
	return client, nil
}

// Call packs a method call, executes it against the target contract and
// unpacks the raw outputs.
func Call(ctx context.Context, caller Caller, contractABI *abi.ABI, target common.Address, method string, args ...any) ([]any, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &target, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, target.Hex(), err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("call %s on %s: empty return", method, target.Hex())
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func AsAddress(v any) (common.Address, bool) {
	addr, ok := v.(common.Address)
	return addr, ok
}

func AsBigInt(v any) (*big.Int, bool) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, false
	}
	return n, true
}

func AsUint8(v any) (uint8, bool) {
	n, ok := v.(uint8)
	return n, ok
}

func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Bytes32String decodes a fixed bytes32 return into a trimmed string. Legacy
// tokens use this encoding for symbol and name.
func Bytes32String(v any) (string, bool) {
	raw, ok := v.([32]byte)
	if !ok {
		return "", false
	}
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	if end == 0 {
		return "", false
	}
	return string(raw[:end]), true
}
