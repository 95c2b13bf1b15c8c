// Package evmtest provides an in-memory Caller for exercising contract-read
// paths without an RPC endpoint.
package evmtest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Handler produces the return values for one contract method invocation.
type Handler func(args []any) ([]any, error)

// FakeCaller dispatches eth_call payloads to registered handlers. Methods are
// matched by selector against the ABIs supplied at construction; a call with
// no handler behaves like a revert.
type FakeCaller struct {
	mu       sync.Mutex
	abis     []*abi.ABI
	handlers map[string]Handler
	codes    map[common.Address][]byte
	calls    []string
}

func New(abis ...*abi.ABI) *FakeCaller {
	return &FakeCaller{
		abis:     abis,
		handlers: map[string]Handler{},
		codes:    map[common.Address][]byte{},
	}
}

func key(target common.Address, method string) string {
	return strings.ToLower(target.Hex()) + "/" + method
}

// On registers a handler for a method on a target contract.
func (f *FakeCaller) On(target common.Address, method string, fn Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key(target, method)] = fn
}

// Returns registers a handler with fixed return values.
func (f *FakeCaller) Returns(target common.Address, method string, values ...any) {
	f.On(target, method, func([]any) ([]any, error) {
		return values, nil
	})
}

// SetCode sets the bytecode reported by CodeAt.
func (f *FakeCaller) SetCode(target common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[target] = code
}

// Calls lists every dispatched "address/method" in order.
func (f *FakeCaller) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil {
		return nil, fmt.Errorf("contract creation not supported")
	}
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	method, err := f.methodBySelector(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s inputs: %w", method.Name, err)
	}

	f.mu.Lock()
	f.calls = append(f.calls, key(*msg.To, method.Name))
	handler, ok := f.handlers[key(*msg.To, method.Name)]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution reverted: no handler for %s on %s", method.Name, msg.To.Hex())
	}

	values, err := handler(args)
	if err != nil {
		return nil, err
	}
	out, err := method.Outputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("pack %s outputs: %w", method.Name, err)
	}
	return out, nil
}

func (f *FakeCaller) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[account]
	if !ok {
		return nil, nil
	}
	return code, nil
}

func (f *FakeCaller) methodBySelector(selector []byte) (*abi.Method, error) {
	for _, contractABI := range f.abis {
		for name := range contractABI.Methods {
			method := contractABI.Methods[name]
			if string(method.ID) == string(selector) {
				return &method, nil
			}
		}
	}
	return nil, fmt.Errorf("unknown selector %x", selector)
}
