// Package token resolves pasted addresses into ERC-20 metadata.
package token

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/qinghaihe378-ai/dexroute/internal/cache"
	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/evm"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/session"
)

// Metadata is immutable for a deployed token, so cached entries live long.
const metadataTTL = 24 * time.Hour

type Info struct {
	Address  common.Address `json:"address"`
	ChainKey string         `json:"chain"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

type Resolver struct {
	Dial    func(ctx context.Context, chain registry.Chain) (evm.Caller, error)
	Session *session.Context
	Cache   *cache.Store
	Log     *zap.Logger
}

func (r *Resolver) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Resolve validates the address, pins the session to the token's home chain
// when it is well known, and reads name, symbol and decimals on-chain. A
// token that fails any metadata read yields no partial Info.
func (r *Resolver) Resolve(ctx context.Context, rawAddr string) (Info, error) {
	if !common.IsHexAddress(rawAddr) {
		return Info{}, clierr.New(clierr.CodeInvalidAddress, "invalid token address: "+rawAddr)
	}
	addr := common.HexToAddress(rawAddr)

	if home, ok := registry.DetectTokenChain(addr); ok {
		r.Session.Switch(home)
	}
	chain := r.Session.Chain()

	cacheKey := "token:" + chain.Key + ":" + strings.ToLower(addr.Hex())
	var cached Info
	if hit, err := r.Cache.GetJSON(cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	caller, err := r.Dial(ctx, chain)
	if err != nil {
		return Info{}, clierr.Wrap(clierr.CodeUnavailable, "rpc unavailable for chain "+chain.Key, err)
	}

	info, err := fetchMetadata(ctx, caller, chain, addr)
	if err != nil {
		return Info{}, err
	}

	if err := r.Cache.SetJSON(cacheKey, info, metadataTTL); err != nil {
		r.logger().Warn("token metadata cache write failed", zap.Error(err))
	}
	r.logger().Debug("resolved token",
		zap.String("chain", chain.Key),
		zap.String("address", addr.Hex()),
		zap.String("symbol", info.Symbol),
		zap.Uint8("decimals", info.Decimals),
	)
	return info, nil
}

func fetchMetadata(ctx context.Context, caller evm.Caller, chain registry.Chain, addr common.Address) (Info, error) {
	erc20 := registry.MustABI(registry.ERC20ABI)

	out, err := evm.Call(ctx, caller, erc20, addr, "decimals")
	if err != nil {
		return Info{}, clierr.Wrap(clierr.CodeMetadataUnavailable, "token does not expose decimals()", err)
	}
	decimals, ok := evm.AsUint8(out[0])
	if !ok {
		return Info{}, clierr.New(clierr.CodeMetadataUnavailable, "token returned malformed decimals()")
	}

	symbol, err := stringField(ctx, caller, addr, "symbol")
	if err != nil {
		return Info{}, err
	}
	name, err := stringField(ctx, caller, addr, "name")
	if err != nil {
		return Info{}, err
	}

	return Info{
		Address:  addr,
		ChainKey: chain.Key,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	}, nil
}

// stringField reads a string accessor, falling back to the legacy bytes32
// encoding used by tokens like MKR.
func stringField(ctx context.Context, caller evm.Caller, addr common.Address, method string) (string, error) {
	erc20 := registry.MustABI(registry.ERC20ABI)
	if out, err := evm.Call(ctx, caller, erc20, addr, method); err == nil {
		if s, ok := evm.AsString(out[0]); ok && s != "" {
			return s, nil
		}
	}

	legacy := registry.MustABI(registry.ERC20Bytes32ABI)
	out, err := evm.Call(ctx, caller, legacy, addr, method)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeMetadataUnavailable, "token does not expose "+method+"()", err)
	}
	if s, ok := evm.Bytes32String(out[0]); ok {
		return s, nil
	}
	return "", clierr.New(clierr.CodeMetadataUnavailable, "token returned malformed "+method+"()")
}
