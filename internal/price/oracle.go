// Package price resolves a token's USD price, preferring indexed market data
// and falling back to live forward quotes against the deepest venue.
package price

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/evm"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/survey"
	"github.com/qinghaihe378-ai/dexroute/internal/token"
)

type Quote struct {
	PriceUSD     decimal.Decimal `json:"price_usd"`
	Change1hPct  float64         `json:"change_1h_pct"`
	Change6hPct  float64         `json:"change_6h_pct"`
	Change24hPct float64         `json:"change_24h_pct"`
	LiquidityUSD float64         `json:"liquidity_usd,omitempty"`
	Volume24hUSD float64         `json:"volume_24h_usd,omitempty"`
	Source       string          `json:"source"`
	PairAddress  string          `json:"pair_address,omitempty"`
}

type Oracle struct {
	Screener *DexScreenerClient
	Native   *NativeClient
	Dial     func(ctx context.Context, chain registry.Chain) (evm.Caller, error)
	Log      *zap.Logger
}

func (o *Oracle) logger() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

// Price resolves the token's USD price. The survey result steers the
// on-chain fallback toward the deepest venue; when both the indexer and the
// chain fail to produce a positive price the error carries the
// price-unresolved code.
func (o *Oracle) Price(ctx context.Context, chain registry.Chain, tok token.Info, pools []survey.PoolQuote) (Quote, error) {
	if o.Screener != nil {
		quote, ok, err := o.Screener.TokenQuote(ctx, tok.Address)
		if err != nil {
			o.logger().Warn("dexscreener lookup failed, falling back to chain quotes", zap.Error(err))
		} else if ok {
			return quote, nil
		}
	}

	quote, ok := o.onChainQuote(ctx, chain, tok, pools)
	if !ok {
		return Quote{}, clierr.New(clierr.CodePriceUnresolved, "no price source produced a positive price for "+tok.Symbol)
	}
	return quote, nil
}

// onChainQuote prices the token by asking the deepest surveyed venue how many
// tokens one unit of each quote asset buys. The highest implied price wins.
func (o *Oracle) onChainQuote(ctx context.Context, chain registry.Chain, tok token.Info, pools []survey.PoolQuote) (Quote, bool) {
	if len(pools) == 0 {
		return Quote{}, false
	}
	best := pools[0]

	venue, ok := venueByID(chain.Key, best.VenueID)
	if !ok {
		return Quote{}, false
	}

	// v4 forward quoting needs the universal router plumbing the executor
	// does not speak yet; the surveyed slot0 price stands in for it.
	if venue.Protocol == registry.ProtocolV4 {
		if best.PriceUSD.IsPositive() {
			return Quote{PriceUSD: best.PriceUSD, Source: venue.Name}, true
		}
		return Quote{}, false
	}

	caller, err := o.Dial(ctx, chain)
	if err != nil {
		o.logger().Warn("rpc unavailable for on-chain pricing", zap.Error(err))
		return Quote{}, false
	}

	bestPrice := decimal.Zero
	for _, quote := range registry.QuoteAssets(chain.Key) {
		if quote.Address == tok.Address {
			continue
		}
		unitIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(quote.Decimals)), nil)

		var tokenOut decimal.Decimal
		switch venue.Protocol {
		case registry.ProtocolV2:
			tokenOut = o.v2UnitQuote(ctx, caller, venue, quote, tok, unitIn)
		case registry.ProtocolV3:
			tokenOut = o.v3UnitQuote(ctx, caller, venue, quote, tok, unitIn)
		}
		if !tokenOut.IsPositive() {
			continue
		}

		quoteUSD := decimal.NewFromInt(1)
		if !quote.Stable {
			native, err := o.Native.PriceUSD(ctx, chain)
			if err != nil || !native.IsPositive() {
				continue
			}
			quoteUSD = native
		}
		if price := quoteUSD.DivRound(tokenOut, 36); price.GreaterThan(bestPrice) {
			bestPrice = price
		}
	}

	if !bestPrice.IsPositive() {
		return Quote{}, false
	}
	return Quote{PriceUSD: bestPrice, Source: venue.Name}, true
}

func (o *Oracle) v2UnitQuote(ctx context.Context, caller evm.Caller, venue registry.Venue, quote registry.QuoteAsset, tok token.Info, unitIn *big.Int) decimal.Decimal {
	router := registry.MustABI(registry.UniswapV2RouterABI)
	out, err := evm.Call(ctx, caller, router, venue.Router, "getAmountsOut", unitIn, []common.Address{quote.Address, tok.Address})
	if err != nil {
		return decimal.Zero
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) < 2 || amounts[len(amounts)-1] == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amounts[len(amounts)-1], -int32(tok.Decimals))
}

func (o *Oracle) v3UnitQuote(ctx context.Context, caller evm.Caller, venue registry.Venue, quote registry.QuoteAsset, tok token.Info, unitIn *big.Int) decimal.Decimal {
	quoter := registry.MustABI(registry.UniswapV3QuoterABI)
	bestOut := decimal.Zero
	for _, fee := range registry.FeeTiers {
		out, err := evm.Call(ctx, caller, quoter, venue.Quoter, "quoteExactInputSingle",
			quote.Address, tok.Address, big.NewInt(int64(fee)), unitIn, big.NewInt(0))
		if err != nil {
			continue
		}
		amountOut, ok := evm.AsBigInt(out[0])
		if !ok {
			continue
		}
		if human := decimal.NewFromBigInt(amountOut, -int32(tok.Decimals)); human.GreaterThan(bestOut) {
			bestOut = human
		}
	}
	return bestOut
}

func venueByID(chainKey, venueID string) (registry.Venue, bool) {
	for _, venue := range registry.Venues(chainKey) {
		if venue.ID == venueID {
			return venue, true
		}
	}
	return registry.Venue{}, false
}
