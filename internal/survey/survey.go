// Package survey probes every configured venue for pools holding a token and
// ranks them by depth in US dollars.
package survey

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qinghaihe378-ai/dexroute/internal/evm"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/token"
)

const defaultConcurrency = 8

// Concentrated liquidity raw values overstate spot depth badly when the
// quote side is a native coin; the original heuristic damps them to 1%.
var tieredNativeDamping = decimal.NewFromFloat(0.01)

type PoolQuote struct {
	VenueID      string            `json:"venue_id"`
	VenueName    string            `json:"venue"`
	Protocol     registry.Protocol `json:"protocol"`
	QuoteSymbol  string            `json:"quote_symbol"`
	QuoteAddress common.Address    `json:"quote_address"`
	FeeTier      uint32            `json:"fee_tier,omitempty"`
	LiquidityUSD decimal.Decimal   `json:"liquidity_usd"`
	PriceUSD     decimal.Decimal   `json:"price_usd"`
	PoolAddress  common.Address    `json:"pool_address,omitempty"`
}

type Surveyor struct {
	Dial        func(ctx context.Context, chain registry.Chain) (evm.Caller, error)
	NativePrice func(ctx context.Context, chain registry.Chain) (decimal.Decimal, error)
	Log         *zap.Logger
	Concurrency int
}

func (s *Surveyor) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Survey fans probes out across venues, quote assets and fee tiers. Probe
// failures are dropped; the result holds only pools that exist and carry
// liquidity, deepest first. An empty slice is a valid outcome.
func (s *Surveyor) Survey(ctx context.Context, chain registry.Chain, tok token.Info) ([]PoolQuote, error) {
	caller, err := s.Dial(ctx, chain)
	if err != nil {
		return nil, err
	}

	native := s.lazyNativePrice(chain)

	type probe func(ctx context.Context) (PoolQuote, bool)
	var probes []probe
	for _, venue := range registry.Venues(chain.Key) {
		for _, quote := range registry.QuoteAssets(chain.Key) {
			if quote.Address == tok.Address {
				continue
			}
			venue, quote := venue, quote
			switch venue.Protocol {
			case registry.ProtocolV2:
				probes = append(probes, func(ctx context.Context) (PoolQuote, bool) {
					return s.probeV2(ctx, caller, venue, quote, tok, native)
				})
			case registry.ProtocolV3:
				for _, fee := range registry.FeeTiers {
					fee := fee
					probes = append(probes, func(ctx context.Context) (PoolQuote, bool) {
						return s.probeV3(ctx, caller, venue, quote, tok, fee, native)
					})
				}
			case registry.ProtocolV4:
				for _, fee := range registry.FeeTiers {
					fee := fee
					probes = append(probes, func(ctx context.Context) (PoolQuote, bool) {
						return s.probeV4(ctx, caller, venue, quote, tok, fee, native)
					})
				}
			}
		}
	}

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	sem := make(chan struct{}, concurrency)
	results := make(chan PoolQuote, len(probes))
	var wg sync.WaitGroup
	for _, p := range probes {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if quote, ok := p(ctx); ok {
				results <- quote
			}
		}()
	}
	wg.Wait()
	close(results)

	var pools []PoolQuote
	for quote := range results {
		pools = append(pools, quote)
	}
	sort.SliceStable(pools, func(i, j int) bool {
		return pools[i].LiquidityUSD.GreaterThan(pools[j].LiquidityUSD)
	})

	s.logger().Debug("liquidity survey complete",
		zap.String("chain", chain.Key),
		zap.String("token", tok.Address.Hex()),
		zap.Int("probes", len(probes)),
		zap.Int("pools", len(pools)),
	)
	return pools, nil
}

// lazyNativePrice fetches the wrapped-native USD price at most once per
// survey, and only when a probe actually needs it.
func (s *Surveyor) lazyNativePrice(chain registry.Chain) func(ctx context.Context) decimal.Decimal {
	var once sync.Once
	var price decimal.Decimal
	return func(ctx context.Context) decimal.Decimal {
		once.Do(func() {
			if s.NativePrice == nil {
				return
			}
			p, err := s.NativePrice(ctx, chain)
			if err != nil {
				s.logger().Warn("native price unavailable during survey", zap.Error(err))
				return
			}
			price = p
		})
		return price
	}
}

func (s *Surveyor) probeV2(ctx context.Context, caller evm.Caller, venue registry.Venue, quote registry.QuoteAsset, tok token.Info, native func(context.Context) decimal.Decimal) (PoolQuote, bool) {
	factory := registry.MustABI(registry.UniswapV2FactoryABI)
	out, err := evm.Call(ctx, caller, factory, venue.Factory, "getPair", tok.Address, quote.Address)
	if err != nil {
		return PoolQuote{}, false
	}
	pairAddr, ok := evm.AsAddress(out[0])
	if !ok || pairAddr == (common.Address{}) {
		return PoolQuote{}, false
	}

	pair := registry.MustABI(registry.UniswapV2PairABI)
	reservesOut, err := evm.Call(ctx, caller, pair, pairAddr, "getReserves")
	if err != nil {
		return PoolQuote{}, false
	}
	reserve0, ok0 := evm.AsBigInt(reservesOut[0])
	reserve1, ok1 := evm.AsBigInt(reservesOut[1])
	if !ok0 || !ok1 {
		return PoolQuote{}, false
	}
	token0Out, err := evm.Call(ctx, caller, pair, pairAddr, "token0")
	if err != nil {
		return PoolQuote{}, false
	}
	token0, ok := evm.AsAddress(token0Out[0])
	if !ok {
		return PoolQuote{}, false
	}

	quoteReserve, tokenReserve := reserve0, reserve1
	if token0 != quote.Address {
		quoteReserve, tokenReserve = reserve1, reserve0
	}

	quoteUSD := s.quoteUnitUSD(ctx, quote, native)
	liquidityUSD := human(quoteReserve, quote.Decimals).Mul(quoteUSD)
	if !liquidityUSD.IsPositive() {
		return PoolQuote{}, false
	}

	priceUSD := decimal.Zero
	if tokenReserve.Sign() > 0 {
		priceUSD = liquidityUSD.DivRound(human(tokenReserve, tok.Decimals), 36)
	}

	return PoolQuote{
		VenueID:      venue.ID,
		VenueName:    venue.Name,
		Protocol:     registry.ProtocolV2,
		QuoteSymbol:  quote.Symbol,
		QuoteAddress: quote.Address,
		LiquidityUSD: liquidityUSD,
		PriceUSD:     priceUSD,
		PoolAddress:  pairAddr,
	}, true
}

func (s *Surveyor) probeV3(ctx context.Context, caller evm.Caller, venue registry.Venue, quote registry.QuoteAsset, tok token.Info, fee uint32, native func(context.Context) decimal.Decimal) (PoolQuote, bool) {
	factory := registry.MustABI(registry.UniswapV3FactoryABI)
	out, err := evm.Call(ctx, caller, factory, venue.Factory, "getPool", tok.Address, quote.Address, big.NewInt(int64(fee)))
	if err != nil {
		return PoolQuote{}, false
	}
	poolAddr, ok := evm.AsAddress(out[0])
	if !ok || poolAddr == (common.Address{}) {
		return PoolQuote{}, false
	}

	pool := registry.MustABI(registry.UniswapV3PoolABI)
	liqOut, err := evm.Call(ctx, caller, pool, poolAddr, "liquidity")
	if err != nil {
		return PoolQuote{}, false
	}
	liquidity, ok := evm.AsBigInt(liqOut[0])
	if !ok {
		return PoolQuote{}, false
	}

	liquidityUSD := s.tieredLiquidityUSD(ctx, liquidity, quote, native)
	if !liquidityUSD.IsPositive() {
		return PoolQuote{}, false
	}

	priceUSD := decimal.Zero
	if slotOut, err := evm.Call(ctx, caller, pool, poolAddr, "slot0"); err == nil {
		if sqrtPrice, ok := evm.AsBigInt(slotOut[0]); ok {
			quoteUSD := s.quoteUnitUSD(ctx, quote, native)
			priceUSD = sqrtPriceToUSD(sqrtPrice, tok.Address, tok.Decimals, quote.Address, quote.Decimals, quoteUSD)
		}
	}

	return PoolQuote{
		VenueID:      venue.ID,
		VenueName:    venue.Name,
		Protocol:     registry.ProtocolV3,
		QuoteSymbol:  quote.Symbol,
		QuoteAddress: quote.Address,
		FeeTier:      fee,
		LiquidityUSD: liquidityUSD,
		PriceUSD:     priceUSD,
		PoolAddress:  poolAddr,
	}, true
}

func (s *Surveyor) probeV4(ctx context.Context, caller evm.Caller, venue registry.Venue, quote registry.QuoteAsset, tok token.Info, fee uint32, native func(context.Context) decimal.Decimal) (PoolQuote, bool) {
	stateView := registry.MustABI(registry.UniswapV4StateViewABI)
	key := PoolKey(tok.Address, quote.Address, fee)

	liqOut, err := evm.Call(ctx, caller, stateView, venue.StateView, "getLiquidity", key)
	if err != nil {
		return PoolQuote{}, false
	}
	liquidity, ok := evm.AsBigInt(liqOut[0])
	if !ok {
		return PoolQuote{}, false
	}

	liquidityUSD := s.tieredLiquidityUSD(ctx, liquidity, quote, native)
	if !liquidityUSD.IsPositive() {
		return PoolQuote{}, false
	}

	priceUSD := decimal.Zero
	if slotOut, err := evm.Call(ctx, caller, stateView, venue.StateView, "getSlot0", key); err == nil {
		if sqrtPrice, ok := evm.AsBigInt(slotOut[0]); ok {
			quoteUSD := s.quoteUnitUSD(ctx, quote, native)
			priceUSD = sqrtPriceToUSD(sqrtPrice, tok.Address, tok.Decimals, quote.Address, quote.Decimals, quoteUSD)
		}
	}

	return PoolQuote{
		VenueID:      venue.ID,
		VenueName:    venue.Name,
		Protocol:     registry.ProtocolV4,
		QuoteSymbol:  quote.Symbol,
		QuoteAddress: quote.Address,
		FeeTier:      fee,
		LiquidityUSD: liquidityUSD,
		PriceUSD:     priceUSD,
	}, true
}

// tieredLiquidityUSD values a v3/v4 raw liquidity figure. Stable-quoted pools
// read it in quote decimals at a dollar; native-quoted pools convert through
// the native price and damp the result.
func (s *Surveyor) tieredLiquidityUSD(ctx context.Context, liquidity *big.Int, quote registry.QuoteAsset, native func(context.Context) decimal.Decimal) decimal.Decimal {
	if quote.Stable {
		return human(liquidity, quote.Decimals)
	}
	return human(liquidity, 18).Mul(native(ctx)).Mul(tieredNativeDamping)
}

func (s *Surveyor) quoteUnitUSD(ctx context.Context, quote registry.QuoteAsset, native func(context.Context) decimal.Decimal) decimal.Decimal {
	if quote.Stable {
		return decimal.NewFromInt(1)
	}
	return native(ctx)
}

// PoolKey builds the canonical v4 pool key for a token/quote pair with no
// hooks. currency0 must be the numerically lower address.
func PoolKey(token, quote common.Address, fee uint32) struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
	Hooks       common.Address
} {
	currency0, currency1 := quote, token
	if token.Cmp(quote) < 0 {
		currency0, currency1 = token, quote
	}
	return struct {
		Currency0   common.Address
		Currency1   common.Address
		Fee         *big.Int
		TickSpacing *big.Int
		Hooks       common.Address
	}{
		Currency0:   currency0,
		Currency1:   currency1,
		Fee:         big.NewInt(int64(fee)),
		TickSpacing: big.NewInt(int64(registry.TickSpacing(fee))),
		Hooks:       common.Address{},
	}
}

var q192 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 192), 0)

// sqrtPriceToUSD converts a Q64.96 sqrt price into the token's USD price.
// The raw ratio prices token1 in token0 units; orientation and decimal
// scaling depend on which side of the pool the token sits on.
func sqrtPriceToUSD(sqrtPriceX96 *big.Int, token common.Address, tokenDecimals uint8, quote common.Address, quoteDecimals uint8, quoteUSD decimal.Decimal) decimal.Decimal {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero
	}
	sqrt := decimal.NewFromBigInt(sqrtPriceX96, 0)
	ratio := sqrt.Mul(sqrt).DivRound(q192, 40) // token1 raw per token0 raw

	var rawTokenInQuote decimal.Decimal
	if token.Cmp(quote) < 0 {
		// token is token0, quote is token1
		rawTokenInQuote = ratio
	} else {
		if ratio.IsZero() {
			return decimal.Zero
		}
		rawTokenInQuote = decimal.NewFromInt(1).DivRound(ratio, 40)
	}

	scale := decimal.New(1, int32(tokenDecimals)-int32(quoteDecimals))
	return rawTokenInQuote.Mul(scale).Mul(quoteUSD)
}

func human(raw *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
