package survey

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/qinghaihe378-ai/dexroute/internal/evm"
	"github.com/qinghaihe378-ai/dexroute/internal/evm/evmtest"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/token"
)

var (
	memeToken = token.Info{
		Address:  common.HexToAddress("0x9999999999999999999999999999999999999999"),
		ChainKey: "eth",
		Name:     "Meme",
		Symbol:   "MEME",
		Decimals: 18,
	}
	pairUSDT = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	pairWETH = common.HexToAddress("0xaaaa000000000000000000000000000000000002")
)

func newSurveyor(fake *evmtest.FakeCaller) *Surveyor {
	return &Surveyor{
		Dial: func(context.Context, registry.Chain) (evm.Caller, error) {
			return fake, nil
		},
		NativePrice: func(context.Context, registry.Chain) (decimal.Decimal, error) {
			return decimal.NewFromInt(2000), nil
		},
	}
}

func ethChain(t *testing.T) registry.Chain {
	t.Helper()
	chain, err := registry.ChainByKey("eth")
	if err != nil {
		t.Fatalf("ChainByKey: %v", err)
	}
	return chain
}

// registerV2Pair wires a factory pair for one quote asset with the given
// reserves. Reserve order follows token0 sorting by address.
func registerV2Pair(fake *evmtest.FakeCaller, factory, pair common.Address, quote registry.QuoteAsset, quoteReserve, tokenReserve *big.Int) {
	fake.On(factory, "getPair", func(args []any) ([]any, error) {
		if other, ok := args[1].(common.Address); !ok || other != quote.Address {
			return []any{common.Address{}}, nil
		}
		return []any{pair}, nil
	})
	token0, token1 := quote.Address, memeToken.Address
	reserve0, reserve1 := quoteReserve, tokenReserve
	if memeToken.Address.Cmp(quote.Address) < 0 {
		token0, token1 = memeToken.Address, quote.Address
		reserve0, reserve1 = tokenReserve, quoteReserve
	}
	fake.Returns(pair, "token0", token0)
	fake.Returns(pair, "token1", token1)
	fake.Returns(pair, "getReserves", reserve0, reserve1, uint32(0))
}

func newFake() *evmtest.FakeCaller {
	return evmtest.New(
		registry.MustABI(registry.UniswapV2FactoryABI),
		registry.MustABI(registry.UniswapV2PairABI),
		registry.MustABI(registry.UniswapV3FactoryABI),
		registry.MustABI(registry.UniswapV3PoolABI),
		registry.MustABI(registry.UniswapV4StateViewABI),
	)
}

func quoteAsset(t *testing.T, symbol string) registry.QuoteAsset {
	t.Helper()
	for _, q := range registry.QuoteAssets("eth") {
		if q.Symbol == symbol {
			return q
		}
	}
	t.Fatalf("no quote asset %q on eth", symbol)
	return registry.QuoteAsset{}
}

func TestSurveyRanksPoolsByDepth(t *testing.T) {
	fake := newFake()
	usdt := quoteAsset(t, "USDT")
	weth := quoteAsset(t, "WETH")

	uniswap := registry.Venues("eth")[0]   // Uniswap V2
	sushiswap := registry.Venues("eth")[3] // SushiSwap

	// Uniswap holds 50k USDT against 1M tokens; SushiSwap holds 100 WETH
	// (200k USD at the fake native price) against 2M tokens.
	registerV2Pair(fake, uniswap.Factory, pairUSDT, usdt,
		new(big.Int).Mul(big.NewInt(50_000), big.NewInt(1_000_000)), // 6 decimals
		toWei(1_000_000))
	registerV2Pair(fake, sushiswap.Factory, pairWETH, weth,
		toWei(100),
		toWei(2_000_000))

	pools, err := newSurveyor(fake).Survey(context.Background(), ethChain(t), memeToken)
	if err != nil {
		t.Fatalf("Survey: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("expected 2 pools, got %d: %+v", len(pools), pools)
	}
	if pools[0].VenueID != "sushiswap" || pools[1].VenueID != "uniswap-v2" {
		t.Fatalf("expected depth-descending order, got %s then %s", pools[0].VenueID, pools[1].VenueID)
	}
	if !pools[0].LiquidityUSD.Equal(decimal.NewFromInt(200_000)) {
		t.Fatalf("expected 200000 USD for native-quoted pair, got %s", pools[0].LiquidityUSD)
	}
	if !pools[1].LiquidityUSD.Equal(decimal.NewFromInt(50_000)) {
		t.Fatalf("expected 50000 USD for stable-quoted pair, got %s", pools[1].LiquidityUSD)
	}
	// 50k USDT / 1M tokens puts the spot price at 5 cents.
	if !pools[1].PriceUSD.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("expected 0.05 USD price, got %s", pools[1].PriceUSD)
	}
}

func TestSurveyEmptyWhenNoPoolsExist(t *testing.T) {
	fake := newFake()
	// Factories answer with the zero address everywhere.
	for _, venue := range registry.Venues("eth") {
		if venue.Protocol == registry.ProtocolV2 || venue.Protocol == registry.ProtocolV3 {
			venue := venue
			fake.On(venue.Factory, "getPair", func([]any) ([]any, error) {
				return []any{common.Address{}}, nil
			})
			fake.On(venue.Factory, "getPool", func([]any) ([]any, error) {
				return []any{common.Address{}}, nil
			})
		}
	}

	pools, err := newSurveyor(fake).Survey(context.Background(), ethChain(t), memeToken)
	if err != nil {
		t.Fatalf("Survey: %v", err)
	}
	if len(pools) != 0 {
		t.Fatalf("expected empty survey, got %+v", pools)
	}
}

func TestSurveyDampsNativeQuotedTieredPools(t *testing.T) {
	fake := newFake()
	weth := quoteAsset(t, "WETH")

	var v3 registry.Venue
	for _, venue := range registry.Venues("eth") {
		if venue.Protocol == registry.ProtocolV3 {
			v3 = venue
		}
	}
	pool := common.HexToAddress("0xaaaa000000000000000000000000000000000003")
	fake.On(v3.Factory, "getPool", func(args []any) ([]any, error) {
		fee, _ := args[2].(*big.Int)
		if fee != nil && fee.Int64() == 3000 {
			other, _ := args[1].(common.Address)
			if other == weth.Address {
				return []any{pool}, nil
			}
		}
		return []any{common.Address{}}, nil
	})
	fake.Returns(pool, "liquidity", toWei(10)) // 10e18 raw
	// No slot0 handler: price stays zero, pool still reported.

	pools, err := newSurveyor(fake).Survey(context.Background(), ethChain(t), memeToken)
	if err != nil {
		t.Fatalf("Survey: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("expected one pool, got %+v", pools)
	}
	// 10 native units * 2000 USD * 0.01 damping.
	if !pools[0].LiquidityUSD.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected damped 200 USD, got %s", pools[0].LiquidityUSD)
	}
	if pools[0].FeeTier != 3000 {
		t.Fatalf("expected fee tier 3000, got %d", pools[0].FeeTier)
	}
	if !pools[0].PriceUSD.IsZero() {
		t.Fatalf("expected zero price without slot0, got %s", pools[0].PriceUSD)
	}
}

func TestPoolKeyOrdersCurrencies(t *testing.T) {
	low := common.HexToAddress("0x0000000000000000000000000000000000000001")
	high := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	key := PoolKey(high, low, 500)
	if key.Currency0 != low || key.Currency1 != high {
		t.Fatalf("expected sorted currencies, got %s / %s", key.Currency0.Hex(), key.Currency1.Hex())
	}
	if key.TickSpacing.Int64() != 10 {
		t.Fatalf("expected tick spacing 10 for fee 500, got %d", key.TickSpacing.Int64())
	}
	if key.Hooks != (common.Address{}) {
		t.Fatal("expected zero hooks address")
	}
}

func toWei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}
