package price

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qinghaihe378-ai/dexroute/internal/cache"
	"github.com/qinghaihe378-ai/dexroute/internal/httpx"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com"
	DefaultBinanceURL   = "https://api.binance.com"

	nativePriceTTL = time.Minute
)

// Last-resort anchors when every feed is down. Stale but bounded beats a
// zero that wipes out every USD figure downstream.
var fallbackNativeUSD = map[string]decimal.Decimal{
	"ETH": decimal.NewFromInt(2000),
	"BNB": decimal.NewFromInt(300),
}

// NativeClient prices the chain's native coin in USD. ETH chains go through
// CoinGecko, BSC goes through the Binance ticker.
type NativeClient struct {
	HTTP         *httpx.Client
	CoinGeckoURL string
	BinanceURL   string
	Cache        *cache.Store
	Log          *zap.Logger
}

func (c *NativeClient) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *NativeClient) PriceUSD(ctx context.Context, chain registry.Chain) (decimal.Decimal, error) {
	cacheKey := "native-usd:" + chain.NativeSymbol
	var cached string
	if hit, err := c.Cache.GetJSON(cacheKey, &cached); err == nil && hit {
		if price, err := decimal.NewFromString(cached); err == nil {
			return price, nil
		}
	}

	price, err := c.fetch(ctx, chain)
	if err != nil || !price.IsPositive() {
		fallback, ok := fallbackNativeUSD[chain.NativeSymbol]
		if !ok {
			return decimal.Zero, err
		}
		c.logger().Warn("native price feed failed, using fallback anchor",
			zap.String("symbol", chain.NativeSymbol),
			zap.String("fallback", fallback.String()),
			zap.Error(err),
		)
		return fallback, nil
	}

	if err := c.Cache.SetJSON(cacheKey, price.String(), nativePriceTTL); err != nil {
		c.logger().Warn("native price cache write failed", zap.Error(err))
	}
	return price, nil
}

func (c *NativeClient) fetch(ctx context.Context, chain registry.Chain) (decimal.Decimal, error) {
	if chain.NativeSymbol == "BNB" {
		return c.fetchBinance(ctx)
	}
	return c.fetchCoinGecko(ctx)
}

func (c *NativeClient) fetchCoinGecko(ctx context.Context) (decimal.Decimal, error) {
	base := c.CoinGeckoURL
	if strings.TrimSpace(base) == "" {
		base = DefaultCoinGeckoURL
	}
	url := strings.TrimRight(base, "/") + "/api/v3/simple/price?ids=ethereum&vs_currencies=usd"
	var resp struct {
		Ethereum struct {
			USD float64 `json:"usd"`
		} `json:"ethereum"`
	}
	if _, err := c.HTTP.GetJSON(ctx, url, &resp); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(resp.Ethereum.USD), nil
}

func (c *NativeClient) fetchBinance(ctx context.Context) (decimal.Decimal, error) {
	base := c.BinanceURL
	if strings.TrimSpace(base) == "" {
		base = DefaultBinanceURL
	}
	url := strings.TrimRight(base, "/") + "/api/v3/ticker/price?symbol=BNBUSDT"
	var resp struct {
		Price string `json:"price"`
	}
	if _, err := c.HTTP.GetJSON(ctx, url, &resp); err != nil {
		return decimal.Zero, err
	}
	value, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(value), nil
}
