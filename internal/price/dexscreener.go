package price

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/qinghaihe378-ai/dexroute/internal/httpx"
)

const DefaultDexScreenerURL = "https://api.dexscreener.com"

// DexScreenerClient reads indexed market data for a token. It is the primary
// price source; on-chain quoting is the fallback.
type DexScreenerClient struct {
	HTTP    *httpx.Client
	BaseURL string
}

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

type dexScreenerPair struct {
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	PriceUSD    string `json:"priceUsd"`
	PriceChange struct {
		H1  float64 `json:"h1"`
		H6  float64 `json:"h6"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
}

func (c *DexScreenerClient) baseURL() string {
	if strings.TrimSpace(c.BaseURL) != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return DefaultDexScreenerURL
}

// TokenQuote returns the quote from the deepest indexed pair, or ok=false
// when the token is not indexed or carries no positive price.
func (c *DexScreenerClient) TokenQuote(ctx context.Context, token common.Address) (Quote, bool, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL(), strings.ToLower(token.Hex()))
	var resp dexScreenerResponse
	if _, err := c.HTTP.GetJSON(ctx, url, &resp); err != nil {
		return Quote{}, false, err
	}
	if len(resp.Pairs) == 0 {
		return Quote{}, false, nil
	}

	best := resp.Pairs[0]
	for _, pair := range resp.Pairs[1:] {
		if pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
		}
	}

	priceUSD, err := decimal.NewFromString(strings.TrimSpace(best.PriceUSD))
	if err != nil || !priceUSD.IsPositive() {
		return Quote{}, false, nil
	}

	return Quote{
		PriceUSD:     priceUSD,
		Change1hPct:  best.PriceChange.H1,
		Change6hPct:  best.PriceChange.H6,
		Change24hPct: best.PriceChange.H24,
		LiquidityUSD: best.Liquidity.USD,
		Volume24hUSD: best.Volume.H24,
		Source:       "dexscreener:" + best.DexID,
		PairAddress:  best.PairAddress,
	}, true, nil
}
