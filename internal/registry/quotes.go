package registry

import "github.com/ethereum/go-ethereum/common"

// QuoteAsset is a deep-liquidity counter-asset pools are probed against.
// Stable assets are valued at one dollar; the rest are wrapped native coins
// valued through the native price feed.
type QuoteAsset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Stable   bool
}

var quoteAssetsByChain = map[string][]QuoteAsset{
	"eth": {
		{Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Symbol: "USDT", Decimals: 6, Stable: true},
		{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6, Stable: true},
		{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18},
	},
	"base": {
		{Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Symbol: "USDC", Decimals: 6, Stable: true},
		{Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Symbol: "WETH", Decimals: 18},
	},
	"bsc": {
		{Address: common.HexToAddress("0x55d398326f99059fF775485246999027B3197955"), Symbol: "USDT", Decimals: 18, Stable: true},
		{Address: common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"), Symbol: "USDC", Decimals: 18, Stable: true},
		{Address: common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"), Symbol: "WBNB", Decimals: 18},
	},
}

func QuoteAssets(chainKey string) []QuoteAsset {
	assets := quoteAssetsByChain[chainKey]
	out := make([]QuoteAsset, len(assets))
	copy(out, assets)
	return out
}
