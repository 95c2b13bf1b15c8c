package registry

import "github.com/ethereum/go-ethereum/common"

// Protocol identifies the pool mechanism a venue uses.
type Protocol string

const (
	ProtocolV2 Protocol = "v2" // constant-product pairs
	ProtocolV3 Protocol = "v3" // concentrated liquidity, per-fee-tier pools
	ProtocolV4 Protocol = "v4" // singleton manager keyed by PoolKey
)

// Venue is a DEX deployment on a specific chain. Only the fields relevant to
// its protocol are populated.
type Venue struct {
	ID       string
	Name     string
	ChainKey string
	Protocol Protocol

	Router  common.Address
	Factory common.Address

	Quoter common.Address

	PoolManager     common.Address
	StateView       common.Address
	UniversalRouter common.Address
}

// FeeTiers are probed for tiered protocols (v3 and v4), expressed in
// hundredths of a basis point (3000 is a 0.30% fee).
var FeeTiers = []uint32{100, 500, 2500, 3000, 10000}

// TickSpacing derives the v4 pool key tick spacing from the fee tier.
func TickSpacing(fee uint32) int32 {
	return int32(fee / 50)
}

var venuesByChain = map[string][]Venue{
	"eth": {
		{
			ID: "uniswap-v2", Name: "Uniswap V2", ChainKey: "eth", Protocol: ProtocolV2,
			Router:  common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
			Factory: common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
		},
		{
			ID: "uniswap-v3", Name: "Uniswap V3", ChainKey: "eth", Protocol: ProtocolV3,
			Router:  common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
			Factory: common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
			Quoter:  common.HexToAddress("0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"),
		},
		{
			ID: "uniswap-v4", Name: "Uniswap V4", ChainKey: "eth", Protocol: ProtocolV4,
			PoolManager:     common.HexToAddress("0x000000000004444c5dc75cB358380D2e3dE08A90"),
			Quoter:          common.HexToAddress("0x52f0e24d1c21c8a0cb1e5a5dd6198556bd9e1203"),
			StateView:       common.HexToAddress("0x7ffe42c4a5deea5b0fec41c94c136cf115597227"),
			UniversalRouter: common.HexToAddress("0x66a9893cc07d91d95644aedd05d03f95e1dba8af"),
		},
		{
			ID: "sushiswap", Name: "SushiSwap", ChainKey: "eth", Protocol: ProtocolV2,
			Router:  common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F"),
			Factory: common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac"),
		},
	},
	"base": {
		{
			ID: "uniswap-v2", Name: "Uniswap V2", ChainKey: "base", Protocol: ProtocolV2,
			Router:  common.HexToAddress("0x4752ba5dbc23f44d87826276bf6fd6b1c372ad24"),
			Factory: common.HexToAddress("0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6"),
		},
		{
			ID: "uniswap-v3", Name: "Uniswap V3", ChainKey: "base", Protocol: ProtocolV3,
			Router:  common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
			Factory: common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD"),
			Quoter:  common.HexToAddress("0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a"),
		},
		{
			ID: "uniswap-v4", Name: "Uniswap V4", ChainKey: "base", Protocol: ProtocolV4,
			PoolManager:     common.HexToAddress("0x498581ff718922c3f8e6a244956af099b2652b2b"),
			Quoter:          common.HexToAddress("0x0d5e0f971ed27fbff6c2837bf31316121532048d"),
			StateView:       common.HexToAddress("0xa3c0c9b65bad0b08107aa264b0f3db444b867a71"),
			UniversalRouter: common.HexToAddress("0x6ff5693b99212da76ad316178a184ab56d299b43"),
		},
		{
			ID: "baseswap", Name: "BaseSwap", ChainKey: "base", Protocol: ProtocolV2,
			Router:  common.HexToAddress("0x327Df1E6de05895d2ab08513aDD9B9647126758E"),
			Factory: common.HexToAddress("0xFDa619b6dB9B883D20d395ed9C6326875FbAcc32"),
		},
	},
	"bsc": {
		{
			ID: "pancakeswap-v2", Name: "PancakeSwap V2", ChainKey: "bsc", Protocol: ProtocolV2,
			Router:  common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"),
			Factory: common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"),
		},
		{
			ID: "pancakeswap-v3", Name: "PancakeSwap V3", ChainKey: "bsc", Protocol: ProtocolV3,
			Router:  common.HexToAddress("0x1b81D678ffb9C0263b24A97847620C99d213eB14"),
			Factory: common.HexToAddress("0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865"),
			Quoter:  common.HexToAddress("0x78D78E420Da98ad378D7799bE8f4AF69033EB077"),
		},
		{
			ID: "uniswap-v4", Name: "Uniswap V4", ChainKey: "bsc", Protocol: ProtocolV4,
			PoolManager:     common.HexToAddress("0x28e2ea090877bf75740558f6bfb36a5ffee9e9df"),
			Quoter:          common.HexToAddress("0x9f75dd27d6664c475b90e105573e550ff69437b0"),
			StateView:       common.HexToAddress("0xd13dd3d6e93f276fafc9db9e6bb47c1180aee0c4"),
			UniversalRouter: common.HexToAddress("0x1906c1d672b88cd1b9ac7593301ca990f94eae07"),
		},
		{
			ID: "uniswap-v2", Name: "Uniswap V2", ChainKey: "bsc", Protocol: ProtocolV2,
			Router:  common.HexToAddress("0x4752ba5dbc23f44d87826276bf6fd6b1c372ad24"),
			Factory: common.HexToAddress("0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6"),
		},
		{
			ID: "uniswap-v3", Name: "Uniswap V3", ChainKey: "bsc", Protocol: ProtocolV3,
			Router:  common.HexToAddress("0xB971eF87ede563556b2ED4b1C0b0019111Dd85d2"),
			Factory: common.HexToAddress("0xdB1d10011AD0Ff90774D0C6Bb92e5C5c8b4461F7"),
			Quoter:  common.HexToAddress("0x78D78E420Da98ad378D7799bE8f4AF69033EB077"),
		},
	},
}

func Venues(chainKey string) []Venue {
	venues := venuesByChain[chainKey]
	out := make([]Venue, len(venues))
	copy(out, venues)
	return out
}

// V2Venues returns only constant-product venues, the set eligible for swap
// routing.
func V2Venues(chainKey string) []Venue {
	var out []Venue
	for _, v := range venuesByChain[chainKey] {
		if v.Protocol == ProtocolV2 {
			out = append(out, v)
		}
	}
	return out
}
