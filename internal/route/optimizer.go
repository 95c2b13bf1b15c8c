// Package route picks the execution route with the highest quoted output.
// Routing is restricted to constant-product venues, whose router quotes map
// one-to-one onto the swap calls the executor submits.
package route

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/evm"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/token"
)

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

type Candidate struct {
	VenueID        string           `json:"venue_id"`
	VenueName      string           `json:"venue"`
	Router         common.Address   `json:"router"`
	Path           []common.Address `json:"path"`
	PathSymbols    []string         `json:"path_symbols"`
	AmountIn       *big.Int         `json:"amount_in"`
	ExpectedOut    *big.Int         `json:"expected_out"`
	PriceImpactPct float64          `json:"price_impact_pct"`
}

type Optimizer struct {
	Dial func(ctx context.Context, chain registry.Chain) (evm.Caller, error)
	Log  *zap.Logger
}

func (o *Optimizer) logger() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

// Best quotes every eligible path on every v2 venue and returns the one with
// the strictly highest output. On equal output the earlier venue/path wins,
// keeping route selection deterministic. amountIn is wrapped-native units for
// buys and token units for sells.
func (o *Optimizer) Best(ctx context.Context, chain registry.Chain, tok token.Info, direction Direction, amountIn *big.Int) (Candidate, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Candidate{}, clierr.New(clierr.CodeUsage, "route amount must be positive")
	}

	caller, err := o.Dial(ctx, chain)
	if err != nil {
		return Candidate{}, clierr.Wrap(clierr.CodeUnavailable, "rpc unavailable for chain "+chain.Key, err)
	}

	router := registry.MustABI(registry.UniswapV2RouterABI)
	var best Candidate
	for _, venue := range registry.V2Venues(chain.Key) {
		for _, path := range o.candidatePaths(chain, tok, direction) {
			out := o.quotePath(ctx, caller, router, venue.Router, amountIn, path.addresses)
			if out == nil || out.Sign() <= 0 {
				continue
			}
			if best.ExpectedOut == nil || out.Cmp(best.ExpectedOut) > 0 {
				best = Candidate{
					VenueID:     venue.ID,
					VenueName:   venue.Name,
					Router:      venue.Router,
					Path:        path.addresses,
					PathSymbols: path.symbols,
					AmountIn:    new(big.Int).Set(amountIn),
					ExpectedOut: out,
				}
			}
		}
	}

	if best.ExpectedOut == nil {
		return Candidate{}, clierr.New(clierr.CodeNoRoute, "no venue quoted a route for "+tok.Symbol)
	}

	best.PriceImpactPct = o.priceImpact(ctx, caller, router, best)
	o.logger().Debug("route selected",
		zap.String("venue", best.VenueID),
		zap.Strings("path", best.PathSymbols),
		zap.String("expected_out", best.ExpectedOut.String()),
	)
	return best, nil
}

type pathOption struct {
	addresses []common.Address
	symbols   []string
}

// candidatePaths builds the direct route plus one two-hop route through each
// stable quote asset. Wrapped native never appears as an intermediate hop
// because it already anchors one end of every path.
func (o *Optimizer) candidatePaths(chain registry.Chain, tok token.Info, direction Direction) []pathOption {
	wrapped := chain.WrappedNative
	wrappedSymbol := "W" + chain.NativeSymbol

	var paths []pathOption
	if direction == DirectionBuy {
		paths = append(paths, pathOption{
			addresses: []common.Address{wrapped, tok.Address},
			symbols:   []string{wrappedSymbol, tok.Symbol},
		})
	} else {
		paths = append(paths, pathOption{
			addresses: []common.Address{tok.Address, wrapped},
			symbols:   []string{tok.Symbol, wrappedSymbol},
		})
	}

	for _, quote := range registry.QuoteAssets(chain.Key) {
		if quote.Address == tok.Address || quote.Address == wrapped {
			continue
		}
		if direction == DirectionBuy {
			paths = append(paths, pathOption{
				addresses: []common.Address{wrapped, quote.Address, tok.Address},
				symbols:   []string{wrappedSymbol, quote.Symbol, tok.Symbol},
			})
		} else {
			paths = append(paths, pathOption{
				addresses: []common.Address{tok.Address, quote.Address, wrapped},
				symbols:   []string{tok.Symbol, quote.Symbol, wrappedSymbol},
			})
		}
	}
	return paths
}

func (o *Optimizer) quotePath(ctx context.Context, caller evm.Caller, router *abi.ABI, target common.Address, amountIn *big.Int, path []common.Address) *big.Int {
	out, err := evm.Call(ctx, caller, router, target, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil
	}
	return amounts[len(amounts)-1]
}

// priceImpact compares the winning quote with a quote for a thousandth of
// the size. The shortfall against the linear extrapolation approximates the
// route's own price impact.
func (o *Optimizer) priceImpact(ctx context.Context, caller evm.Caller, router *abi.ABI, best Candidate) float64 {
	thousand := big.NewInt(1000)
	probeIn := new(big.Int).Div(best.AmountIn, thousand)
	if probeIn.Sign() <= 0 {
		return 0
	}
	probeOut := o.quotePath(ctx, caller, router, best.Router, probeIn, best.Path)
	if probeOut == nil || probeOut.Sign() <= 0 {
		return 0
	}

	linear := decimal.NewFromBigInt(new(big.Int).Mul(probeOut, thousand), 0)
	actual := decimal.NewFromBigInt(best.ExpectedOut, 0)
	if !linear.IsPositive() || actual.GreaterThanOrEqual(linear) {
		return 0
	}
	impact := decimal.NewFromInt(1).Sub(actual.DivRound(linear, 18)).Mul(decimal.NewFromInt(100))
	result, _ := impact.Float64()
	return result
}
