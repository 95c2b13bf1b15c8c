// Package trade composes the resolver, surveyor, oracle, optimizer, risk
// scanner and executor into the operations the CLI exposes. Each dependency
// is a narrow interface so the flow can be exercised end to end with stubs.
package trade

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/qinghaihe378-ai/dexroute/internal/amount"
	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/execution"
	"github.com/qinghaihe378-ai/dexroute/internal/price"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/risk"
	"github.com/qinghaihe378-ai/dexroute/internal/route"
	"github.com/qinghaihe378-ai/dexroute/internal/survey"
	"github.com/qinghaihe378-ai/dexroute/internal/token"
)

type Resolver interface {
	Resolve(ctx context.Context, rawAddr string) (token.Info, error)
}

type Surveyor interface {
	Survey(ctx context.Context, chain registry.Chain, tok token.Info) ([]survey.PoolQuote, error)
}

type Pricer interface {
	Price(ctx context.Context, chain registry.Chain, tok token.Info, pools []survey.PoolQuote) (price.Quote, error)
}

type Router interface {
	Best(ctx context.Context, chain registry.Chain, tok token.Info, direction route.Direction, amountIn *big.Int) (route.Candidate, error)
}

type Scanner interface {
	Scan(ctx context.Context, chain registry.Chain, tok token.Info) (risk.Assessment, error)
}

type Swapper interface {
	Buy(ctx context.Context, chain registry.Chain, candidate route.Candidate, slippageBps int64) (execution.Receipt, error)
	Sell(ctx context.Context, chain registry.Chain, tokenAddr common.Address, candidate route.Candidate, slippageBps int64) (execution.Receipt, error)
	TokenBalance(ctx context.Context, tokenAddr common.Address) (*big.Int, error)
}

type Service struct {
	Resolver  Resolver
	Surveyor  Surveyor
	Oracle    Pricer
	Optimizer Router
	Scanner   Scanner
	Swapper   Swapper

	SlippageBps int64
	Protective  bool
	Log         *zap.Logger
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Snapshot is the read-only view produced by the info operation.
type Snapshot struct {
	Token        token.Info         `json:"token"`
	Pools        []survey.PoolQuote `json:"pools"`
	Price        *price.Quote       `json:"price,omitempty"`
	PriceWarning string             `json:"price_warning,omitempty"`
}

// Outcome reports an executed trade.
type Outcome struct {
	Token   token.Info        `json:"token"`
	Route   route.Candidate   `json:"route"`
	Risk    *risk.Assessment  `json:"risk,omitempty"`
	Receipt execution.Receipt `json:"receipt"`
}

// RiskReport pairs a resolved token with its assessment.
type RiskReport struct {
	Token      token.Info      `json:"token"`
	Assessment risk.Assessment `json:"assessment"`
}

// Info resolves a token and reports its pools and price without touching any
// funds. An unresolvable price degrades to a warning; a token with no pools
// is a valid, empty snapshot.
func (s *Service) Info(ctx context.Context, rawAddr string) (Snapshot, error) {
	tok, chain, err := s.resolve(ctx, rawAddr)
	if err != nil {
		return Snapshot{}, err
	}
	pools, err := s.Surveyor.Survey(ctx, chain, tok)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{Token: tok, Pools: pools}
	quote, err := s.Oracle.Price(ctx, chain, tok, pools)
	if err != nil {
		cliErr, ok := clierr.As(err)
		if !ok || cliErr.Code != clierr.CodePriceUnresolved {
			return Snapshot{}, err
		}
		snapshot.PriceWarning = "price could not be resolved from any source"
	} else {
		snapshot.Price = &quote
	}
	return snapshot, nil
}

// Buy spends nativeAmount (a decimal string in native currency units) on the
// token at rawAddr. In protective mode a high-risk assessment aborts before
// any transaction is built.
func (s *Service) Buy(ctx context.Context, rawAddr, nativeAmount string) (Outcome, error) {
	tok, chain, err := s.resolve(ctx, rawAddr)
	if err != nil {
		return Outcome{}, err
	}
	amountIn, err := amount.Parse(nativeAmount, 18)
	if err != nil {
		return Outcome{}, err
	}
	if amountIn.Sign() <= 0 {
		return Outcome{}, clierr.New(clierr.CodeUsage, "buy amount must be positive")
	}

	outcome := Outcome{Token: tok}
	if s.Protective {
		assessment, err := s.Scanner.Scan(ctx, chain, tok)
		if err != nil {
			return Outcome{}, err
		}
		outcome.Risk = &assessment
		if assessment.Level == risk.LevelHigh {
			return Outcome{}, clierr.New(clierr.CodeRiskBlocked,
				"refusing to buy high-risk token "+tok.Symbol+": "+strings.Join(assessment.Warnings, "; "))
		}
	}

	if err := s.ensureLiquidity(ctx, chain, tok); err != nil {
		return Outcome{}, err
	}
	candidate, err := s.Optimizer.Best(ctx, chain, tok, route.DirectionBuy, amountIn)
	if err != nil {
		return Outcome{}, err
	}
	receipt, err := s.Swapper.Buy(ctx, chain, candidate, s.SlippageBps)
	if err != nil {
		return Outcome{}, err
	}

	outcome.Route = candidate
	outcome.Receipt = receipt
	s.logger().Info("buy executed",
		zap.String("token", tok.Symbol),
		zap.String("venue", candidate.VenueID),
		zap.String("tx", receipt.TxHash.Hex()),
	)
	return outcome, nil
}

// Sell swaps percent of the wallet's token balance back to native currency.
func (s *Service) Sell(ctx context.Context, rawAddr string, percent int) (Outcome, error) {
	if percent < 1 || percent > 100 {
		return Outcome{}, clierr.New(clierr.CodeUsage, "sell percent must be between 1 and 100")
	}
	tok, chain, err := s.resolve(ctx, rawAddr)
	if err != nil {
		return Outcome{}, err
	}

	balance, err := s.Swapper.TokenBalance(ctx, tok.Address)
	if err != nil {
		return Outcome{}, err
	}
	sellAmount := new(big.Int).Mul(balance, big.NewInt(int64(percent)))
	sellAmount.Div(sellAmount, big.NewInt(100))
	if sellAmount.Sign() <= 0 {
		return Outcome{}, clierr.New(clierr.CodeUsage, "token balance is zero, nothing to sell")
	}

	if err := s.ensureLiquidity(ctx, chain, tok); err != nil {
		return Outcome{}, err
	}
	candidate, err := s.Optimizer.Best(ctx, chain, tok, route.DirectionSell, sellAmount)
	if err != nil {
		return Outcome{}, err
	}
	receipt, err := s.Swapper.Sell(ctx, chain, tok.Address, candidate, s.SlippageBps)
	if err != nil {
		return Outcome{}, err
	}

	s.logger().Info("sell executed",
		zap.String("token", tok.Symbol),
		zap.Int("percent", percent),
		zap.String("tx", receipt.TxHash.Hex()),
	)
	return Outcome{Token: tok, Route: candidate, Receipt: receipt}, nil
}

// CheckRisk runs the scanner without any trading side effects.
func (s *Service) CheckRisk(ctx context.Context, rawAddr string) (RiskReport, error) {
	tok, chain, err := s.resolve(ctx, rawAddr)
	if err != nil {
		return RiskReport{}, err
	}
	assessment, err := s.Scanner.Scan(ctx, chain, tok)
	if err != nil {
		return RiskReport{}, err
	}
	return RiskReport{Token: tok, Assessment: assessment}, nil
}

func (s *Service) resolve(ctx context.Context, rawAddr string) (token.Info, registry.Chain, error) {
	tok, err := s.Resolver.Resolve(ctx, rawAddr)
	if err != nil {
		return token.Info{}, registry.Chain{}, err
	}
	chain, err := registry.ChainByKey(tok.ChainKey)
	if err != nil {
		return token.Info{}, registry.Chain{}, clierr.Wrap(clierr.CodeInternal, "resolved token on unknown chain", err)
	}
	return tok, chain, nil
}

func (s *Service) ensureLiquidity(ctx context.Context, chain registry.Chain, tok token.Info) error {
	pools, err := s.Surveyor.Survey(ctx, chain, tok)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		return clierr.New(clierr.CodeNoLiquidity, "no liquidity found for "+tok.Symbol+" on "+chain.Name)
	}
	return nil
}
