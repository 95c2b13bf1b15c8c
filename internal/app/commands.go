package app

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/execution"
	"github.com/qinghaihe378-ai/dexroute/internal/execution/signer"
	"github.com/qinghaihe378-ai/dexroute/internal/model"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/risk"
	"github.com/qinghaihe378-ai/dexroute/internal/route"
)

const (
	infoTTL = 30 * time.Second
	riskTTL = 60 * time.Second
)

func (s *runtimeState) newInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <token>",
		Short: "Token metadata, pool liquidity and price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			req := map[string]any{"token": strings.ToLower(args[0]), "chain": s.settings.Chain}
			key := cacheKey(path, req)
			return s.runCachedCommand(path, key, infoTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				snapshot, err := s.service.Info(ctx, args[0])
				status := s.chainStatus(err, start)
				var warnings []string
				partial := false
				if err == nil && snapshot.PriceWarning != "" {
					warnings = append(warnings, snapshot.PriceWarning)
					partial = true
				}
				return snapshot, status, warnings, partial, err
			})
		},
	}
	return cmd
}

func (s *runtimeState) newRiskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk <token>",
		Short: "Heuristic safety scan of a token contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			req := map[string]any{"token": strings.ToLower(args[0]), "chain": s.settings.Chain}
			key := cacheKey(path, req)
			return s.runCachedCommand(path, key, riskTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				report, err := s.service.CheckRisk(ctx, args[0])
				status := s.chainStatus(err, start)
				var warnings []string
				if err == nil {
					warnings = append(warnings, report.Assessment.Warnings...)
				}
				return report, status, warnings, false, err
			})
		},
	}
	return cmd
}

func (s *runtimeState) newBuyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy <token> <native-amount>",
		Short: "Buy a token with native currency via the best route",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			s.resetCommandDiagnostics()
			ctx, cancel := context.WithTimeout(context.Background(), s.executionBudget())
			defer cancel()

			start := time.Now()
			outcome, err := s.service.Buy(ctx, args[0], args[1])
			status := s.chainStatus(err, start)
			warnings := riskWarnings(outcome.Risk)
			s.captureCommandDiagnostics(warnings, status, false)
			if err != nil {
				return err
			}
			return s.emitSuccess(path, outcome, warnings, cacheMetaBypass(), status, false)
		},
	}
	return cmd
}

func (s *runtimeState) newSellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sell <token> [percent]",
		Short: "Sell a percentage of a token balance back to native",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			percent := 100
			if len(args) == 2 {
				parsed, err := strconv.Atoi(args[1])
				if err != nil {
					return clierr.New(clierr.CodeUsage, "sell percent must be an integer between 1 and 100")
				}
				percent = parsed
			}
			s.resetCommandDiagnostics()
			ctx, cancel := context.WithTimeout(context.Background(), s.executionBudget())
			defer cancel()

			start := time.Now()
			outcome, err := s.service.Sell(ctx, args[0], percent)
			status := s.chainStatus(err, start)
			s.captureCommandDiagnostics(nil, status, false)
			if err != nil {
				return err
			}
			return s.emitSuccess(path, outcome, nil, cacheMetaBypass(), status, false)
		},
	}
	return cmd
}

type chainView struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	ChainID       int64  `json:"chain_id"`
	NativeSymbol  string `json:"native_symbol"`
	WrappedNative string `json:"wrapped_native"`
	DefaultRPC    string `json:"default_rpc,omitempty"`
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List supported chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			chains := registry.Chains()
			views := make([]chainView, 0, len(chains))
			for _, chain := range chains {
				rpcURL, _ := registry.DefaultRPCURL(chain.Key)
				views = append(views, chainView{
					Key:           chain.Key,
					Name:          chain.Name,
					ChainID:       chain.ChainID,
					NativeSymbol:  chain.NativeSymbol,
					WrappedNative: chain.WrappedNative.Hex(),
					DefaultRPC:    rpcURL,
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), views, nil, cacheMetaBypass(), nil, false)
		},
	}
	return cmd
}

type venueView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Chain    string `json:"chain"`
	Protocol string `json:"protocol"`
	Router   string `json:"router,omitempty"`
	Factory  string `json:"factory,omitempty"`
}

func (s *runtimeState) newVenuesCommand() *cobra.Command {
	var chainArg string
	cmd := &cobra.Command{
		Use:   "venues",
		Short: "List DEX venues, optionally for one chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			chainKeys := make([]string, 0, 3)
			if strings.TrimSpace(chainArg) != "" {
				chain, err := registry.ChainByKey(strings.ToLower(strings.TrimSpace(chainArg)))
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "select chain", err)
				}
				chainKeys = append(chainKeys, chain.Key)
			} else {
				for _, chain := range registry.Chains() {
					chainKeys = append(chainKeys, chain.Key)
				}
			}

			views := []venueView{}
			for _, key := range chainKeys {
				for _, venue := range registry.Venues(key) {
					view := venueView{
						ID:       venue.ID,
						Name:     venue.Name,
						Chain:    venue.ChainKey,
						Protocol: string(venue.Protocol),
					}
					if venue.Router != (common.Address{}) {
						view.Router = venue.Router.Hex()
					}
					if venue.Factory != (common.Address{}) {
						view.Factory = venue.Factory.Hex()
					}
					views = append(views, view)
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), views, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Restrict to one chain (eth, base, bsc)")
	return cmd
}

func (s *runtimeState) newTradesCommand() *cobra.Command {
	var chainArg string
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List locally journaled trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal := s.openJournal()
			if journal == nil {
				return clierr.New(clierr.CodeInternal, "trade journal unavailable")
			}
			trades, err := journal.List(strings.ToLower(strings.TrimSpace(chainArg)), limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "read trade journal", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), trades, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Restrict to one chain (eth, base, bsc)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of trades to return")
	return cmd
}

// executionBudget leaves room for the receipt polls on top of the regular
// request timeout. Sells may confirm two transactions.
func (s *runtimeState) executionBudget() time.Duration {
	return s.settings.Timeout + 2*execution.DefaultOptions().ReceiptTimeout
}

func (s *runtimeState) chainStatus(err error, start time.Time) []model.ProviderStatus {
	return []model.ProviderStatus{{
		Name:      "rpc:" + s.session.Chain().Key,
		Status:    statusFromErr(err),
		LatencyMS: time.Since(start).Milliseconds(),
	}}
}

func riskWarnings(assessment *risk.Assessment) []string {
	if assessment == nil || len(assessment.Warnings) == 0 {
		return nil
	}
	return append([]string(nil), assessment.Warnings...)
}

// swapGateway adapts the executor to the trade service. Backend connections,
// the signing key and the journal are all loaded on first use so read-only
// commands never touch them.
type swapGateway struct {
	state  *runtimeState
	signer signer.Signer
}

func (g *swapGateway) Buy(ctx context.Context, chain registry.Chain, candidate route.Candidate, slippageBps int64) (execution.Receipt, error) {
	executor, err := g.executor(ctx, chain)
	if err != nil {
		return execution.Receipt{}, err
	}
	return executor.Buy(ctx, chain, candidate, slippageBps)
}

func (g *swapGateway) Sell(ctx context.Context, chain registry.Chain, tokenAddr common.Address, candidate route.Candidate, slippageBps int64) (execution.Receipt, error) {
	executor, err := g.executor(ctx, chain)
	if err != nil {
		return execution.Receipt{}, err
	}
	return executor.Sell(ctx, chain, tokenAddr, candidate, slippageBps)
}

func (g *swapGateway) TokenBalance(ctx context.Context, tokenAddr common.Address) (*big.Int, error) {
	executor, err := g.executor(ctx, g.state.session.Chain())
	if err != nil {
		return nil, err
	}
	return executor.TokenBalance(ctx, tokenAddr)
}

func (g *swapGateway) executor(ctx context.Context, chain registry.Chain) (*execution.Executor, error) {
	if g.signer == nil {
		loaded, err := signer.NewLocalSignerFromEnv("")
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "load signing key", err)
		}
		g.signer = loaded
	}
	backend, err := g.state.dialChain(ctx, chain)
	if err != nil {
		return nil, err
	}
	options := execution.DefaultOptions()
	options.DeadlineHorizon = g.state.settings.DeadlineHorizon
	return &execution.Executor{
		Backend: backend,
		Signer:  g.signer,
		Journal: g.state.openJournal(),
		Log:     g.state.log,
		Options: options,
	}, nil
}
