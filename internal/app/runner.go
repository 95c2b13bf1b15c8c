package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qinghaihe378-ai/dexroute/internal/cache"
	"github.com/qinghaihe378-ai/dexroute/internal/config"
	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/evm"
	"github.com/qinghaihe378-ai/dexroute/internal/execution"
	"github.com/qinghaihe378-ai/dexroute/internal/httpx"
	"github.com/qinghaihe378-ai/dexroute/internal/model"
	"github.com/qinghaihe378-ai/dexroute/internal/out"
	"github.com/qinghaihe378-ai/dexroute/internal/price"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/risk"
	"github.com/qinghaihe378-ai/dexroute/internal/route"
	"github.com/qinghaihe378-ai/dexroute/internal/schema"
	"github.com/qinghaihe378-ai/dexroute/internal/session"
	"github.com/qinghaihe378-ai/dexroute/internal/survey"
	"github.com/qinghaihe378-ai/dexroute/internal/token"
	"github.com/qinghaihe378-ai/dexroute/internal/trade"
	"github.com/qinghaihe378-ai/dexroute/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	log           *zap.Logger
	cache         *cache.Store
	root          *cobra.Command
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool

	session *session.Context
	service *trade.Service
	journal *execution.Journal
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.shutdown()
	if err == nil {
		return 0
	}

	state.renderError("", err, state.lastWarnings, state.lastProviders, state.lastPartial)
	return clierr.ExitCode(err)
}

func (s *runtimeState) shutdown() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Multi-venue DEX routing and execution CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path

			if s.log == nil {
				s.log = newLogger(s.runner.stderr)
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}

			if s.service == nil {
				chain, err := registry.ChainByKey(settings.Chain)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "select chain", err)
				}
				s.session = session.New(chain, s.log)
				s.service = s.buildService()
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "RPC and provider request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per provider request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.Chain, "chain", "", "Starting chain (eth, base, bsc)")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC endpoint override for the selected chain")
	cmd.PersistentFlags().IntVar(&s.flags.SlippageBps, "slippage-bps", -1, "Slippage tolerance in basis points")
	cmd.PersistentFlags().BoolVar(&s.flags.NoProtect, "no-protect", false, "Skip the pre-trade risk gate on buys")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newInfoCommand())
	cmd.AddCommand(s.newBuyCommand())
	cmd.AddCommand(s.newSellCommand())
	cmd.AddCommand(s.newRiskCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newVenuesCommand())
	cmd.AddCommand(s.newTradesCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// buildService wires the read path (resolver, surveyor, oracle, optimizer,
// scanner) and the write path (executor gateway) behind the trade service.
// All chain access goes through the dial closure, so nothing connects until
// a command actually needs the network.
func (s *runtimeState) buildService() *trade.Service {
	dial := func(ctx context.Context, chain registry.Chain) (evm.Caller, error) {
		client, err := s.dialChain(ctx, chain)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries)
	screener := &price.DexScreenerClient{HTTP: httpClient, BaseURL: s.settings.DexScreenerURL}
	native := &price.NativeClient{
		HTTP:         httpClient,
		CoinGeckoURL: s.settings.CoinGeckoURL,
		BinanceURL:   s.settings.BinanceURL,
		Cache:        s.cache,
		Log:          s.log,
	}

	return &trade.Service{
		Resolver: &token.Resolver{
			Dial:    dial,
			Session: s.session,
			Cache:   s.cache,
			Log:     s.log,
		},
		Surveyor: &survey.Surveyor{
			Dial:        dial,
			NativePrice: native.PriceUSD,
			Log:         s.log,
		},
		Oracle: &price.Oracle{
			Screener: screener,
			Native:   native,
			Dial:     dial,
			Log:      s.log,
		},
		Optimizer: &route.Optimizer{Dial: dial, Log: s.log},
		Scanner:   &risk.Scanner{Dial: dial, Log: s.log},
		Swapper:   &swapGateway{state: s},

		SlippageBps: int64(s.settings.SlippageBps),
		Protective:  s.settings.ProtectiveMode,
		Log:         s.log,
	}
}

func (s *runtimeState) dialChain(ctx context.Context, chain registry.Chain) (*ethclient.Client, error) {
	url, err := registry.ResolveRPCURL(s.settings.RPCOverrides[chain.Key], chain.Key)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc endpoint", err)
	}
	client, err := evm.Dial(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("connect to %s rpc", chain.Key), err)
	}
	return client, nil
}

func (s *runtimeState) openJournal() *execution.Journal {
	if s.journal != nil {
		return s.journal
	}
	dir := filepath.Dir(s.settings.CachePath)
	journal, err := execution.OpenJournal(filepath.Join(dir, "trades.db"), filepath.Join(dir, "trades.lock"))
	if err != nil {
		s.log.Warn("trade journal unavailable", zap.Error(err))
		return nil
	}
	s.journal = journal
	return journal
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Describe(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	return cmd
}

type fetchFn func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error)

func (s *runtimeState) runCachedCommand(commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}
	var staleData any
	staleAvailable := false
	staleObservedAge := time.Duration(0)
	staleObservedAt := time.Time{}
	staleCacheStatus := cacheMetaMiss()

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			if !cached.Stale {
				var data any
				if err := json.Unmarshal(cached.Value, &data); err == nil {
					s.captureCommandDiagnostics(warnings, nil, false)
					return s.emitSuccess(commandPath, data, warnings, entryStatus, nil, false)
				}
			} else {
				var data any
				if err := json.Unmarshal(cached.Value, &data); err == nil {
					staleData = data
					staleAvailable = true
					staleObservedAge = cached.Age
					staleObservedAt = time.Now()
					staleCacheStatus = entryStatus
				}
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	data, providerStatus, providerWarnings, partial, err := fetch(ctx)
	warnings = append(warnings, providerWarnings...)
	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	if err != nil {
		if staleAvailable {
			if !staleFallbackAllowed(err) {
				return err
			}
			currentStaleAge := staleObservedAge
			if !staleObservedAt.IsZero() {
				currentStaleAge += time.Since(staleObservedAt)
			}
			staleCacheStatus.AgeMS = currentStaleAge.Milliseconds()
			if s.settings.NoStale {
				return clierr.Wrap(clierr.CodeStale, "fresh fetch failed and stale fallback is disabled (--no-stale)", err)
			}
			if staleExceedsBudget(currentStaleAge, ttl, s.settings.MaxStale) {
				return clierr.Wrap(clierr.CodeStale, "fresh fetch failed and cached data exceeded stale budget", err)
			}
			warnings = append(warnings, "fresh fetch failed; serving stale data within max-stale budget")
			s.captureCommandDiagnostics(warnings, providerStatus, false)
			return s.emitSuccess(commandPath, staleData, warnings, staleCacheStatus, providerStatus, false)
		}
		return err
	}

	if s.settings.CacheEnabled && s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			_ = s.cache.Set(key, payload, ttl)
			cacheStatus = model.CacheStatus{Status: "write", AgeMS: 0, Stale: false}
		}
	}

	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	return s.emitSuccess(commandPath, data, warnings, cacheStatus, providerStatus, partial)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheMetaBypass(),
			Partial:   partial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "rpc_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeStale:
		return "stale_data"
	case clierr.CodeInvalidAddress:
		return "invalid_address"
	case clierr.CodeMetadataUnavailable:
		return "metadata_unavailable"
	case clierr.CodeNoLiquidity:
		return "no_liquidity"
	case clierr.CodePriceUnresolved:
		return "price_unresolved"
	case clierr.CodeNoRoute:
		return "no_route"
	case clierr.CodeRiskBlocked:
		return "risk_blocked"
	case clierr.CodeApprovalFailed:
		return "approval_failed"
	case clierr.CodeSwapReverted:
		return "swap_reverted"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodeTimeout:
		return "receipt_timeout"
	default:
		return "internal_error"
	}
}

func newLogger(w io.Writer) *zap.Logger {
	level := zapcore.WarnLevel
	if os.Getenv("DEXROUTE_DEBUG") != "" {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

func cacheKey(commandPath string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(commandPath+"|"), buf...))
	return hex.EncodeToString(sum[:])
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		default:
			return "error"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl {
		return false
	}
	if maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	return cErr.Code == clierr.CodeUnavailable || cErr.Code == clierr.CodeRateLimited
}

func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "", "version", "schema", "chains", "venues", "trades":
		return false
	default:
		return true
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
	s.lastPartial = partial
}
