// Package execution submits swap transactions and records their outcome.
// Every swap follows the same lifecycle: simulate, estimate, sign, broadcast,
// wait for the receipt. Nothing is retried automatically; a reverted swap is
// surfaced to the caller with the transaction hash.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/execution/signer"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/route"
)

// Backend is the chain write surface the executor needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Options struct {
	PollInterval       time.Duration
	ReceiptTimeout     time.Duration
	GasMultiplier      float64
	DeadlineHorizon    time.Duration
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultOptions() Options {
	return Options{
		PollInterval:    2 * time.Second,
		ReceiptTimeout:  2 * time.Minute,
		GasMultiplier:   1.2,
		DeadlineHorizon: 20 * time.Minute,
	}
}

func (o Options) normalized() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.GasMultiplier <= 1 {
		o.GasMultiplier = 1.2
	}
	if o.DeadlineHorizon <= 0 {
		o.DeadlineHorizon = 20 * time.Minute
	}
	return o
}

type Executor struct {
	Backend Backend
	Signer  signer.Signer
	Journal *Journal
	Log     *zap.Logger
	Options Options
}

func (e *Executor) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// MinOut applies slippage toleration to an expected output using integer
// arithmetic only. The result is expected - floor(expected*bps/10000).
func MinOut(expected *big.Int, slippageBps int64) *big.Int {
	cut := new(big.Int).Mul(expected, big.NewInt(slippageBps))
	cut.Div(cut, big.NewInt(10_000))
	return new(big.Int).Sub(expected, cut)
}

// Buy spends native currency on the routed token. amountIn is wei and rides
// along as the transaction value; the router wraps it itself.
func (e *Executor) Buy(ctx context.Context, chain registry.Chain, candidate route.Candidate, slippageBps int64) (Receipt, error) {
	if err := e.ready(); err != nil {
		return Receipt{}, err
	}
	from := e.Signer.Address()
	balance, err := e.Backend.BalanceAt(ctx, from, nil)
	if err == nil && balance.Cmp(candidate.AmountIn) < 0 {
		return Receipt{}, clierr.New(clierr.CodeUsage, fmt.Sprintf(
			"insufficient native balance: have %s wei, need %s wei", balance, candidate.AmountIn))
	}

	minOut := MinOut(candidate.ExpectedOut, slippageBps)
	deadline := big.NewInt(time.Now().Add(e.Options.normalized().DeadlineHorizon).Unix())
	router := registry.MustABI(registry.UniswapV2RouterABI)
	data, err := router.Pack("swapExactETHForTokensSupportingFeeOnTransferTokens",
		minOut, candidate.Path, from, deadline)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeInternal, "encode buy swap", err)
	}

	receipt, err := e.submit(ctx, candidate.Router, candidate.AmountIn, data, clierr.CodeSwapReverted, "buy swap")
	if err != nil {
		return Receipt{}, err
	}
	receipt.MinOut = minOut
	receipt.AmountIn = new(big.Int).Set(candidate.AmountIn)
	e.record(chain, "buy", candidate, receipt)
	return receipt, nil
}

// Sell swaps tokens back to native currency. The router must be allowed to
// pull amountIn first; an existing allowance is reused, otherwise an exact
// approval is submitted and confirmed before the swap.
func (e *Executor) Sell(ctx context.Context, chain registry.Chain, tokenAddr common.Address, candidate route.Candidate, slippageBps int64) (Receipt, error) {
	if err := e.ready(); err != nil {
		return Receipt{}, err
	}
	from := e.Signer.Address()
	if err := e.ensureAllowance(ctx, tokenAddr, from, candidate.Router, candidate.AmountIn); err != nil {
		return Receipt{}, err
	}

	minOut := MinOut(candidate.ExpectedOut, slippageBps)
	deadline := big.NewInt(time.Now().Add(e.Options.normalized().DeadlineHorizon).Unix())
	router := registry.MustABI(registry.UniswapV2RouterABI)
	data, err := router.Pack("swapExactTokensForETHSupportingFeeOnTransferTokens",
		candidate.AmountIn, minOut, candidate.Path, from, deadline)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeInternal, "encode sell swap", err)
	}

	receipt, err := e.submit(ctx, candidate.Router, big.NewInt(0), data, clierr.CodeSwapReverted, "sell swap")
	if err != nil {
		return Receipt{}, err
	}
	receipt.MinOut = minOut
	receipt.AmountIn = new(big.Int).Set(candidate.AmountIn)
	e.record(chain, "sell", candidate, receipt)
	return receipt, nil
}

// TokenBalance reads the signer's balance of an ERC-20 token.
func (e *Executor) TokenBalance(ctx context.Context, tokenAddr common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	erc20 := registry.MustABI(registry.ERC20ABI)
	data, err := erc20.Pack("balanceOf", e.Signer.Address())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode balanceOf", err)
	}
	raw, err := e.Backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token balance", err)
	}
	out, err := erc20.Unpack("balanceOf", raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode token balance", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "unexpected balanceOf return type")
	}
	return balance, nil
}

func (e *Executor) ready() error {
	if e.Backend == nil {
		return clierr.New(clierr.CodeInternal, "missing chain backend")
	}
	if e.Signer == nil {
		return clierr.New(clierr.CodeSigner, "missing signer")
	}
	return nil
}

func (e *Executor) ensureAllowance(ctx context.Context, tokenAddr, owner, spender common.Address, amount *big.Int) error {
	erc20 := registry.MustABI(registry.ERC20ABI)
	data, err := erc20.Pack("allowance", owner, spender)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode allowance", err)
	}
	raw, err := e.Backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err == nil {
		if out, uerr := erc20.Unpack("allowance", raw); uerr == nil {
			if allowed, ok := out[0].(*big.Int); ok && allowed.Cmp(amount) >= 0 {
				return nil
			}
		}
	}

	approveData, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode approve", err)
	}
	e.logger().Info("submitting approval",
		zap.String("token", tokenAddr.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("amount", amount.String()),
	)
	if _, err := e.submit(ctx, tokenAddr, big.NewInt(0), approveData, clierr.CodeApprovalFailed, "token approval"); err != nil {
		return err
	}
	return nil
}

// submit runs one transaction through the full lifecycle and blocks until it
// is mined or the receipt timeout elapses. failCode names the pipeline stage
// in the returned error.
func (e *Executor) submit(ctx context.Context, target common.Address, value *big.Int, data []byte, failCode clierr.Code, label string) (Receipt, error) {
	opts := e.Options.normalized()
	from := e.Signer.Address()
	msg := ethereum.CallMsg{From: from, To: &target, Value: value, Data: data}

	chainID, err := e.Backend.ChainID(ctx)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if _, err := e.Backend.CallContract(ctx, msg, nil); err != nil {
		return Receipt{}, clierr.Wrap(failCode, "simulate "+label, err)
	}
	gasLimit, err := e.Backend.EstimateGas(ctx, msg)
	if err != nil {
		return Receipt{}, clierr.Wrap(failCode, "estimate gas for "+label, err)
	}
	gasLimit = uint64(float64(gasLimit) * opts.GasMultiplier)

	tipCap, err := e.resolveTipCap(ctx, opts.MaxPriorityFeeGwei)
	if err != nil {
		return Receipt{}, err
	}
	header, err := e.Backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return Receipt{}, err
	}
	nonce, err := e.Backend.PendingNonceAt(ctx, from)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := e.Signer.SignTx(chainID, tx)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeSigner, "sign "+label, err)
	}
	if err := e.Backend.SendTransaction(ctx, signed); err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeUnavailable, "broadcast "+label, err)
	}
	e.logger().Info("transaction submitted",
		zap.String("kind", label),
		zap.String("tx", signed.Hash().Hex()),
	)

	receipt, err := e.waitReceipt(ctx, signed.Hash(), opts)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, clierr.New(failCode, label+" reverted on-chain: "+signed.Hash().Hex())
	}
	return Receipt{
		TxHash:      signed.Hash(),
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber,
	}, nil
}

func (e *Executor) waitReceipt(ctx context.Context, hash common.Hash, opts Options) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.Backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			// Transient polling failures are retried until the timeout.
			e.logger().Debug("receipt poll failed", zap.Error(err))
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt "+hash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Executor) resolveTipCap(ctx context.Context, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := e.Backend.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func (e *Executor) record(chain registry.Chain, side string, candidate route.Candidate, receipt Receipt) {
	if e.Journal == nil {
		return
	}
	rec := NewTrade(chain.Key, side, candidate, receipt)
	if err := e.Journal.Save(rec); err != nil {
		e.logger().Warn("journal write failed", zap.Error(err))
	}
}
