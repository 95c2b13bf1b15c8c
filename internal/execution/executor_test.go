package execution

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/evm/evmtest"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/route"
)

const testKeyHex = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type testSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("parse test key: %v", err)
	}
	return &testSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *testSigner) Address() common.Address {
	return s.addr
}

func (s *testSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// fakeBackend layers transaction plumbing over the selector-dispatching fake
// caller used by the read-only packages.
type fakeBackend struct {
	*evmtest.FakeCaller
	chainID       *big.Int
	balance       *big.Int
	sent          []*types.Transaction
	receiptStatus uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		FakeCaller: evmtest.New(
			registry.MustABI(registry.ERC20ABI),
			registry.MustABI(registry.UniswapV2RouterABI),
		),
		chainID:       big.NewInt(1),
		balance:       big.NewInt(1_000_000_000_000_000_000),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return b.chainID, nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      b.receiptStatus,
		GasUsed:     90_000,
		BlockNumber: big.NewInt(123),
	}, nil
}

func (b *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return b.balance, nil
}

var (
	testRouter = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	testWETH   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testMeme   = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func buyCandidate(amountIn, expectedOut int64) route.Candidate {
	return route.Candidate{
		VenueID:     "uniswap-v2",
		VenueName:   "Uniswap V2",
		Router:      testRouter,
		Path:        []common.Address{testWETH, testMeme},
		PathSymbols: []string{"WETH", "MEME"},
		AmountIn:    big.NewInt(amountIn),
		ExpectedOut: big.NewInt(expectedOut),
	}
}

func sellCandidate(amountIn, expectedOut int64) route.Candidate {
	c := buyCandidate(amountIn, expectedOut)
	c.Path = []common.Address{testMeme, testWETH}
	c.PathSymbols = []string{"MEME", "WETH"}
	return c
}

func newExecutor(backend *fakeBackend, s *testSigner) *Executor {
	return &Executor{
		Backend: backend,
		Signer:  s,
		Options: Options{PollInterval: time.Millisecond, ReceiptTimeout: time.Second},
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

func TestMinOut(t *testing.T) {
	cases := []struct {
		expected int64
		bps      int64
		want     int64
	}{
		{1000, 500, 950},
		{1000, 0, 1000},
		{999, 333, 966}, // 999*333/10000 floors to 33
		{1, 9999, 1},    // cut floors to zero on tiny amounts
	}
	for _, tc := range cases {
		got := MinOut(big.NewInt(tc.expected), tc.bps)
		if got.Int64() != tc.want {
			t.Fatalf("MinOut(%d, %d) = %s, want %d", tc.expected, tc.bps, got, tc.want)
		}
	}
}

func TestBuySubmitsRoutedSwap(t *testing.T) {
	backend := newFakeBackend()
	backend.Returns(testRouter, "swapExactETHForTokensSupportingFeeOnTransferTokens")
	exec := newExecutor(backend, newTestSigner(t))

	receipt, err := exec.Buy(context.Background(), ethChain(t), buyCandidate(10_000, 2_000_000), 500)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(backend.sent))
	}

	tx := backend.sent[0]
	if *tx.To() != testRouter {
		t.Fatalf("swap must target the router, got %s", tx.To().Hex())
	}
	if tx.Value().Int64() != 10_000 {
		t.Fatalf("buy must carry amountIn as value, got %s", tx.Value())
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("gas limit should be padded to 120000, got %d", tx.Gas())
	}

	method := registry.MustABI(registry.UniswapV2RouterABI).Methods["swapExactETHForTokensSupportingFeeOnTransferTokens"]
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	minOut := args[0].(*big.Int)
	if minOut.Int64() != 1_900_000 {
		t.Fatalf("expected min out 1900000 at 5%% slippage, got %s", minOut)
	}
	if receipt.MinOut.Cmp(minOut) != 0 {
		t.Fatalf("receipt min out mismatch: %s vs %s", receipt.MinOut, minOut)
	}
	if receipt.GasUsed != 90_000 {
		t.Fatalf("unexpected gas used %d", receipt.GasUsed)
	}
}

func TestBuyRejectsInsufficientBalance(t *testing.T) {
	backend := newFakeBackend()
	backend.balance = big.NewInt(5)
	exec := newExecutor(backend, newTestSigner(t))

	_, err := exec.Buy(context.Background(), ethChain(t), buyCandidate(10_000, 2_000_000), 500)
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("no transaction should be sent, got %d", len(backend.sent))
	}
}

func TestBuyRevertedOnChain(t *testing.T) {
	backend := newFakeBackend()
	backend.Returns(testRouter, "swapExactETHForTokensSupportingFeeOnTransferTokens")
	backend.receiptStatus = types.ReceiptStatusFailed
	exec := newExecutor(backend, newTestSigner(t))

	_, err := exec.Buy(context.Background(), ethChain(t), buyCandidate(10_000, 2_000_000), 500)
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeSwapReverted {
		t.Fatalf("expected swap-reverted error, got %v", err)
	}
}

func TestSellApprovesBeforeSwap(t *testing.T) {
	backend := newFakeBackend()
	backend.Returns(testMeme, "allowance", big.NewInt(0))
	backend.Returns(testMeme, "approve", true)
	backend.Returns(testRouter, "swapExactTokensForETHSupportingFeeOnTransferTokens")
	exec := newExecutor(backend, newTestSigner(t))

	_, err := exec.Sell(context.Background(), ethChain(t), testMeme, sellCandidate(50_000, 700), 100)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if len(backend.sent) != 2 {
		t.Fatalf("expected approval then swap, got %d transactions", len(backend.sent))
	}
	if *backend.sent[0].To() != testMeme {
		t.Fatalf("first transaction must be the token approval, got %s", backend.sent[0].To().Hex())
	}
	if *backend.sent[1].To() != testRouter {
		t.Fatalf("second transaction must be the router swap, got %s", backend.sent[1].To().Hex())
	}

	// The approval must be confirmed before any router call happens.
	swapSeen := false
	for _, call := range backend.Calls() {
		if strings.Contains(call, "swapexacttokens") || strings.Contains(call, "swapExactTokens") {
			swapSeen = true
		}
		if strings.Contains(call, "approve") && swapSeen {
			t.Fatalf("approve dispatched after swap: %v", backend.Calls())
		}
	}
}

func TestSellReusesExistingAllowance(t *testing.T) {
	backend := newFakeBackend()
	backend.Returns(testMeme, "allowance", big.NewInt(1_000_000))
	backend.Returns(testRouter, "swapExactTokensForETHSupportingFeeOnTransferTokens")
	exec := newExecutor(backend, newTestSigner(t))

	_, err := exec.Sell(context.Background(), ethChain(t), testMeme, sellCandidate(50_000, 700), 100)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sufficient allowance should skip approval, got %d transactions", len(backend.sent))
	}
}

func TestSellApprovalFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.Returns(testMeme, "allowance", big.NewInt(0))
	// No approve handler: the simulation reverts.
	exec := newExecutor(backend, newTestSigner(t))

	_, err := exec.Sell(context.Background(), ethChain(t), testMeme, sellCandidate(50_000, 700), 100)
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeApprovalFailed {
		t.Fatalf("expected approval-failed error, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("failed approval must block the swap, got %d transactions", len(backend.sent))
	}
}

func TestTokenBalance(t *testing.T) {
	backend := newFakeBackend()
	backend.Returns(testMeme, "balanceOf", big.NewInt(123_456))
	exec := newExecutor(backend, newTestSigner(t))

	balance, err := exec.TokenBalance(context.Background(), testMeme)
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if balance.Int64() != 123_456 {
		t.Fatalf("unexpected balance %s", balance)
	}
}
