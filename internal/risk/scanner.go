// Package risk runs heuristic safety checks against a token contract before
// any funds move. Every probe is best effort: meme tokens expose wildly
// different surfaces, and an absent accessor is not a finding.
package risk

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/evm"
	"github.com/qinghaihe378-ai/dexroute/internal/registry"
	"github.com/qinghaihe378-ai/dexroute/internal/token"
)

type Level string

const (
	LevelUnknown Level = "unknown"
	LevelLow     Level = "low"
	LevelMedium  Level = "medium"
	LevelHigh    Level = "high"
)

var levelRank = map[Level]int{
	LevelUnknown: 0,
	LevelLow:     1,
	LevelMedium:  2,
	LevelHigh:    3,
}

// escalate returns the more severe of two levels. Findings can only push the
// assessment upward.
func escalate(current, candidate Level) Level {
	if levelRank[candidate] > levelRank[current] {
		return candidate
	}
	return current
}

type Assessment struct {
	Level     Level     `json:"level"`
	Warnings  []string  `json:"warnings"`
	Notes     []string  `json:"notes"`
	CheckedAt time.Time `json:"checked_at"`
}

type Scanner struct {
	Dial func(ctx context.Context, chain registry.Chain) (evm.Caller, error)
	Log  *zap.Logger
}

func (s *Scanner) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Thresholds mirror common rug-pull screening practice: concentrated owner
// supply and punitive transfer limits are the dominant exit-scam shapes.
const (
	ownerHighPct   = 50
	ownerMediumPct = 30
	maxTxFloorPct  = 1
	maxWalletFloor = 2
	feeHighPct     = 20
	feeMediumPct   = 10
	feeDenominator = 100
	pctScale       = 8
)

// Dispatcher selectors that show up as literal PUSH4 arguments in compiled
// contracts. Self-destruct style entry points escalate the level; the rest
// are common in legitimate upgradeable contracts and stay informational.
var destructSelectors = []struct {
	selector string
	warning  string
}{
	{"83197ef0", "bytecode exposes destroy()"},
	{"9cb8a26a", "bytecode exposes selfDestruct()"},
	{"41c0e1b5", "bytecode exposes kill()"},
}

var advisorySelectors = []struct {
	selector string
	note     string
}{
	{"f2fde38b", "contract exposes transferOwnership"},
	{"13af4035", "contract exposes setOwner"},
	{"3659cfe6", "contract exposes upgradeTo (delegatecall proxy)"},
	{"4f1ef286", "contract exposes upgradeToAndCall (delegatecall proxy)"},
}

// Scan probes tok's contract for ownership concentration, trading locks,
// transfer limits, transfer taxes, and suspicious bytecode. It returns an
// error only when the chain itself is unreachable; a token that answers
// nothing yields an unknown-level assessment instead.
func (s *Scanner) Scan(ctx context.Context, chain registry.Chain, tok token.Info) (Assessment, error) {
	caller, err := s.Dial(ctx, chain)
	if err != nil {
		return Assessment{}, clierr.Wrap(clierr.CodeUnavailable, "rpc unavailable for chain "+chain.Key, err)
	}

	erc20 := registry.MustABI(registry.ERC20ABI)
	prob := registry.MustABI(registry.RiskProbeABI)
	a := Assessment{Level: LevelLow, Warnings: []string{}, Notes: []string{}, CheckedAt: time.Now().UTC()}
	answered := false

	var supply *big.Int
	if out, err := evm.Call(ctx, caller, erc20, tok.Address, "totalSupply"); err == nil {
		if n, ok := evm.AsBigInt(out[0]); ok {
			supply = n
			answered = true
		}
	}

	if supply != nil && supply.Sign() > 0 {
		if s.checkOwner(ctx, caller, erc20, prob, tok.Address, supply, &a) {
			answered = true
		}
		if limit := s.probeUint(ctx, caller, prob, tok.Address, "_maxTxAmount", "maxTransactionAmount"); limit != nil && limit.Sign() > 0 {
			pct := pctOfSupply(limit, supply)
			if pct.LessThan(decimal.NewFromInt(maxTxFloorPct)) {
				a.Warnings = append(a.Warnings, "max transaction limited to "+pct.StringFixed(2)+"% of supply")
				a.Level = escalate(a.Level, LevelMedium)
			} else {
				a.Notes = append(a.Notes, "max transaction limit: "+pct.StringFixed(2)+"% of supply")
			}
		}
		if limit := s.probeUint(ctx, caller, prob, tok.Address, "_maxWalletSize", "maxWallet"); limit != nil && limit.Sign() > 0 {
			pct := pctOfSupply(limit, supply)
			if pct.LessThan(decimal.NewFromInt(maxWalletFloor)) {
				a.Warnings = append(a.Warnings, "max wallet limited to "+pct.StringFixed(2)+"% of supply")
				a.Level = escalate(a.Level, LevelMedium)
			} else {
				a.Notes = append(a.Notes, "max wallet limit: "+pct.StringFixed(2)+"% of supply")
			}
		}
	}

	if out, err := evm.Call(ctx, caller, prob, tok.Address, "paused"); err == nil {
		answered = true
		if paused, _ := evm.AsBool(out[0]); paused {
			a.Warnings = append(a.Warnings, "trading is paused")
			a.Level = escalate(a.Level, LevelHigh)
		}
	}

	if s.checkFees(ctx, caller, prob, tok.Address, &a) {
		answered = true
	}

	if code, err := caller.CodeAt(ctx, tok.Address, nil); err == nil && len(code) > 0 {
		answered = true
		s.scanBytecode(code, &a)
	}

	if !answered {
		a.Level = LevelUnknown
		a.Warnings = append(a.Warnings, "token contract answered no safety probes")
	}

	s.logger().Debug("risk scan complete",
		zap.String("token", tok.Address.Hex()),
		zap.String("level", string(a.Level)),
		zap.Int("warnings", len(a.Warnings)),
	)
	return a, nil
}

func (s *Scanner) checkOwner(ctx context.Context, caller evm.Caller, erc20, prob *abi.ABI, target common.Address, supply *big.Int, a *Assessment) bool {
	var owner common.Address
	found := false
	for _, method := range []string{"owner", "getOwner"} {
		out, err := evm.Call(ctx, caller, prob, target, method)
		if err != nil {
			continue
		}
		if addr, ok := evm.AsAddress(out[0]); ok {
			owner = addr
			found = true
			break
		}
	}
	if !found {
		a.Notes = append(a.Notes, "owner could not be determined")
		return false
	}
	if owner == (common.Address{}) {
		a.Notes = append(a.Notes, "ownership renounced")
		return true
	}

	out, err := evm.Call(ctx, caller, erc20, target, "balanceOf", owner)
	if err != nil {
		return true
	}
	balance, ok := evm.AsBigInt(out[0])
	if !ok {
		return true
	}
	pct := pctOfSupply(balance, supply)
	switch {
	case pct.GreaterThan(decimal.NewFromInt(ownerHighPct)):
		a.Warnings = append(a.Warnings, "owner holds "+pct.StringFixed(2)+"% of supply")
		a.Level = escalate(a.Level, LevelHigh)
	case pct.GreaterThan(decimal.NewFromInt(ownerMediumPct)):
		a.Warnings = append(a.Warnings, "owner holds "+pct.StringFixed(2)+"% of supply")
		a.Level = escalate(a.Level, LevelMedium)
	default:
		a.Notes = append(a.Notes, "owner holds "+pct.StringFixed(2)+"% of supply")
	}
	return true
}

// checkFees reads buy and sell taxes. Contracts publish these scaled by 100,
// so 1500 means a 15% tax.
func (s *Scanner) checkFees(ctx context.Context, caller evm.Caller, prob *abi.ABI, target common.Address, a *Assessment) bool {
	buy := s.probeUint(ctx, caller, prob, target, "totalBuyFee", "buyTotalFees")
	sell := s.probeUint(ctx, caller, prob, target, "totalSellFee", "sellTotalFees")
	if buy == nil && sell == nil {
		return false
	}

	buyPct := feePct(buy)
	sellPct := feePct(sell)
	label := "buy " + buyPct.StringFixed(2) + "% / sell " + sellPct.StringFixed(2) + "%"
	high := decimal.NewFromInt(feeHighPct)
	medium := decimal.NewFromInt(feeMediumPct)
	switch {
	case buyPct.GreaterThan(high) || sellPct.GreaterThan(high):
		a.Warnings = append(a.Warnings, "high transfer tax: "+label)
		a.Level = escalate(a.Level, LevelHigh)
	case buyPct.GreaterThan(medium) || sellPct.GreaterThan(medium):
		a.Warnings = append(a.Warnings, "elevated transfer tax: "+label)
		a.Level = escalate(a.Level, LevelMedium)
	default:
		a.Notes = append(a.Notes, "transfer tax: "+label)
	}
	return true
}

// scanBytecode matches known function selectors in the deployed code. It is
// a best-effort signal: selector presence cannot prove a method is reachable,
// so only the self-destruct family escalates the level.
func (s *Scanner) scanBytecode(code []byte, a *Assessment) {
	encoded := strings.ToLower(hex.EncodeToString(code))
	for _, probe := range destructSelectors {
		if strings.Contains(encoded, probe.selector) {
			a.Warnings = append(a.Warnings, probe.warning)
			a.Level = escalate(a.Level, LevelHigh)
		}
	}
	for _, probe := range advisorySelectors {
		if strings.Contains(encoded, probe.selector) {
			a.Notes = append(a.Notes, probe.note)
		}
	}
}

// probeUint returns the first method that answers with a uint256.
func (s *Scanner) probeUint(ctx context.Context, caller evm.Caller, prob *abi.ABI, target common.Address, methods ...string) *big.Int {
	for _, method := range methods {
		out, err := evm.Call(ctx, caller, prob, target, method)
		if err != nil {
			continue
		}
		if n, ok := evm.AsBigInt(out[0]); ok {
			return n
		}
	}
	return nil
}

func pctOfSupply(amount, supply *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, 0).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromBigInt(supply, 0), pctScale)
}

func feePct(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, 0).DivRound(decimal.NewFromInt(feeDenominator), pctScale)
}
