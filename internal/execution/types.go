package execution

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/qinghaihe378-ai/dexroute/internal/route"
)

// Receipt summarizes a mined transaction.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	GasUsed     uint64      `json:"gas_used"`
	BlockNumber *big.Int    `json:"block_number"`
	AmountIn    *big.Int    `json:"amount_in,omitempty"`
	MinOut      *big.Int    `json:"min_out,omitempty"`
}

// Trade is one executed swap as persisted in the journal.
type Trade struct {
	TradeID     string   `json:"trade_id"`
	Side        string   `json:"side"`
	ChainKey    string   `json:"chain"`
	VenueID     string   `json:"venue_id"`
	VenueName   string   `json:"venue"`
	PathSymbols []string `json:"path"`
	AmountIn    string   `json:"amount_in"`
	ExpectedOut string   `json:"expected_out"`
	MinOut      string   `json:"min_out"`
	TxHash      string   `json:"tx_hash"`
	GasUsed     uint64   `json:"gas_used"`
	ExecutedAt  string   `json:"executed_at"`
}

func NewTrade(chainKey, side string, candidate route.Candidate, receipt Receipt) Trade {
	t := Trade{
		TradeID:     NewTradeID(),
		Side:        side,
		ChainKey:    chainKey,
		VenueID:     candidate.VenueID,
		VenueName:   candidate.VenueName,
		PathSymbols: candidate.PathSymbols,
		TxHash:      receipt.TxHash.Hex(),
		GasUsed:     receipt.GasUsed,
		ExecutedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if receipt.AmountIn != nil {
		t.AmountIn = receipt.AmountIn.String()
	}
	if candidate.ExpectedOut != nil {
		t.ExpectedOut = candidate.ExpectedOut.String()
	}
	if receipt.MinOut != nil {
		t.MinOut = receipt.MinOut.String()
	}
	return t
}

func NewTradeID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "trade-unknown"
	}
	return "trade_" + hex.EncodeToString(b)
}
