package execution

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/qinghaihe378-ai/dexroute/internal/route"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dir := t.TempDir()
	journal, err := OpenJournal(filepath.Join(dir, "trades.db"), filepath.Join(dir, "trades.lock"))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func sampleTrade(chainKey string) Trade {
	candidate := route.Candidate{
		VenueID:     "uniswap-v2",
		VenueName:   "Uniswap V2",
		PathSymbols: []string{"WETH", "MEME"},
		ExpectedOut: big.NewInt(2_000_000),
	}
	receipt := Receipt{
		TxHash:   common.HexToHash("0xabc123"),
		GasUsed:  90_000,
		AmountIn: big.NewInt(10_000),
		MinOut:   big.NewInt(1_900_000),
	}
	return NewTrade(chainKey, "buy", candidate, receipt)
}

func TestJournalRoundTrip(t *testing.T) {
	journal := openTestJournal(t)
	trade := sampleTrade("eth")
	if err := journal.Save(trade); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := journal.Get(trade.TradeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.VenueID != "uniswap-v2" || got.Side != "buy" || got.AmountIn != "10000" {
		t.Fatalf("unexpected trade payload: %+v", got)
	}
	if got.MinOut != "1900000" {
		t.Fatalf("unexpected min out %s", got.MinOut)
	}
}

func TestJournalListFiltersByChain(t *testing.T) {
	journal := openTestJournal(t)
	if err := journal.Save(sampleTrade("eth")); err != nil {
		t.Fatalf("Save eth: %v", err)
	}
	if err := journal.Save(sampleTrade("bsc")); err != nil {
		t.Fatalf("Save bsc: %v", err)
	}

	all, err := journal.List("", 10)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(all))
	}

	eth, err := journal.List("eth", 10)
	if err != nil {
		t.Fatalf("List eth: %v", err)
	}
	if len(eth) != 1 || eth[0].ChainKey != "eth" {
		t.Fatalf("unexpected filtered result: %+v", eth)
	}
}

func TestJournalRejectsMissingID(t *testing.T) {
	journal := openTestJournal(t)
	trade := sampleTrade("eth")
	trade.TradeID = ""
	if err := journal.Save(trade); err == nil {
		t.Fatal("expected an error for a trade without an id")
	}
}
