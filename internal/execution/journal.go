package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Journal persists executed trades to a local sqlite database. A file lock
// guards concurrent CLI invocations sharing the same journal.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenJournal(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			side TEXT NOT NULL,
			chain TEXT NOT NULL,
			venue_id TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			executed_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_trades_chain_executed ON trades(chain, executed_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath)}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Save(trade Trade) error {
	if strings.TrimSpace(trade.TradeID) == "" {
		return fmt.Errorf("save trade: missing trade id")
	}
	locked, err := j.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	executedUnix := time.Now().UTC().Unix()
	if t, err := time.Parse(time.RFC3339, trade.ExecutedAt); err == nil {
		executedUnix = t.UTC().Unix()
	}

	_, err = j.db.Exec(`
		INSERT INTO trades (trade_id, side, chain, venue_id, tx_hash, executed_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET
			side=excluded.side,
			chain=excluded.chain,
			venue_id=excluded.venue_id,
			tx_hash=excluded.tx_hash,
			executed_at=excluded.executed_at,
			payload=excluded.payload
	`, trade.TradeID, trade.Side, trade.ChainKey, trade.VenueID, trade.TxHash, executedUnix, payload)
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

func (j *Journal) Get(tradeID string) (Trade, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM trades WHERE trade_id = ?", tradeID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, fmt.Errorf("trade not found: %s", tradeID)
		}
		return Trade{}, fmt.Errorf("read trade: %w", err)
	}
	var trade Trade
	if err := json.Unmarshal(payload, &trade); err != nil {
		return Trade{}, fmt.Errorf("decode trade payload: %w", err)
	}
	return trade, nil
}

// List returns the most recent trades, optionally filtered by chain key.
func (j *Journal) List(chainKey string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(chainKey) == "" {
		rows, err = j.db.Query("SELECT payload FROM trades ORDER BY executed_at DESC LIMIT ?", limit)
	} else {
		rows, err = j.db.Query("SELECT payload FROM trades WHERE chain = ? ORDER BY executed_at DESC LIMIT ?", chainKey, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	trades := make([]Trade, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		var trade Trade
		if err := json.Unmarshal(payload, &trade); err != nil {
			return nil, fmt.Errorf("decode trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}
