package store

import (
	"context"
	"database/sql"
	"fmt"

	"hedgie-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// TradeLog records executed trades and per-account running counters in
// a sqlite database. The counters are maintained with single atomic
// UPDATE statements so concurrent settlements cannot lose increments.
type TradeLog struct {
	db *sql.DB
}

// OpenTradeLog opens (or creates) the trade database at path and
// ensures its schema.
func OpenTradeLog(path string) (*TradeLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open trade log at %s: %w", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		order_id TEXT PRIMARY KEY,
		account_id INTEGER NOT NULL,
		side TEXT NOT NULL,
		executed_amount REAL NOT NULL,
		avg_execution_price REAL NOT NULL,
		is_hedge INTEGER NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, timestamp);

	CREATE TABLE IF NOT EXISTS counted_orders (
		order_id TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS metrics (
		account_id INTEGER PRIMARY KEY,
		total_trades INTEGER NOT NULL DEFAULT 0,
		buys INTEGER NOT NULL DEFAULT 0,
		sells INTEGER NOT NULL DEFAULT 0,
		hedges INTEGER NOT NULL DEFAULT 0,
		volume_btc REAL NOT NULL DEFAULT 0,
		volume_usd REAL NOT NULL DEFAULT 0,
		exchange_balance_btc REAL NOT NULL DEFAULT 0,
		exchange_balance_usd REAL NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trade log schema: %w", err)
	}
	return &TradeLog{db: db}, nil
}

// Close closes the underlying database.
func (t *TradeLog) Close() error {
	return t.db.Close()
}

// InsertTrade appends one executed trade. Re-inserting the same order
// id is treated as a duplicate delivery and succeeds without effect.
func (t *TradeLog) InsertTrade(ctx context.Context, order models.CompletedOrder) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(order_id, account_id, side, executed_amount, avg_execution_price, is_hedge, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.OrderID, order.AccountID, string(order.Side),
		order.ExecutedAmount, order.AvgExecutionPrice, order.IsHedge, order.Timestamp)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", order.OrderID, err)
	}
	return nil
}

// InitMetrics seeds the counter row for an account if it does not
// exist yet. The exchange balance starts as the notional value of the
// order that first touched the account; calling it again is a no-op.
func (t *TradeLog) InitMetrics(ctx context.Context, accountID int64, order models.CompletedOrder) error {
	initialUSD := order.OriginalAmount * order.AvgExecutionPrice
	_, err := t.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO metrics (account_id, exchange_balance_usd, last_updated)
		VALUES (?, ?, ?)`,
		accountID, initialUSD, order.Timestamp)
	if err != nil {
		return fmt.Errorf("init metrics for account %d: %w", accountID, err)
	}
	return nil
}

// RecordTrade folds one completed order into the account's counters.
// Each order id is counted once; a redelivered completion succeeds
// without touching the counters.
func (t *TradeLog) RecordTrade(ctx context.Context, order models.CompletedOrder) error {
	buyInc, sellInc := 0, 0
	balanceBTCDelta := order.ExecutedAmount
	balanceUSDDelta := -order.ExecutedAmount * order.AvgExecutionPrice
	if order.Side == models.SideSell {
		sellInc = 1
		balanceBTCDelta = -balanceBTCDelta
		balanceUSDDelta = -balanceUSDDelta
	} else {
		buyInc = 1
	}
	hedgeInc := 0
	if order.IsHedge {
		hedgeInc = 1
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record trade for account %d: %w", order.AccountID, err)
	}
	defer tx.Rollback()

	// Claiming the order id and bumping the counters commit together,
	// so a redelivery either sees the claim or retries the whole thing.
	claim, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO counted_orders (order_id) VALUES (?)`, order.OrderID)
	if err != nil {
		return fmt.Errorf("record trade for account %d: %w", order.AccountID, err)
	}
	if n, err := claim.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE metrics SET
			total_trades = total_trades + 1,
			buys = buys + ?,
			sells = sells + ?,
			hedges = hedges + ?,
			volume_btc = volume_btc + ?,
			volume_usd = volume_usd + ?,
			exchange_balance_btc = exchange_balance_btc + ?,
			exchange_balance_usd = exchange_balance_usd + ?,
			last_updated = ?
		WHERE account_id = ?`,
		buyInc, sellInc, hedgeInc,
		order.ExecutedAmount, order.ExecutedAmount*order.AvgExecutionPrice,
		balanceBTCDelta, balanceUSDDelta,
		order.Timestamp, order.AccountID)
	if err != nil {
		return fmt.Errorf("record trade for account %d: %w", order.AccountID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record trade for account %d: %w", order.AccountID, ErrNotFound)
	}
	return tx.Commit()
}

// ListMetrics returns counters for every tracked account, ordered by
// account id.
func (t *TradeLog) ListMetrics(ctx context.Context) ([]models.MetricsRow, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT account_id, total_trades, buys, sells, hedges,
		       volume_btc, volume_usd, exchange_balance_btc, exchange_balance_usd, last_updated
		FROM metrics ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []models.MetricsRow
	for rows.Next() {
		var row models.MetricsRow
		if err := rows.Scan(&row.AccountID, &row.TotalTrades, &row.Buys, &row.Sells, &row.Hedges,
			&row.VolumeBTC, &row.VolumeUSD, &row.ExchangeBalanceBTC, &row.ExchangeBalanceUSD,
			&row.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
