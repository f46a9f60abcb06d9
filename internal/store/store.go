// Package store persists completed bars to SQLite.
//
// The store is a downstream consumer of the bar stream, not part of the
// engine: bars arrive already frozen and are written append-only. Prices
// are stored as their raw scaled integers so a read-back reproduces the
// exact fixed-point values.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"rangebar/internal/fixedpoint"
	"rangebar/internal/model"

	_ "github.com/glebarez/go-sqlite"
)

// BarStore writes completed bars to a SQLite database.
type BarStore struct {
	db *sql.DB
}

// NewBarStore opens (or creates) the database at dbPath with WAL mode
// enabled and the bars table in place. Use ":memory:" for tests.
func NewBarStore(dbPath string) (*BarStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			open_time INTEGER NOT NULL,
			close_time INTEGER NOT NULL,
			open INTEGER NOT NULL,
			high INTEGER NOT NULL,
			low INTEGER NOT NULL,
			close INTEGER NOT NULL,
			volume INTEGER NOT NULL,
			turnover INTEGER NOT NULL,
			trade_count INTEGER NOT NULL,
			first_id INTEGER NOT NULL,
			last_id INTEGER NOT NULL,
			buy_volume INTEGER NOT NULL,
			sell_volume INTEGER NOT NULL,
			buy_turnover INTEGER NOT NULL,
			sell_turnover INTEGER NOT NULL,
			buy_trade_count INTEGER NOT NULL,
			sell_trade_count INTEGER NOT NULL,
			vwap INTEGER NOT NULL,
			PRIMARY KEY (symbol, first_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bars table: %w", err)
	}

	return &BarStore{db: db}, nil
}

// SaveBar appends one completed bar. Incomplete bars are rejected; they
// belong to the live stream, never to storage a backtest might read.
func (s *BarStore) SaveBar(ctx context.Context, bar model.Bar) error {
	if bar.Incomplete {
		return fmt.Errorf("refusing to persist incomplete bar for %s", bar.Symbol)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bars (
			symbol, open_time, close_time, open, high, low, close,
			volume, turnover, trade_count, first_id, last_id,
			buy_volume, sell_volume, buy_turnover, sell_turnover,
			buy_trade_count, sell_trade_count, vwap
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bar.Symbol, bar.OpenTime, bar.CloseTime,
		bar.Open.Raw(), bar.High.Raw(), bar.Low.Raw(), bar.Close.Raw(),
		bar.Volume.Raw(), bar.Turnover.Raw(), bar.TradeCount,
		bar.FirstID, bar.LastID,
		bar.BuyVolume.Raw(), bar.SellVolume.Raw(),
		bar.BuyTurnover.Raw(), bar.SellTurnover.Raw(),
		bar.BuyTradeCount, bar.SellTradeCount, bar.VWAP.Raw(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert bar: %w", err)
	}
	return nil
}

// LoadBars returns up to limit bars for a symbol ordered by first trade
// id ascending, i.e. in the order the engine emitted them.
func (s *BarStore) LoadBars(ctx context.Context, symbol string, limit int) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, open_time, close_time, open, high, low, close,
			volume, turnover, trade_count, first_id, last_id,
			buy_volume, sell_volume, buy_turnover, sell_turnover,
			buy_trade_count, sell_trade_count, vwap
		FROM bars WHERE symbol = ? ORDER BY first_id ASC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var bar model.Bar
		var open, high, low, closePrice, volume, turnover int64
		var buyVolume, sellVolume, buyTurnover, sellTurnover, vwap int64

		if err := rows.Scan(
			&bar.Symbol, &bar.OpenTime, &bar.CloseTime,
			&open, &high, &low, &closePrice,
			&volume, &turnover, &bar.TradeCount,
			&bar.FirstID, &bar.LastID,
			&buyVolume, &sellVolume, &buyTurnover, &sellTurnover,
			&bar.BuyTradeCount, &bar.SellTradeCount, &vwap,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}

		bar.Open = fixedpoint.FromRaw(open)
		bar.High = fixedpoint.FromRaw(high)
		bar.Low = fixedpoint.FromRaw(low)
		bar.Close = fixedpoint.FromRaw(closePrice)
		bar.Volume = fixedpoint.FromRaw(volume)
		bar.Turnover = fixedpoint.FromRaw(turnover)
		bar.BuyVolume = fixedpoint.FromRaw(buyVolume)
		bar.SellVolume = fixedpoint.FromRaw(sellVolume)
		bar.BuyTurnover = fixedpoint.FromRaw(buyTurnover)
		bar.SellTurnover = fixedpoint.FromRaw(sellTurnover)
		bar.VWAP = fixedpoint.FromRaw(vwap)
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// CountBars returns how many bars are stored for a symbol.
func (s *BarStore) CountBars(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bars WHERE symbol = ?", symbol).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *BarStore) Close() error {
	return s.db.Close()
}
