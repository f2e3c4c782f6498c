// Package store persists historical trades in SQLite for simulation replays.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"zenbot-go/internal/signal"
)

// DefaultBatchSize is the number of trades Replay hands to the callback at once.
const DefaultBatchSize = 1000

// TradeStore is a trade archive keyed by product and trade id.
type TradeStore struct {
	db *sql.DB
}

// Open creates or opens the database at path with WAL enabled.
func Open(path string) (*TradeStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-8000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			product TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			time_ms INTEGER NOT NULL,
			price REAL NOT NULL,
			size REAL NOT NULL,
			side INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (product, trade_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trades table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS trades_product_time ON trades (product, time_ms);"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trades index: %w", err)
	}
	return &TradeStore{db: db}, nil
}

func (s *TradeStore) Close() error { return s.db.Close() }

// Insert stores ticks, ignoring trade ids already present. Ticks without an id
// get one derived from their timestamp and position. Returns rows inserted.
func (s *TradeStore) Insert(ctx context.Context, product string, ticks []signal.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO trades (product, trade_id, time_ms, price, size, side) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i, tk := range ticks {
		id := tk.TradeID
		if id == "" {
			id = strconv.FormatInt(tk.Ts.UnixMilli(), 10) + "-" + strconv.Itoa(i)
		}
		res, err := stmt.ExecContext(ctx, product, id, tk.Ts.UnixMilli(), tk.Price, tk.Size, tk.Side)
		if err != nil {
			return 0, fmt.Errorf("insert trade %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, nil
}

// Count returns the number of stored trades for product.
func (s *TradeStore) Count(ctx context.Context, product string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades WHERE product = ?", product).Scan(&n)
	return n, err
}

// Bounds returns the first and last trade times for product. Both are zero when empty.
func (s *TradeStore) Bounds(ctx context.Context, product string) (time.Time, time.Time, error) {
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MIN(time_ms), MAX(time_ms) FROM trades WHERE product = ?", product).Scan(&first, &last)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to read bounds: %w", err)
	}
	if !first.Valid {
		return time.Time{}, time.Time{}, nil
	}
	return time.UnixMilli(first.Int64).UTC(), time.UnixMilli(last.Int64).UTC(), nil
}

// Replay streams trades in [from, to) by time in batches. Zero bounds are open.
// It stops at the first callback error and returns it.
func (s *TradeStore) Replay(ctx context.Context, product string, from, to time.Time, batch int, fn func([]signal.Tick) error) error {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	fromMs := int64(-1 << 62)
	if !from.IsZero() {
		fromMs = from.UnixMilli()
	}
	toMs := int64(1 << 62)
	if !to.IsZero() {
		toMs = to.UnixMilli()
	}

	lastTime, lastRow := fromMs, int64(-1)
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT rowid, trade_id, time_ms, price, size, side FROM trades
			WHERE product = ? AND time_ms < ? AND (time_ms > ? OR (time_ms = ? AND rowid > ?))
			ORDER BY time_ms, rowid LIMIT ?`,
			product, toMs, lastTime, lastTime, lastRow, batch)
		if err != nil {
			return fmt.Errorf("query trades: %w", err)
		}
		ticks := make([]signal.Tick, 0, batch)
		for rows.Next() {
			var (
				rowID, ms int64
				tk        signal.Tick
			)
			if err := rows.Scan(&rowID, &tk.TradeID, &ms, &tk.Price, &tk.Size, &tk.Side); err != nil {
				rows.Close()
				return fmt.Errorf("scan trade: %w", err)
			}
			tk.Symbol = product
			tk.Ts = time.UnixMilli(ms).UTC()
			ticks = append(ticks, tk)
			lastTime, lastRow = ms, rowID
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate trades: %w", err)
		}
		if len(ticks) == 0 {
			return nil
		}
		if err := fn(ticks); err != nil {
			return err
		}
		if len(ticks) < batch {
			return nil
		}
	}
}
