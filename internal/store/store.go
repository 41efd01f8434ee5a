// Package store persists price snapshots and candle history in an
// embedded SQLite database so the dashboard has data to show before the
// first fetch completes and across offline stretches.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/coindeck/coindeck/internal/domain"
)

const (
	priceRetention  = 30 * 24 * time.Hour
	candleRetention = 90 * 24 * time.Hour
)

// Store wraps the SQLite connection. Safe for concurrent use; sqlx
// serializes access through database/sql's pool.
type Store struct {
	db *sqlx.DB
}

// Stats summarizes the database contents for the `db stats` command and
// the status API.
type Stats struct {
	PriceRows    int64      `json:"price_rows" db:"price_rows"`
	CandleRows   int64      `json:"candle_rows" db:"candle_rows"`
	Symbols      int64      `json:"symbols" db:"symbols"`
	OldestPrice  *time.Time `json:"oldest_price,omitempty"`
	NewestPrice  *time.Time `json:"newest_price,omitempty"`
	DatabasePath string     `json:"database_path"`
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.stamp(context.Background(), "opened_at")
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prices (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol         TEXT NOT NULL,
		price          REAL NOT NULL,
		change_percent REAL NOT NULL,
		volume         REAL NOT NULL,
		high_24h       REAL NOT NULL,
		low_24h        REAL NOT NULL,
		prev_close     REAL NOT NULL,
		fetched_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prices_symbol_time ON prices(symbol, fetched_at DESC);

	CREATE TABLE IF NOT EXISTS candles (
		symbol    TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		open      REAL NOT NULL,
		high      REAL NOT NULL,
		low       REAL NOT NULL,
		close     REAL NOT NULL,
		volume    REAL NOT NULL,
		PRIMARY KEY (symbol, timeframe, open_time)
	);
	CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles(symbol, timeframe, open_time DESC);

	CREATE TABLE IF NOT EXISTS sync_metadata (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// StorePrices appends one snapshot row per record in a single
// transaction, then records the sync time.
func (s *Store) StorePrices(ctx context.Context, records []domain.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin price tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (symbol, price, change_percent, volume, high_24h, low_24h, prev_close, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare price insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.Symbol, rec.Price, rec.ChangePercent, rec.Volume,
			rec.High24h, rec.Low24h, rec.PrevClose, now); err != nil {
			return fmt.Errorf("insert price %s: %w", rec.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit price tx: %w", err)
	}

	s.stamp(ctx, "last_price_sync")
	return nil
}

// LatestPrices returns the most recent stored row for each of the given
// symbols, preserving the input order. Symbols with no history are
// skipped.
func (s *Store) LatestPrices(ctx context.Context, symbols []string) ([]domain.PriceRecord, error) {
	records := make([]domain.PriceRecord, 0, len(symbols))
	for _, symbol := range symbols {
		rec, err := s.LatestPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// LatestPrice returns the newest stored row for symbol, or nil when no
// history exists.
func (s *Store) LatestPrice(ctx context.Context, symbol string) (*domain.PriceRecord, error) {
	var rec domain.PriceRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT symbol, price, change_percent, volume, high_24h, low_24h, prev_close
		FROM prices
		WHERE symbol = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1`, symbol)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest price %s: %w", symbol, err)
	}
	return &rec, nil
}

// PriceHistory returns stored snapshot rows for symbol since the cutoff,
// oldest first.
func (s *Store) PriceHistory(ctx context.Context, symbol string, since time.Time) ([]domain.PriceRecord, error) {
	var records []domain.PriceRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT symbol, price, change_percent, volume, high_24h, low_24h, prev_close
		FROM prices
		WHERE symbol = ? AND fetched_at >= ?
		ORDER BY fetched_at ASC`, symbol, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query price history %s: %w", symbol, err)
	}
	return records, nil
}

// StoreCandles upserts a candle batch for one symbol and timeframe.
// Re-fetching a window overwrites the stored rows rather than
// duplicating them.
func (s *Store) StoreCandles(ctx context.Context, symbol string, tf domain.Timeframe, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candle tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume`)
	if err != nil {
		return fmt.Errorf("prepare candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx,
			symbol, tf.String(), c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("upsert candle %s %s: %w", symbol, tf, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit candle tx: %w", err)
	}
	return nil
}

// Candles returns up to limit stored candles for symbol/timeframe,
// oldest first.
func (s *Store) Candles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	var candles []domain.Candle
	err := s.db.SelectContext(ctx, &candles, `
		SELECT open, high, low, close, volume, open_time AS timestamp
		FROM (
			SELECT open, high, low, close, volume, open_time
			FROM candles
			WHERE symbol = ? AND timeframe = ?
			ORDER BY open_time DESC
			LIMIT ?
		)
		ORDER BY open_time ASC`, symbol, tf.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query candles %s %s: %w", symbol, tf, err)
	}
	return candles, nil
}

// SetMetadata upserts a key in sync_metadata.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert metadata %s: %w", key, err)
	}
	return nil
}

// Metadata returns the value stored under key, or "" when absent.
func (s *Store) Metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM sync_metadata WHERE key = ?", key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query metadata %s: %w", key, err)
	}
	return value, nil
}

// Cleanup deletes price rows older than 30 days and candle rows older
// than 90 days, returning the number of rows removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	now := time.Now()

	res, err := s.db.ExecContext(ctx, "DELETE FROM prices WHERE fetched_at < ?", now.Add(-priceRetention).Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup prices: %w", err)
	}
	priceRows, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, "DELETE FROM candles WHERE open_time < ?", now.Add(-candleRetention).UnixMilli())
	if err != nil {
		return priceRows, fmt.Errorf("cleanup candles: %w", err)
	}
	candleRows, _ := res.RowsAffected()

	total := priceRows + candleRows
	if total > 0 {
		// Reclaim the freed pages; VACUUM cannot run inside a
		// transaction, which is why the deletes above autocommit.
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			return total, fmt.Errorf("vacuum: %w", err)
		}
		log.Info().Int64("prices", priceRows).Int64("candles", candleRows).Msg("cleaned up expired rows")
	}
	return total, nil
}

// Stats reports row counts and the stored time range.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := s.db.GetContext(ctx, &stats.PriceRows, "SELECT COUNT(*) FROM prices"); err != nil {
		return stats, fmt.Errorf("count prices: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.CandleRows, "SELECT COUNT(*) FROM candles"); err != nil {
		return stats, fmt.Errorf("count candles: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.Symbols, "SELECT COUNT(DISTINCT symbol) FROM prices"); err != nil {
		return stats, fmt.Errorf("count symbols: %w", err)
	}

	var oldest, newest sql.NullInt64
	err := s.db.QueryRowxContext(ctx, "SELECT MIN(fetched_at), MAX(fetched_at) FROM prices").Scan(&oldest, &newest)
	if err != nil {
		return stats, fmt.Errorf("query price range: %w", err)
	}
	if oldest.Valid {
		t := time.Unix(oldest.Int64, 0)
		stats.OldestPrice = &t
	}
	if newest.Valid {
		t := time.Unix(newest.Int64, 0)
		stats.NewestPrice = &t
	}

	return stats, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stamp(ctx context.Context, key string) {
	if err := s.SetMetadata(ctx, key, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to stamp sync metadata")
	}
}
