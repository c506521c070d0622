// Package postgres provides Postgres-backed persistence for trades and their
// daily summaries.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/b3-market-data/internal/market"
)

const (
	createTradeTable = `
CREATE TABLE IF NOT EXISTS trade (
	ticker       VARCHAR(16) NOT NULL,
	gross_amount NUMERIC(18, 3) NOT NULL,
	quantity     BIGINT NOT NULL,
	traded_at    TIMESTAMPTZ NOT NULL,
	date         DATE NOT NULL
)`
	createTradeDateIndex = `CREATE INDEX IF NOT EXISTS idx_trade_date ON trade (date)`

	createSummaryView = `
CREATE MATERIALIZED VIEW IF NOT EXISTS trade_summary AS
SELECT
	date,
	ticker,
	MAX(gross_amount) AS max_range_value,
	SUM(quantity) AS total_quantity
FROM trade
GROUP BY date, ticker`
	refreshSummaryView = `REFRESH MATERIALIZED VIEW trade_summary`
	createSummaryIndex = `CREATE INDEX IF NOT EXISTS idx_trade_summary_ticker_day ON trade_summary (ticker, date)`
	dropSummaryView    = `DROP MATERIALIZED VIEW IF EXISTS trade_summary`
	dropTradeTable     = `DROP TABLE IF EXISTS trade`

	selectSummary = `
SELECT
	ticker,
	MAX(max_range_value)::DOUBLE PRECISION AS max_range_value,
	MAX(total_quantity)::BIGINT AS max_daily_volume
FROM trade_summary`
	listSummaries      = selectSummary + ` GROUP BY ticker ORDER BY ticker`
	listSummariesSince = selectSummary + ` WHERE date >= $1 GROUP BY ticker ORDER BY ticker`
	getSummary         = selectSummary + ` WHERE ticker = $1 GROUP BY ticker`
	getSummarySince    = selectSummary + ` WHERE ticker = $1 AND date >= $2 GROUP BY ticker`

	tradeTable = "trade"
)

var tradeColumns = []string{"ticker", "gross_amount", "quantity", "traded_at", "date"}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Ping(context.Context) error
	Close()
}

// TradeStore persists trades and serves summaries from the trade_summary
// materialized view.
type TradeStore struct {
	pool pool
}

// NewTradeStore connects to Postgres and verifies the connection.
func NewTradeStore(ctx context.Context, cfg Config) (*TradeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &TradeStore{pool: p}, nil
}

// NewTradeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTradeStoreWithPool(p pool) (*TradeStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TradeStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *TradeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *TradeStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the trade table and its index if missing.
func (s *TradeStore) EnsureSchema(ctx context.Context) error {
	return s.execAll(ctx, "ensure schema", createTradeTable, createTradeDateIndex)
}

// DropSchema removes the summary view and the trade table.
func (s *TradeStore) DropSchema(ctx context.Context) error {
	return s.execAll(ctx, "drop schema", dropSummaryView, dropTradeTable)
}

// Refresh creates the summary view if needed, recomputes it and ensures its
// index.
func (s *TradeStore) Refresh(ctx context.Context) error {
	return s.execAll(ctx, "refresh summaries", createSummaryView, refreshSummaryView, createSummaryIndex)
}

func (s *TradeStore) execAll(ctx context.Context, op string, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// InsertTrades bulk-loads trades with COPY and returns the row count.
func (s *TradeStore) InsertTrades(ctx context.Context, trades []market.Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	src := pgx.CopyFromSlice(len(trades), func(i int) ([]any, error) {
		t := trades[i]
		return []any{t.Ticker, t.GrossAmount, t.Quantity, t.TradedAt, t.Date}, nil
	})
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{tradeTable}, tradeColumns, src)
	if err != nil {
		return n, fmt.Errorf("copy trades: %w", err)
	}
	return n, nil
}

// ListSummaries returns one summary per ticker over sessions on or after
// since. A zero since covers every session.
func (s *TradeStore) ListSummaries(ctx context.Context, since time.Time) ([]market.TradeSummary, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if since.IsZero() {
		rows, err = s.pool.Query(ctx, listSummaries)
	} else {
		rows, err = s.pool.Query(ctx, listSummariesSince, since)
	}
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	summaries := []market.TradeSummary{}
	for rows.Next() {
		var ts market.TradeSummary
		if err := rows.Scan(&ts.Ticker, &ts.MaxRangeValue, &ts.MaxDailyVolume); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return summaries, nil
}

// GetSummary returns the summary for ticker. A ticker with no trades in range
// yields a zero summary carrying the ticker, not an error.
func (s *TradeStore) GetSummary(ctx context.Context, ticker string, since time.Time) (market.TradeSummary, error) {
	var row pgx.Row
	if since.IsZero() {
		row = s.pool.QueryRow(ctx, getSummary, ticker)
	} else {
		row = s.pool.QueryRow(ctx, getSummarySince, ticker, since)
	}
	var ts market.TradeSummary
	if err := row.Scan(&ts.Ticker, &ts.MaxRangeValue, &ts.MaxDailyVolume); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.TradeSummary{Ticker: ticker}, nil
		}
		return market.TradeSummary{}, fmt.Errorf("get summary %s: %w", ticker, err)
	}
	return ts, nil
}
