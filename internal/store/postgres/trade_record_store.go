package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// TradeRecordStore implements domain.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *pgxpool.Pool
}

// NewTradeRecordStore creates a new TradeRecordStore backed by the given
// connection pool.
func NewTradeRecordStore(pool *pgxpool.Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

const tradeRecordCols = `id, executed_at, symbol, mint, side, notional_usd, profit_usd,
	COALESCE(tx_id, ''), outcome, source, COALESCE(error, '')`

func scanTradeRecords(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var side, outcome, source string
		if err := rows.Scan(
			&r.ID, &r.Timestamp, &r.Symbol, &r.Mint, &side, &r.NotionalUSD, &r.ProfitUSD,
			&r.TxID, &outcome, &source, &r.Error,
		); err != nil {
			return nil, err
		}
		r.Side = domain.TradeSide(side)
		r.Outcome = domain.TradeOutcome(outcome)
		r.Source = domain.TradeSource(source)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Append inserts one journal row. Records are immutable; appending an id that
// already exists is an error.
func (s *TradeRecordStore) Append(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			id, executed_at, symbol, mint, side, notional_usd, profit_usd,
			tx_id, outcome, source, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	side := rec.Side
	if side == "" {
		side = domain.SideBuy
	}
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Timestamp.UTC(), rec.Symbol, rec.Mint, string(side), rec.NotionalUSD, rec.ProfitUSD,
		nullIfEmpty(rec.TxID), string(rec.Outcome), string(rec.Source), nullIfEmpty(rec.Error),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: append trade record %s: duplicate id", rec.ID)
		}
		return fmt.Errorf("postgres: append trade record %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns records newest first, honouring limit, offset and the
// optional time bounds.
func (s *TradeRecordStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := listQuery(`SELECT `+tradeRecordCols+` FROM trade_records`,
		"executed_at", "executed_at DESC, created_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return recs, nil
}

// SummarizeDay counts executed buys and their notional for the UTC day
// containing dayUTC. Sells close exposure and do not count against the caps.
func (s *TradeRecordStore) SummarizeDay(ctx context.Context, dayUTC time.Time) (domain.DaySummary, error) {
	start := domain.DayStart(dayUTC)
	const query = `
		SELECT COUNT(*), COALESCE(SUM(notional_usd), 0)
		FROM trade_records
		WHERE outcome = 'Executed' AND side = 'buy' AND executed_at >= $1 AND executed_at < $2`

	var sum domain.DaySummary
	if err := s.pool.QueryRow(ctx, query, start, start.AddDate(0, 0, 1)).Scan(&sum.TradeCount, &sum.NotionalUSD); err != nil {
		return domain.DaySummary{}, fmt.Errorf("postgres: summarize day %s: %w", start.Format(time.DateOnly), err)
	}
	return sum, nil
}

// ListBefore returns every record executed strictly before the cutoff, oldest
// first. The archiver uses it to export old rows.
func (s *TradeRecordStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordCols + ` FROM trade_records
		WHERE executed_at < $1 ORDER BY executed_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records before: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return recs, nil
}

// DeleteBefore removes archived rows and reports how many were deleted.
func (s *TradeRecordStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_records WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trade records before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeRecordStore = (*TradeRecordStore)(nil)
