package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DaySummary aggregates executed trades for one UTC day.
type DaySummary struct {
	TradeCount  int
	NotionalUSD float64
}

// TradeRecordStore persists the append-only trade journal.
type TradeRecordStore interface {
	Append(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
	SummarizeDay(ctx context.Context, dayUTC time.Time) (DaySummary, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
