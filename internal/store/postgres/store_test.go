package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// setupTestDB starts a disposable PostgreSQL container and applies the
// embedded migrations.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in -short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("swapbot"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	// Second run is a no-op.
	require.NoError(t, client.RunMigrations(ctx))
	return client
}

func record(ts time.Time, outcome domain.TradeOutcome, notional float64) domain.TradeRecord {
	r := domain.TradeRecord{
		ID:          uuid.NewString(),
		Timestamp:   ts,
		Symbol:      "WIF",
		Mint:        "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm",
		NotionalUSD: notional,
		ProfitUSD:   0.12,
		Outcome:     outcome,
		Source:      domain.SourceAuto,
	}
	if outcome == domain.OutcomeExecuted {
		r.TxID = "5sig"
	} else {
		r.Error = "executor failure: boom"
	}
	return r
}

func TestTradeRecordStore(t *testing.T) {
	client := setupTestDB(t)
	store := NewTradeRecordStore(client.Pool())
	ctx := context.Background()

	day := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	older := record(day.Add(-2*time.Hour), domain.OutcomeExecuted, 4)
	first := record(day.Add(1*time.Hour), domain.OutcomeExecuted, 4)
	failed := record(day.Add(2*time.Hour), domain.OutcomeFailed, 4)
	second := record(day.Add(3*time.Hour), domain.OutcomeExecuted, 4)
	sold := record(day.Add(30*time.Minute), domain.OutcomeExecuted, 5)
	sold.Side = domain.SideSell
	for _, r := range []domain.TradeRecord{older, sold, first, failed, second} {
		require.NoError(t, store.Append(ctx, r))
	}

	t.Run("duplicate id rejected", func(t *testing.T) {
		assert.Error(t, store.Append(ctx, first))
	})

	t.Run("summarize counts executed buys only", func(t *testing.T) {
		sum, err := store.SummarizeDay(ctx, day.Add(12*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, sum.TradeCount)
		assert.InDelta(t, 8.0, sum.NotionalUSD, 1e-9)

		empty, err := store.SummarizeDay(ctx, day.AddDate(0, 0, 5))
		require.NoError(t, err)
		assert.Equal(t, domain.DaySummary{}, empty)
	})

	t.Run("list recent newest first", func(t *testing.T) {
		recs, err := store.ListRecent(ctx, domain.ListOpts{Limit: 3})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, second.ID, recs[0].ID)
		assert.Equal(t, failed.ID, recs[1].ID)
		assert.Equal(t, domain.OutcomeFailed, recs[1].Outcome)
		assert.Empty(t, recs[1].TxID)
		assert.Equal(t, "executor failure: boom", recs[1].Error)
		assert.True(t, second.Timestamp.Equal(recs[0].Timestamp))
		assert.Equal(t, domain.SideBuy, recs[0].Side, "empty side is stored as buy")
	})

	t.Run("side persisted", func(t *testing.T) {
		recs, err := store.ListRecent(ctx, domain.ListOpts{Limit: 1, Offset: 3})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, sold.ID, recs[0].ID)
		assert.Equal(t, domain.SideSell, recs[0].Side)
	})

	t.Run("list before and delete", func(t *testing.T) {
		old, err := store.ListBefore(ctx, day)
		require.NoError(t, err)
		require.Len(t, old, 1)
		assert.Equal(t, older.ID, old[0].ID)

		n, err := store.DeleteBefore(ctx, day)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		recs, err := store.ListRecent(ctx, domain.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, recs, 4)
	})
}

func TestAuditStore(t *testing.T) {
	client := setupTestDB(t)
	store := NewAuditStore(client.Pool())
	ctx := context.Background()

	require.NoError(t, store.Log(ctx, "automation_started", map[string]any{"requester": "admin-1"}))
	require.NoError(t, store.Log(ctx, "engine_halted", map[string]any{"reason": "3 consecutive executor failures"}))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "engine_halted", entries[0].Event)
	assert.Equal(t, "admin-1", entries[1].Detail["requester"])
}

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q, args := listQuery("SELECT id FROM audit_log", "created_at", "created_at DESC", domain.ListOpts{})
	assert.Equal(t, "SELECT id FROM audit_log ORDER BY created_at DESC", q)
	assert.Empty(t, args)

	q, args = listQuery("SELECT id FROM audit_log", "created_at", "created_at DESC",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT id FROM audit_log WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)
}
