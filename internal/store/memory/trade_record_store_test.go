package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

func rec(id string, ts time.Time, outcome domain.TradeOutcome) domain.TradeRecord {
	return domain.TradeRecord{
		ID:          id,
		Timestamp:   ts,
		Symbol:      "BONK",
		Mint:        "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
		NotionalUSD: 4,
		Outcome:     outcome,
		Source:      domain.SourceManual,
	}
}

func TestTradeRecordStore_InMemory(t *testing.T) {
	s, err := NewTradeRecordStore("")
	require.NoError(t, err)
	ctx := context.Background()
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, rec("a", day.Add(-time.Hour), domain.OutcomeExecuted)))
	require.NoError(t, s.Append(ctx, rec("b", day.Add(time.Hour), domain.OutcomeExecuted)))
	require.NoError(t, s.Append(ctx, rec("c", day.Add(2*time.Hour), domain.OutcomeFailed)))
	assert.Error(t, s.Append(ctx, rec("a", day, domain.OutcomeExecuted)))

	sold := rec("d", day.Add(30*time.Minute), domain.OutcomeExecuted)
	sold.Side = domain.SideSell
	require.NoError(t, s.Append(ctx, sold))

	sum, err := s.SummarizeDay(ctx, day.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.DaySummary{TradeCount: 1, NotionalUSD: 4}, sum, "sells are not counted")

	recent, err := s.ListRecent(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].ID)
	assert.Equal(t, "c", recent[1].ID)

	page, err := s.ListRecent(ctx, domain.ListOpts{Limit: 2, Offset: 3})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)

	old, err := s.ListBefore(ctx, day)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "a", old[0].ID)
}

func TestTradeRecordStore_JournalSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trades.jsonl")
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	s, err := NewTradeRecordStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, rec("x", now, domain.OutcomeExecuted)))
	require.NoError(t, s.Append(ctx, rec("y", now.Add(time.Minute), domain.OutcomeExecuted)))
	require.NoError(t, s.Close())

	reopened, err := NewTradeRecordStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	sum, err := reopened.SummarizeDay(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TradeCount)
	assert.InDelta(t, 8.0, sum.NotionalUSD, 1e-9)

	require.NoError(t, reopened.Append(ctx, rec("z", now.Add(2*time.Minute), domain.OutcomeFailed)))
	recent, err := reopened.ListRecent(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}
