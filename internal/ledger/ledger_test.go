package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func TestCheckAndReserve_CommitIncrements(t *testing.T) {
	l := New(Limits{DailyCap: 10}, day1)

	require.True(t, l.CheckAndReserve(day1, 4))
	l.Commit(4)

	snap := l.Snapshot()
	assert.Equal(t, 1, snap.TradeCount)
	assert.InDelta(t, 4.0, snap.CumulativeNotionalUSD, 1e-9)
}

func TestCheckAndReserve_AtCapRejects(t *testing.T) {
	l := New(Limits{DailyCap: 10}, day1)
	l.Restore(day1, 10, 40)

	assert.False(t, l.CheckAndReserve(day1, 4))
	assert.Equal(t, 10, l.Snapshot().TradeCount)
}

func TestCheckAndReserve_SingleOutstandingReservation(t *testing.T) {
	l := New(Limits{DailyCap: 10}, day1)

	require.True(t, l.CheckAndReserve(day1, 1))
	assert.False(t, l.CheckAndReserve(day1, 1))

	l.Release()
	assert.True(t, l.CheckAndReserve(day1, 1))
}

func TestRelease_DoesNotCount(t *testing.T) {
	l := New(Limits{DailyCap: 3}, day1)
	require.True(t, l.CheckAndReserve(day1, 5))
	l.Release()

	assert.Equal(t, 0, l.Snapshot().TradeCount)
}

func TestCommit_WithoutReservationIsNoop(t *testing.T) {
	l := New(Limits{DailyCap: 3}, day1)
	l.Commit(5)
	assert.Equal(t, 0, l.Snapshot().TradeCount)
}

func TestNotionalCap(t *testing.T) {
	l := New(Limits{DailyCap: 100, MaxNotionalUSD: 10}, day1)

	require.True(t, l.CheckAndReserve(day1, 6))
	l.Commit(6)
	assert.False(t, l.CheckAndReserve(day1, 5))
	assert.True(t, l.CheckAndReserve(day1, 4))
}

func TestRollover_ResetsOnNewUTCDate(t *testing.T) {
	l := New(Limits{DailyCap: 2}, day1)
	for i := 0; i < 2; i++ {
		require.True(t, l.CheckAndReserve(day1, 1))
		l.Commit(1)
	}
	require.False(t, l.CheckAndReserve(day1, 1))

	// Idle across midnight, first touch on the next day sees a fresh ledger.
	next := time.Date(2026, 5, 5, 0, 0, 1, 0, time.UTC)
	assert.True(t, l.CheckAndReserve(next, 1))
	assert.Equal(t, "2026-05-05", l.Snapshot().DateUTC)
	assert.Equal(t, 0, l.Snapshot().TradeCount)
}

func TestRestore_IgnoresOtherDay(t *testing.T) {
	l := New(Limits{DailyCap: 10}, day1)
	l.Restore(day1.Add(-24*time.Hour), 7, 28)
	assert.Equal(t, 0, l.Snapshot().TradeCount)

	l.Restore(day1, 50, 200)
	assert.Equal(t, 10, l.Snapshot().TradeCount, "restore clamps to cap")
}

// For any sequence of attempts, the count equals min(successful executions, cap).
func TestProperty_CountIsMinOfExecutedAndCap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		dailyCap := 1 + rng.Intn(12)
		l := New(Limits{DailyCap: dailyCap}, day1)
		succeeded := 0
		attempts := rng.Intn(40)
		for i := 0; i < attempts; i++ {
			executorOK := rng.Intn(3) != 0
			if executorOK {
				succeeded++
			}
			if !l.CheckAndReserve(day1, 1) {
				continue
			}
			if !executorOK {
				l.Release()
				continue
			}
			l.Commit(1)
			assert.LessOrEqual(t, l.Snapshot().TradeCount, dailyCap)
		}
		want := succeeded
		if want > dailyCap {
			want = dailyCap
		}
		assert.Equal(t, want, l.Snapshot().TradeCount)
	}
}

func TestCommit_CountsSettledNotional(t *testing.T) {
	l := New(Limits{DailyCap: 10, MaxNotionalUSD: 10}, day1)

	// Reserved at the quoted size, settled at the filled size.
	require.True(t, l.CheckAndReserve(day1, 4))
	l.Commit(3.5)
	assert.InDelta(t, 3.5, l.Snapshot().CumulativeNotionalUSD, 1e-9)
	assert.True(t, l.CheckAndReserve(day1, 6.5))
}

func TestRollover_DropsOutstandingReservation(t *testing.T) {
	l := New(Limits{DailyCap: 10}, day1)
	require.True(t, l.CheckAndReserve(day1, 4))

	next := day1.Add(24 * time.Hour)
	l.RollIfNewDay(next)
	l.Commit(4)
	assert.Equal(t, 0, l.Snapshot().TradeCount, "commit after rollover has nothing to settle")
	assert.True(t, l.CheckAndReserve(next, 4))
}
