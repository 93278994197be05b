// Package ledger enforces the engine's per-UTC-day trade and notional caps.
//
// A Ledger is not safe for concurrent use. It is owned by the execution
// coordinator and only touched from inside its serialized settle path.
package ledger

import (
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Limits are the caps a Ledger enforces. MaxNotionalUSD of zero disables the
// notional cap.
type Limits struct {
	DailyCap       int
	MaxNotionalUSD float64
}

// Ledger wraps the live DailyLedger with a single-slot reservation so a
// check and its later commit cannot be split by another attempt.
type Ledger struct {
	limits   Limits
	current  domain.DailyLedger
	reserved bool
}

// New returns a Ledger for the UTC day containing now.
func New(limits Limits, now time.Time) *Ledger {
	return &Ledger{
		limits:  limits,
		current: domain.RollIfNewDay(domain.DailyLedger{}, now),
	}
}

// Restore seeds today's counters, typically from the persistent journal at
// startup. Values for a different day are ignored.
func (l *Ledger) Restore(day time.Time, count int, notional float64) {
	if domain.UTCDate(day) != l.current.DateUTC {
		return
	}
	if count > l.limits.DailyCap {
		count = l.limits.DailyCap
	}
	l.current.TradeCount = count
	l.current.CumulativeNotionalUSD = notional
}

// RollIfNewDay adopts a fresh zeroed ledger when now is on a later UTC date.
// An outstanding reservation does not survive the rollover.
func (l *Ledger) RollIfNewDay(now time.Time) {
	next := domain.RollIfNewDay(l.current, now)
	if next.DateUTC != l.current.DateUTC {
		l.reserved = false
	}
	l.current = next
}

// CheckAndReserve rolls the day if needed and reserves a slot for a trade of
// the given notional. It returns false when the cap would be exceeded or a
// reservation is already outstanding.
func (l *Ledger) CheckAndReserve(now time.Time, notional float64) bool {
	l.RollIfNewDay(now)
	if l.reserved {
		return false
	}
	if l.current.TradeCount >= l.limits.DailyCap {
		return false
	}
	if l.limits.MaxNotionalUSD > 0 && l.current.CumulativeNotionalUSD+notional > l.limits.MaxNotionalUSD {
		return false
	}
	l.reserved = true
	return true
}

// Commit converts the outstanding reservation into an executed trade. It is a
// no-op without a reservation, which keeps TradeCount bounded by DailyCap.
func (l *Ledger) Commit(notional float64) {
	if !l.reserved {
		return
	}
	l.reserved = false
	l.current.TradeCount++
	l.current.CumulativeNotionalUSD += notional
}

// Release drops the outstanding reservation without counting a trade.
func (l *Ledger) Release() {
	l.reserved = false
}

// Snapshot returns a copy of the live ledger.
func (l *Ledger) Snapshot() domain.DailyLedger {
	return l.current
}

// Limits returns the configured caps.
func (l *Ledger) Limits() Limits {
	return l.limits
}
