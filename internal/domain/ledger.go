package domain

import "time"

// DailyLedger counts executed trades and notional for one UTC day.
type DailyLedger struct {
	DateUTC               string  `json:"date_utc"` // YYYY-MM-DD
	TradeCount            int     `json:"trade_count"`
	CumulativeNotionalUSD float64 `json:"cumulative_notional_usd"`
}

// UTCDate formats t as the ledger's day key.
func UTCDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// DayStart returns midnight UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RollIfNewDay returns ledger unchanged when nowUTC falls on the same UTC
// date, or a zeroed ledger for the new date otherwise.
func RollIfNewDay(ledger DailyLedger, nowUTC time.Time) DailyLedger {
	today := UTCDate(nowUTC)
	if ledger.DateUTC == today {
		return ledger
	}
	return DailyLedger{DateUTC: today}
}
