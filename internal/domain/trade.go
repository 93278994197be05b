package domain

import "time"

// TradeOutcome is the terminal result of one execution attempt.
type TradeOutcome string

const (
	OutcomeExecuted TradeOutcome = "Executed"
	OutcomeFailed   TradeOutcome = "Failed"
)

// TradeRecord is the append-only journal entry written for every attempted
// execution. Records written before sells existed have an empty Side and are
// buys.
type TradeRecord struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Symbol      string       `json:"symbol"`
	Mint        string       `json:"mint"`
	Side        TradeSide    `json:"side,omitempty"`
	NotionalUSD float64      `json:"notional_usd"`
	ProfitUSD   float64      `json:"profit_usd"`
	TxID        string       `json:"tx_id,omitempty"`
	Outcome     TradeOutcome `json:"outcome"`
	Source      TradeSource  `json:"source"`
	Error       string       `json:"error,omitempty"`
}

// ExecutionResultStatus is what a submitter learns about its opportunity.
type ExecutionResultStatus string

const (
	ExecStatusExecuted ExecutionResultStatus = "executed"
	ExecStatusFailed   ExecutionResultStatus = "failed"
	ExecStatusRejected ExecutionResultStatus = "rejected"
)

// ExecutionOutcome reports how the coordinator disposed of an opportunity.
// Record is set whenever an execution was actually attempted.
type ExecutionOutcome struct {
	OpportunityID string                `json:"opportunity_id"`
	Symbol        string                `json:"symbol"`
	Status        ExecutionResultStatus `json:"status"`
	Reason        RejectionReason       `json:"reason,omitempty"`
	Detail        string                `json:"detail,omitempty"`
	Record        *TradeRecord          `json:"record,omitempty"`
}

// IsSell reports whether the record is a position exit.
func (r TradeRecord) IsSell() bool {
	return r.Side == SideSell
}
