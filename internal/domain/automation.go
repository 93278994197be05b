package domain

import "time"

// CoordinatorState is the execution coordinator's state machine position.
type CoordinatorState string

const (
	StateIdle       CoordinatorState = "Idle"
	StateEvaluating CoordinatorState = "Evaluating"
	StateExecuting  CoordinatorState = "Executing"
	StateSettling   CoordinatorState = "Settling"
	StateHalted     CoordinatorState = "Halted"
)

// AutomationState is the process-wide view of whether the scan loop runs and
// how execution has been going.
type AutomationState struct {
	Enabled             bool       `json:"enabled"`
	LastScanAt          *time.Time `json:"last_scan_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Halted              bool       `json:"halted"`
	HaltReason          string     `json:"halt_reason,omitempty"`
}

// Status is the reply to a status request.
type Status struct {
	AutomationState
	TradeCountToday       int              `json:"trade_count_today"`
	DailyCap              int              `json:"daily_cap"`
	CumulativeNotionalUSD float64          `json:"cumulative_notional_usd"`
	CoordinatorState      CoordinatorState `json:"coordinator_state"`
	DryRun                bool             `json:"dry_run"`
	OpenPositions         int              `json:"open_positions"`
}

// Operation is the closed set of commands the engine accepts from a front end.
type Operation string

const (
	OpOneShotScan     Operation = "OneShotScan"
	OpStartAutomation Operation = "StartAutomation"
	OpStopAutomation  Operation = "StopAutomation"
	OpManualTrade     Operation = "ManualTrade"
	OpStatus          Operation = "Status"
	OpResetHalt       Operation = "ResetHalt"
	OpListPositions   Operation = "ListPositions"
	OpClosePosition   Operation = "ClosePosition"
)

// Command is one typed request from a front end.
type Command struct {
	Op          Operation `json:"op"`
	RequesterID string    `json:"requester_id"`
	Symbol      string    `json:"symbol,omitempty"` // ManualTrade and ClosePosition
}

// Reply carries whichever payload the operation produces.
type Reply struct {
	Op        Operation         `json:"op"`
	Status    *Status           `json:"status,omitempty"`
	Scan      *ScanReport       `json:"scan,omitempty"`
	Outcome   *ExecutionOutcome `json:"outcome,omitempty"`
	Positions []Position        `json:"positions,omitempty"`
}
