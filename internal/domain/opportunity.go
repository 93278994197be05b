package domain

// TradeSource distinguishes scan-loop trades from operator-requested ones.
type TradeSource string

const (
	SourceAuto   TradeSource = "auto"
	SourceManual TradeSource = "manual"
)

// TradeSide is the direction of a swap relative to the quote asset.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// ExitReason says why a sell was raised.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "StopLoss"
	ExitTakeProfit ExitReason = "TakeProfit"
	ExitManual     ExitReason = "Manual"
)

// RejectionReason tags why an opportunity did not turn into a trade.
type RejectionReason string

const (
	ReasonNone               RejectionReason = ""
	ReasonLowLiquidity       RejectionReason = "LowLiquidity"
	ReasonInsufficientProfit RejectionReason = "InsufficientProfit"
	ReasonExceedsMaxNotional RejectionReason = "ExceedsMaxNotional"
	ReasonStaleQuote         RejectionReason = "StaleQuote"
	ReasonGatewayError       RejectionReason = "GatewayError"

	// Raised by the execution coordinator rather than the evaluator.
	ReasonDailyLimitExceeded RejectionReason = "DailyLimitExceeded"
	ReasonEngineHalted       RejectionReason = "EngineHalted"
	ReasonAutomationStopped  RejectionReason = "AutomationStopped"
	ReasonSuperseded         RejectionReason = "Superseded"
	ReasonExecutionBusy      RejectionReason = "ExecutionBusy"
	ReasonShuttingDown       RejectionReason = "ShuttingDown"
	ReasonNoPosition         RejectionReason = "NoPosition"

	// Raised by the position monitor for positions left open.
	ReasonHolding RejectionReason = "Holding"
)

// Err maps a reason onto its sentinel error so callers can use errors.Is.
// Reasons without a dedicated sentinel return nil.
func (r RejectionReason) Err() error {
	switch r {
	case ReasonGatewayError:
		return ErrGateway
	case ReasonStaleQuote:
		return ErrStaleQuote
	case ReasonDailyLimitExceeded:
		return ErrDailyLimitExceeded
	case ReasonEngineHalted:
		return ErrEngineHalted
	case ReasonExecutionBusy:
		return ErrLockHeld
	case ReasonShuttingDown:
		return ErrShuttingDown
	case ReasonNoPosition:
		return ErrNotFound
	default:
		return nil
	}
}

// Opportunity is a quoted candidate with a profitability estimate. It lives
// for a single scan cycle.
//
// A buy spends NotionalUSD of the quote asset. A sell closes a position:
// NotionalUSD is then the quoted exit value and the profit fields are the
// result against the position's cost. An empty Side means buy.
type Opportunity struct {
	ID                 string      `json:"id"`
	Candidate          Candidate   `json:"candidate"`
	Side               TradeSide   `json:"side,omitempty"`
	Quote              Quote       `json:"quote"`
	NotionalUSD        float64     `json:"notional_usd"`
	OutputValueUSD     float64     `json:"output_value_usd"`
	EstimatedProfitPct float64     `json:"estimated_profit_pct"`
	EstimatedProfitUSD float64     `json:"estimated_profit_usd"`
	Source             TradeSource `json:"source"`
	// RoundTripRatio is what selling the quoted output straight back would
	// return, as a share of the input. Zero when not checked.
	RoundTripRatio float64    `json:"round_trip_ratio,omitempty"`
	Exit           ExitReason `json:"exit,omitempty"`
}

// IsSell reports whether the opportunity closes a position.
func (o Opportunity) IsSell() bool {
	return o.Side == SideSell
}

// Evaluation is the scanner's verdict for one candidate. Opportunity is nil
// when no quote could be obtained.
type Evaluation struct {
	Candidate   Candidate       `json:"candidate"`
	Opportunity *Opportunity    `json:"opportunity,omitempty"`
	Accepted    bool            `json:"accepted"`
	Reason      RejectionReason `json:"reason,omitempty"`
	Detail      string          `json:"detail,omitempty"`
}

// ScanReport summarises one scan.
type ScanReport struct {
	Evaluations []Evaluation            `json:"evaluations"`
	Accepted    int                     `json:"accepted"`
	Rejected    map[RejectionReason]int `json:"rejected"`
}

// NewScanReport tallies evaluations into a report.
func NewScanReport(evals []Evaluation) ScanReport {
	r := ScanReport{
		Evaluations: evals,
		Rejected:    make(map[RejectionReason]int),
	}
	for _, e := range evals {
		if e.Accepted {
			r.Accepted++
			continue
		}
		r.Rejected[e.Reason]++
	}
	return r
}
