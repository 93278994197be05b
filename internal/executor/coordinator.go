// Package executor serializes trade execution. A single Coordinator run loop
// owns the daily ledger and the failure counter; everything that wants to
// trade goes through Submit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/ledger"
	"github.com/alanyoungcy/swapbot/internal/observability"
	"github.com/alanyoungcy/swapbot/internal/trace"
)

// Gate reports whether automated trading is switched on. Manual trades skip
// the gate.
type Gate interface {
	Enabled() bool
}

// PositionBook is the coordinator's view of held tokens. Sells are only
// admitted against an open position, and executed trades are applied to it.
type PositionBook interface {
	Holding(mint string) (domain.Position, bool)
	Apply(ctx context.Context, opp domain.Opportunity)
}

// Config tunes the coordinator.
type Config struct {
	StalenessTolerance time.Duration
	HaltThreshold      int
	ExecuteTimeout     time.Duration
	LockKey            string
	LockTTL            time.Duration
	ExplorerURL        string
	RecentLimit        int
}

// Snapshot is a read-only view of coordinator state.
type Snapshot struct {
	State               domain.CoordinatorState
	Halted              bool
	HaltReason          string
	ConsecutiveFailures int
	Ledger              domain.DailyLedger
	DailyCap            int
	Pending             int
}

// Coordinator is the engine's single execution point. Opportunities queue up
// through Submit and are executed one at a time by Run.
type Coordinator struct {
	executor domain.Executor
	ledger   *ledger.Ledger
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	store     domain.TradeRecordStore
	locks     domain.LockManager
	positions PositionBook
	events    *domain.Emitter
	metrics   *observability.Metrics

	queue *pendingQueue
	wake  chan struct{}

	mu         sync.Mutex
	state      domain.CoordinatorState
	halted     bool
	haltReason string
	failures   int
	gate       Gate
	onHalt     func(reason string)
	recent     []domain.TradeRecord
}

// NewCoordinator creates a Coordinator that executes through exec and
// enforces caps with l.
func NewCoordinator(exec domain.Executor, l *ledger.Ledger, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 100
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "swapbot:execute"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Coordinator{
		executor: exec,
		ledger:   l,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "coordinator")),
		queue:    newPendingQueue(),
		wake:     make(chan struct{}, 1),
		state:    domain.StateIdle,
	}
}

// SetStore persists every trade record after it is settled in memory.
func (c *Coordinator) SetStore(s domain.TradeRecordStore) { c.store = s }

// SetLockManager makes each execution hold a distributed lock, so several
// engine processes sharing one wallet still execute one at a time.
func (c *Coordinator) SetLockManager(lm domain.LockManager) { c.locks = lm }

// SetPositions enables sells and records executed trades as positions.
func (c *Coordinator) SetPositions(b PositionBook) { c.positions = b }

// SetEmitter sets the outbound event channel.
func (c *Coordinator) SetEmitter(e *domain.Emitter) { c.events = e }

// SetMetrics sets the metrics sink.
func (c *Coordinator) SetMetrics(m *observability.Metrics) { c.metrics = m }

// SetGate installs the automation run flag checked before auto trades.
func (c *Coordinator) SetGate(g Gate) {
	c.mu.Lock()
	c.gate = g
	c.mu.Unlock()
}

// OnHalt registers fn to run, outside the coordinator lock, when the failure
// threshold halts the engine.
func (c *Coordinator) OnHalt(fn func(reason string)) {
	c.mu.Lock()
	c.onHalt = fn
	c.mu.Unlock()
}

// Restore seeds today's ledger counters and the recent record list from the
// store. It must be called before Run.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	now := c.now()
	sum, err := c.store.SummarizeDay(ctx, now.UTC())
	if err != nil {
		return fmt.Errorf("coordinator: restore ledger: %w", err)
	}
	recent, err := c.store.ListRecent(ctx, domain.ListOpts{Limit: c.cfg.RecentLimit})
	if err != nil {
		return fmt.Errorf("coordinator: restore records: %w", err)
	}

	c.mu.Lock()
	c.ledger.Restore(now, sum.TradeCount, sum.NotionalUSD)
	snap := c.ledger.Snapshot()
	// ListRecent is newest first; recent is kept oldest first.
	c.recent = c.recent[:0]
	for i := len(recent) - 1; i >= 0; i-- {
		c.recent = append(c.recent, recent[i])
	}
	c.mu.Unlock()

	c.metrics.SetLedger(snap.TradeCount, snap.CumulativeNotionalUSD)
	c.logger.InfoContext(ctx, "ledger restored",
		slog.String("date", snap.DateUTC),
		slog.Int("trade_count", snap.TradeCount),
		slog.Float64("notional_usd", snap.CumulativeNotionalUSD),
	)
	return nil
}

// Submit queues opp for execution and waits for its outcome. If ctx ends
// first, Submit returns ctx.Err() while the queued item is still processed.
func (c *Coordinator) Submit(ctx context.Context, opp domain.Opportunity) (domain.ExecutionOutcome, error) {
	t := newTicket(opp, c.now())
	prev, ok := c.queue.push(t)
	if !ok {
		return c.rejected(opp, domain.ReasonShuttingDown, "coordinator is not running"), nil
	}
	if prev != nil {
		prev.resolve(c.rejected(prev.opp, domain.ReasonSuperseded,
			fmt.Sprintf("replaced by opportunity %s", opp.ID)))
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}

	select {
	case out := <-t.done:
		return out, nil
	case <-ctx.Done():
		return domain.ExecutionOutcome{OpportunityID: opp.ID, Symbol: opp.Candidate.Symbol}, ctx.Err()
	}
}

// Run processes queued opportunities one at a time until ctx is cancelled.
// An execution already under way is allowed to finish; anything still queued
// resolves as ShuttingDown.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started")
	defer c.logger.Info("coordinator stopped")
	defer c.drain()

	for {
		for ctx.Err() == nil {
			t, ok := c.queue.pop()
			if !ok {
				break
			}
			c.process(ctx, t)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
	}
}

func (c *Coordinator) drain() {
	left := c.queue.close()
	for _, t := range left {
		t.resolve(c.rejected(t.opp, domain.ReasonShuttingDown, "engine shutting down"))
	}
	if len(left) > 0 {
		c.logger.Warn("drained pending opportunities on shutdown", slog.Int("count", len(left)))
	}
}

// process takes one ticket through Evaluating, Executing and Settling.
func (c *Coordinator) process(ctx context.Context, t *ticket) {
	opp := t.opp
	log := c.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("symbol", opp.Candidate.Symbol),
		slog.String("source", string(opp.Source)),
		slog.String("side", string(sideOf(opp))),
		slog.Duration("queued", c.now().Sub(t.enqueuedAt)),
	)

	c.mu.Lock()
	c.state = domain.StateEvaluating
	reason, detail := c.admitLocked(opp)
	if reason != domain.ReasonNone {
		c.idleLocked()
		c.mu.Unlock()
		log.Info("opportunity not executed",
			slog.String("reason", string(reason)),
			slog.String("detail", detail),
		)
		t.resolve(c.rejected(opp, reason, detail))
		return
	}
	c.state = domain.StateExecuting
	c.mu.Unlock()

	unlock, err := c.acquire(ctx)
	if err != nil {
		c.mu.Lock()
		if !opp.IsSell() {
			c.ledger.Release()
		}
		c.idleLocked()
		c.mu.Unlock()

		reason := domain.ReasonExecutionBusy
		if ctx.Err() != nil {
			reason = domain.ReasonShuttingDown
		}
		log.Warn("execution lock unavailable", slog.String("error", err.Error()))
		t.resolve(c.rejected(opp, reason, err.Error()))
		return
	}
	defer unlock()

	start := time.Now()
	res, execErr := c.execute(ctx, opp)
	elapsed := time.Since(start)

	rec, failures, haltReason := c.settle(opp, res, execErr)
	if execErr == nil && c.positions != nil {
		c.positions.Apply(ctx, opp)
	}

	snap := c.Snapshot()
	c.metrics.RecordTrade(string(rec.Outcome), string(rec.Source), rec.NotionalUSD, elapsed)
	c.metrics.SetHealth(snap.ConsecutiveFailures, snap.Halted)
	c.metrics.SetLedger(snap.Ledger.TradeCount, snap.Ledger.CumulativeNotionalUSD)

	c.persist(ctx, rec)

	out := domain.ExecutionOutcome{
		OpportunityID: opp.ID,
		Symbol:        opp.Candidate.Symbol,
		Record:        &rec,
	}
	if execErr == nil {
		out.Status = domain.ExecStatusExecuted
		log.Info("trade executed",
			slog.String("tx_id", rec.TxID),
			slog.Float64("notional_usd", rec.NotionalUSD),
			slog.Float64("profit_usd", rec.ProfitUSD),
			slog.Duration("elapsed", elapsed),
		)
		c.events.Emit(domain.Event{
			Type:    domain.EventTradeExecuted,
			Title:   "Trade executed",
			Message: c.describeExecuted(rec, opp),
			Payload: rec,
		})
	} else {
		out.Status = domain.ExecStatusFailed
		log.Error("trade failed",
			slog.String("error", execErr.Error()),
			slog.Int("consecutive_failures", failures),
		)
		c.events.Emit(domain.Event{
			Type:    domain.EventTradeFailed,
			Title:   "Trade failed",
			Message: fmt.Sprintf("%s %s of $%.2f failed (%d consecutive): %s", rec.Symbol, rec.Side, rec.NotionalUSD, failures, rec.Error),
			Payload: rec,
		})
	}

	if haltReason != "" {
		log.Error("engine halted", slog.String("reason", haltReason))
		c.events.Emit(domain.Event{
			Type:    domain.EventEngineHalted,
			Title:   "Engine halted",
			Message: haltReason + ". Automation stopped; an admin reset is required.",
		})
		c.mu.Lock()
		hook := c.onHalt
		c.mu.Unlock()
		if hook != nil {
			hook(haltReason)
		}
	}

	t.resolve(out)
}

// admitLocked runs the pre-execution checks in order and reserves a ledger
// slot when they all pass. Sells need an open position instead of a ledger
// slot: the daily caps bound new exposure, not exits. Callers hold c.mu.
func (c *Coordinator) admitLocked(opp domain.Opportunity) (domain.RejectionReason, string) {
	if c.halted {
		return domain.ReasonEngineHalted, c.haltReason
	}
	if opp.Source != domain.SourceManual && c.gate != nil && !c.gate.Enabled() {
		return domain.ReasonAutomationStopped, "automation is stopped"
	}

	now := c.now()
	q := opp.Quote
	if q.Expired(now) {
		return domain.ReasonStaleQuote, fmt.Sprintf("quote expired %s ago", now.Sub(q.ExpiresAt).Round(time.Millisecond))
	}
	if tol := c.cfg.StalenessTolerance; tol > 0 && now.Sub(q.QuotedAt) > tol {
		return domain.ReasonStaleQuote, fmt.Sprintf("quote is %s old, tolerance %s", now.Sub(q.QuotedAt).Round(time.Millisecond), tol)
	}

	if opp.IsSell() {
		if c.positions == nil {
			return domain.ReasonNoPosition, "position tracking is off"
		}
		if _, ok := c.positions.Holding(opp.Candidate.Mint); !ok {
			return domain.ReasonNoPosition, fmt.Sprintf("no open %s position", opp.Candidate.Symbol)
		}
		return domain.ReasonNone, ""
	}

	if !c.ledger.CheckAndReserve(now, opp.NotionalUSD) {
		snap := c.ledger.Snapshot()
		limits := c.ledger.Limits()
		return domain.ReasonDailyLimitExceeded, fmt.Sprintf("%d/%d trades, $%.2f notional today",
			snap.TradeCount, limits.DailyCap, snap.CumulativeNotionalUSD)
	}
	return domain.ReasonNone, ""
}

func (c *Coordinator) acquire(ctx context.Context) (func(), error) {
	if c.locks == nil {
		return func() {}, nil
	}
	unlock, err := c.locks.Acquire(ctx, c.cfg.LockKey, c.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("coordinator: execution lock %s: %w", c.cfg.LockKey, err)
		}
		return nil, fmt.Errorf("coordinator: acquire lock: %w", err)
	}
	return unlock, nil
}

// execute calls the executor on a context detached from ctx so stopping the
// engine never aborts a broadcast half way.
func (c *Coordinator) execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	execCtx := context.WithoutCancel(ctx)
	if c.cfg.ExecuteTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, c.cfg.ExecuteTimeout)
		defer cancel()
	}
	execCtx, span := trace.StartSpan(execCtx, "coordinator.execute", oteltrace.WithAttributes(
		attribute.String("symbol", opp.Candidate.Symbol),
		attribute.String("source", string(opp.Source)),
		attribute.String("side", string(sideOf(opp))),
		attribute.Float64("notional_usd", opp.NotionalUSD),
	))
	defer span.End()

	res, err := c.executor.Execute(execCtx, opp.Quote.Route)
	if err != nil {
		span.RecordError(err)
		return domain.ExecutionResult{}, fmt.Errorf("%w: %w", domain.ErrExecutorFailure, err)
	}
	return res, nil
}

// settle records the outcome and updates the ledger in one critical section.
// It returns the record, the failure count after settling, and a halt reason
// when this failure tripped the threshold.
func (c *Coordinator) settle(opp domain.Opportunity, res domain.ExecutionResult, execErr error) (domain.TradeRecord, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = domain.StateSettling
	rec := domain.TradeRecord{
		ID:          uuid.NewString(),
		Timestamp:   c.now().UTC(),
		Symbol:      opp.Candidate.Symbol,
		Mint:        opp.Candidate.Mint,
		Side:        sideOf(opp),
		NotionalUSD: opp.NotionalUSD,
		Source:      opp.Source,
	}

	var haltReason string
	if execErr == nil {
		rec.Outcome = domain.OutcomeExecuted
		rec.TxID = res.TxID
		rec.ProfitUSD = opp.EstimatedProfitUSD
		if !opp.IsSell() {
			c.ledger.Commit(opp.NotionalUSD)
		}
		c.failures = 0
	} else {
		rec.Outcome = domain.OutcomeFailed
		rec.Error = execErr.Error()
		if !opp.IsSell() {
			c.ledger.Release()
		}
		c.failures++
		if c.cfg.HaltThreshold > 0 && c.failures >= c.cfg.HaltThreshold && !c.halted {
			c.halted = true
			c.haltReason = fmt.Sprintf("%d consecutive executor failures", c.failures)
			haltReason = c.haltReason
		}
	}

	c.recent = append(c.recent, rec)
	if over := len(c.recent) - c.cfg.RecentLimit; over > 0 {
		c.recent = append(c.recent[:0], c.recent[over:]...)
	}
	c.idleLocked()
	return rec, c.failures, haltReason
}

func (c *Coordinator) persist(ctx context.Context, rec domain.TradeRecord) {
	if c.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.store.Append(pctx, rec); err != nil {
		c.logger.Warn("trade record persist failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) idleLocked() {
	if c.halted {
		c.state = domain.StateHalted
		return
	}
	c.state = domain.StateIdle
}

func (c *Coordinator) rejected(opp domain.Opportunity, reason domain.RejectionReason, detail string) domain.ExecutionOutcome {
	c.metrics.RecordRejection(string(reason))
	return domain.ExecutionOutcome{
		OpportunityID: opp.ID,
		Symbol:        opp.Candidate.Symbol,
		Status:        domain.ExecStatusRejected,
		Reason:        reason,
		Detail:        detail,
	}
}

func (c *Coordinator) describeExecuted(rec domain.TradeRecord, opp domain.Opportunity) string {
	var b strings.Builder
	if opp.IsSell() {
		fmt.Fprintf(&b, "Sold %s for $%.2f, P&L $%.4f (%.2f%%)",
			rec.Symbol, rec.NotionalUSD, rec.ProfitUSD, opp.EstimatedProfitPct)
		if opp.Exit != domain.ExitNone {
			fmt.Fprintf(&b, " on %s", opp.Exit)
		}
	} else {
		fmt.Fprintf(&b, "Bought %s for $%.2f, est. profit $%.4f (%.2f%%)",
			rec.Symbol, rec.NotionalUSD, rec.ProfitUSD, opp.EstimatedProfitPct)
	}
	if rec.TxID != "" {
		b.WriteString("\nTx: ")
		b.WriteString(ExplorerLink(c.cfg.ExplorerURL, rec.TxID))
	}
	return b.String()
}

func sideOf(opp domain.Opportunity) domain.TradeSide {
	if opp.IsSell() {
		return domain.SideSell
	}
	return domain.SideBuy
}

// ExplorerLink joins a block explorer base URL and a transaction id. Dry-run
// ids and an empty base return the id unchanged.
func ExplorerLink(base, txID string) string {
	if base == "" || strings.HasPrefix(txID, "dry-") {
		return txID
	}
	return strings.TrimRight(base, "/") + "/" + txID
}

// Reset clears a halt and the failure count. It reports whether the
// coordinator was halted.
func (c *Coordinator) Reset() bool {
	c.mu.Lock()
	was := c.halted
	c.halted = false
	c.haltReason = ""
	c.failures = 0
	c.idleLocked()
	c.mu.Unlock()

	c.metrics.SetHealth(0, false)
	if was {
		c.logger.Info("halt cleared")
	}
	return was
}

// Halted reports whether the coordinator is halted.
func (c *Coordinator) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Snapshot returns the current coordinator state. The ledger view is rolled
// to today without mutating the live ledger.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:               c.state,
		Halted:              c.halted,
		HaltReason:          c.haltReason,
		ConsecutiveFailures: c.failures,
		Ledger:              domain.RollIfNewDay(c.ledger.Snapshot(), c.now()),
		DailyCap:            c.ledger.Limits().DailyCap,
		Pending:             c.queue.size(),
	}
}

// Recent returns up to limit trade records, newest first.
func (c *Coordinator) Recent(limit int) []domain.TradeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.recent) {
		limit = len(c.recent)
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := len(c.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.recent[i])
	}
	return out
}
