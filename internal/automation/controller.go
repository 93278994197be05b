// Package automation owns the scan loop run flag and is the only entry point
// front ends use to drive the engine.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/executor"
	"github.com/alanyoungcy/swapbot/internal/observability"
	"github.com/alanyoungcy/swapbot/internal/trace"
)

// Scanner quotes and evaluates candidates.
type Scanner interface {
	Scan(ctx context.Context, candidates []domain.Candidate) []domain.Evaluation
	ScanOne(ctx context.Context, c domain.Candidate) domain.Evaluation
}

// Coordinator is the execution side the controller feeds.
type Coordinator interface {
	Submit(ctx context.Context, opp domain.Opportunity) (domain.ExecutionOutcome, error)
	Snapshot() executor.Snapshot
	Reset() bool
}

// Exits watches open positions and prices their sale.
type Exits interface {
	Check(ctx context.Context) []domain.Evaluation
	Exit(ctx context.Context, symbol string) domain.Evaluation
	Positions() []domain.Position
}

// Config tunes the scan loop.
type Config struct {
	Interval    time.Duration
	StatusEvery int
	DryRun      bool
	Autostart   bool
}

// CycleSummary is the report emitted at the end of every automated cycle.
type CycleSummary struct {
	Cycle    int                            `json:"cycle"`
	Scan     domain.ScanReport              `json:"scan"`
	Exits    int                            `json:"exits"`
	Executed int                            `json:"executed"`
	Failed   int                            `json:"failed"`
	Skipped  map[domain.RejectionReason]int `json:"skipped"`
	Duration time.Duration                  `json:"duration"`
}

// Controller toggles automated trading and routes operator commands to the
// scanner and coordinator.
type Controller struct {
	scanner  Scanner
	coord    Coordinator
	exits    Exits
	auth     Authorizer
	universe *domain.Universe
	cfg      Config
	logger   *slog.Logger

	events  *domain.Emitter
	metrics *observability.Metrics

	enabled atomic.Bool

	mu         sync.Mutex
	root       context.Context
	gen        uint64
	cancel     context.CancelFunc
	loopDone   chan struct{}
	lastScanAt *time.Time
	cycles     int
}

// NewController creates a Controller. Call Run to bind it to the process
// lifetime.
func NewController(
	scanner Scanner,
	coord Coordinator,
	auth Authorizer,
	universe *domain.Universe,
	cfg Config,
	logger *slog.Logger,
) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Controller{
		scanner:  scanner,
		coord:    coord,
		auth:     auth,
		universe: universe,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "automation")),
		root:     context.Background(),
	}
}

// SetEmitter sets the outbound event channel.
func (c *Controller) SetEmitter(e *domain.Emitter) { c.events = e }

// SetExits enables position exits in every cycle and the position
// operations.
func (c *Controller) SetExits(e Exits) { c.exits = e }

// SetMetrics sets the metrics sink.
func (c *Controller) SetMetrics(m *observability.Metrics) { c.metrics = m }

// Enabled reports whether automation is on. It is lock-free so the
// coordinator can consult it from inside its own critical section.
func (c *Controller) Enabled() bool {
	return c.enabled.Load()
}

// Run binds the scan loop to ctx, starts it when autostart is set, and blocks
// until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.root = ctx
	c.mu.Unlock()

	if c.cfg.Autostart {
		if _, err := c.start(ctx); err != nil {
			c.logger.Warn("autostart skipped", slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	c.halt("")
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

// Start turns automation on. It is idempotent: a running loop is left alone.
func (c *Controller) Start(ctx context.Context, requesterID string) (domain.Status, error) {
	if !c.auth.IsAdmin(requesterID) {
		return domain.Status{}, fmt.Errorf("automation: start: %w", domain.ErrUnauthorized)
	}
	return c.start(ctx)
}

// start reads the halt flag under c.mu. A halt that lands afterwards reaches
// HandleHalt, which also takes c.mu, so it always sees the new loop.
func (c *Controller) start(ctx context.Context) (domain.Status, error) {
	c.mu.Lock()
	if snap := c.coord.Snapshot(); snap.Halted {
		c.mu.Unlock()
		return c.Status(), fmt.Errorf("automation: start: %w: %s", domain.ErrEngineHalted, snap.HaltReason)
	}
	if c.enabled.Load() {
		c.mu.Unlock()
		return c.Status(), nil
	}
	c.gen++
	gen := c.gen
	loopCtx, cancel := context.WithCancel(c.root)
	done := make(chan struct{})
	c.cancel = cancel
	c.loopDone = done
	c.enabled.Store(true)
	c.mu.Unlock()

	go c.loop(loopCtx, gen, done)

	c.logger.InfoContext(ctx, "automation started", slog.Duration("interval", c.cfg.Interval))
	c.events.Emit(domain.Event{
		Type:    domain.EventAutomationStarted,
		Title:   "Automation started",
		Message: fmt.Sprintf("Scanning %d candidates every %s", c.universe.Len(), c.cfg.Interval),
	})
	return c.Status(), nil
}

// Stop turns automation off and waits for the scan loop to exit. An
// execution already under way finishes on its own.
func (c *Controller) Stop(ctx context.Context, requesterID string) (domain.Status, error) {
	if !c.auth.IsAdmin(requesterID) {
		return domain.Status{}, fmt.Errorf("automation: stop: %w", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	wasEnabled := c.enabled.Load()
	done := c.loopDone
	c.mu.Unlock()

	c.halt("")
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.Status(), ctx.Err()
		}
	}

	if wasEnabled {
		c.logger.InfoContext(ctx, "automation stopped")
		c.events.Emit(domain.Event{
			Type:    domain.EventAutomationStopped,
			Title:   "Automation stopped",
			Message: "Automated scanning is off",
		})
	}
	return c.Status(), nil
}

// HandleHalt is the coordinator's halt hook. It clears the run flag without
// waiting for the loop, which may itself be waiting on the coordinator.
func (c *Controller) HandleHalt(reason string) {
	c.halt(reason)
}

func (c *Controller) halt(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled.Load() && c.cancel == nil {
		return
	}
	c.enabled.Store(false)
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if reason != "" {
		c.logger.Warn("automation disabled by halt", slog.String("reason", reason))
	}
}

// Reset clears a coordinator halt. It does not restart automation.
func (c *Controller) Reset(ctx context.Context, requesterID string) (domain.Status, error) {
	if !c.auth.IsAdmin(requesterID) {
		return domain.Status{}, fmt.Errorf("automation: reset: %w", domain.ErrUnauthorized)
	}
	if c.coord.Reset() {
		c.logger.InfoContext(ctx, "halt cleared", slog.String("requester", requesterID))
		c.events.Emit(domain.Event{
			Type:    domain.EventHaltCleared,
			Title:   "Halt cleared",
			Message: "Engine halt cleared by admin; automation remains stopped",
		})
	}
	return c.Status(), nil
}

// Status reports automation and ledger state.
func (c *Controller) Status() domain.Status {
	snap := c.coord.Snapshot()

	c.mu.Lock()
	var last *time.Time
	if c.lastScanAt != nil {
		t := *c.lastScanAt
		last = &t
	}
	c.mu.Unlock()

	return domain.Status{
		AutomationState: domain.AutomationState{
			Enabled:             c.enabled.Load(),
			LastScanAt:          last,
			ConsecutiveFailures: snap.ConsecutiveFailures,
			Halted:              snap.Halted,
			HaltReason:          snap.HaltReason,
		},
		TradeCountToday:       snap.Ledger.TradeCount,
		DailyCap:              snap.DailyCap,
		CumulativeNotionalUSD: snap.Ledger.CumulativeNotionalUSD,
		CoordinatorState:      snap.State,
		DryRun:                c.cfg.DryRun,
		OpenPositions:         c.openPositions(),
	}
}

func (c *Controller) openPositions() int {
	if c.exits == nil {
		return 0
	}
	return len(c.exits.Positions())
}

// Positions lists the open positions.
func (c *Controller) Positions() []domain.Position {
	if c.exits == nil {
		return nil
	}
	return c.exits.Positions()
}

// ClosePosition sells the whole position held in symbol through the
// coordinator. It does not depend on automation being on.
func (c *Controller) ClosePosition(ctx context.Context, requesterID, symbol string) (domain.ExecutionOutcome, error) {
	if !c.auth.IsAdmin(requesterID) {
		return domain.ExecutionOutcome{}, fmt.Errorf("automation: close position: %w", domain.ErrUnauthorized)
	}
	if c.exits == nil {
		return domain.ExecutionOutcome{}, fmt.Errorf("automation: close position: position tracking is off: %w", domain.ErrNotFound)
	}

	ev := c.exits.Exit(ctx, symbol)
	if !ev.Accepted || ev.Opportunity == nil {
		if ev.Reason == domain.ReasonNoPosition {
			return domain.ExecutionOutcome{}, fmt.Errorf("automation: close position: %s: %w", ev.Detail, domain.ErrNotFound)
		}
		return domain.ExecutionOutcome{
			Symbol: ev.Candidate.Symbol,
			Status: domain.ExecStatusRejected,
			Reason: ev.Reason,
			Detail: ev.Detail,
		}, nil
	}

	c.logger.InfoContext(ctx, "position close submitted",
		slog.String("requester", requesterID),
		slog.String("symbol", ev.Candidate.Symbol),
		slog.Float64("pnl_pct", ev.Opportunity.EstimatedProfitPct),
	)
	return c.coord.Submit(ctx, *ev.Opportunity)
}

// OneShotScan evaluates every candidate without executing anything.
func (c *Controller) OneShotScan(ctx context.Context) domain.ScanReport {
	start := time.Now()
	report := domain.NewScanReport(c.scanner.Scan(ctx, c.universe.All()))
	c.metrics.RecordScan("oneshot", time.Since(start), reasonCounts(report.Rejected), report.Accepted)
	c.events.Emit(domain.Event{
		Type:    domain.EventScanCompleted,
		Title:   "Scan completed",
		Message: describeReport(report),
		Payload: report,
	})
	return report
}

// ManualTrade scans one candidate and, if the risk policy accepts it, runs it
// through the coordinator with the same ledger and serialization as
// automated trades.
func (c *Controller) ManualTrade(ctx context.Context, requesterID, symbol string) (domain.ExecutionOutcome, error) {
	if !c.auth.IsAdmin(requesterID) {
		return domain.ExecutionOutcome{}, fmt.Errorf("automation: manual trade: %w", domain.ErrUnauthorized)
	}
	cand, err := c.universe.Lookup(symbol)
	if err != nil {
		return domain.ExecutionOutcome{}, fmt.Errorf("automation: manual trade: %w", err)
	}

	ev := c.scanner.ScanOne(ctx, cand)
	if !ev.Accepted || ev.Opportunity == nil {
		out := domain.ExecutionOutcome{
			Symbol: cand.Symbol,
			Status: domain.ExecStatusRejected,
			Reason: ev.Reason,
			Detail: ev.Detail,
		}
		if ev.Opportunity != nil {
			out.OpportunityID = ev.Opportunity.ID
		}
		return out, nil
	}

	opp := *ev.Opportunity
	opp.Source = domain.SourceManual
	c.logger.InfoContext(ctx, "manual trade submitted",
		slog.String("requester", requesterID),
		slog.String("symbol", cand.Symbol),
		slog.Float64("profit_pct", opp.EstimatedProfitPct),
	)
	return c.coord.Submit(ctx, opp)
}

// Dispatch maps a typed command onto the controller's operations.
func (c *Controller) Dispatch(ctx context.Context, cmd domain.Command) (domain.Reply, error) {
	reply := domain.Reply{Op: cmd.Op}
	switch cmd.Op {
	case domain.OpOneShotScan:
		r := c.OneShotScan(ctx)
		reply.Scan = &r
		return reply, nil
	case domain.OpStartAutomation:
		st, err := c.Start(ctx, cmd.RequesterID)
		reply.Status = &st
		return reply, err
	case domain.OpStopAutomation:
		st, err := c.Stop(ctx, cmd.RequesterID)
		reply.Status = &st
		return reply, err
	case domain.OpResetHalt:
		st, err := c.Reset(ctx, cmd.RequesterID)
		reply.Status = &st
		return reply, err
	case domain.OpStatus:
		st := c.Status()
		reply.Status = &st
		return reply, nil
	case domain.OpManualTrade:
		out, err := c.ManualTrade(ctx, cmd.RequesterID, cmd.Symbol)
		if err != nil {
			return reply, err
		}
		reply.Outcome = &out
		return reply, nil
	case domain.OpListPositions:
		reply.Positions = c.Positions()
		return reply, nil
	case domain.OpClosePosition:
		out, err := c.ClosePosition(ctx, cmd.RequesterID, cmd.Symbol)
		if err != nil {
			return reply, err
		}
		reply.Outcome = &out
		return reply, nil
	default:
		return reply, fmt.Errorf("automation: unknown operation %q", cmd.Op)
	}
}

func (c *Controller) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		if !c.cycle(ctx, gen) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled.Load() && c.gen == gen
}

// cycle runs one scan and submits its accepted opportunities. It returns
// false when the loop should exit.
func (c *Controller) cycle(ctx context.Context, gen uint64) bool {
	if ctx.Err() != nil || !c.current(gen) {
		return false
	}

	start := time.Now()
	ctx, span := trace.StartSpan(ctx, "automation.cycle")
	defer span.End()

	evals := c.scanner.Scan(ctx, c.universe.All())
	report := domain.NewScanReport(evals)

	now := time.Now().UTC()
	c.mu.Lock()
	c.lastScanAt = &now
	c.cycles++
	cycleNo := c.cycles
	c.mu.Unlock()

	summary := CycleSummary{
		Cycle:   cycleNo,
		Scan:    report,
		Skipped: make(map[domain.RejectionReason]int),
	}

	var accepted []domain.Opportunity
	for _, e := range evals {
		if e.Accepted && e.Opportunity != nil {
			accepted = append(accepted, *e.Opportunity)
		}
	}
	if c.exits != nil {
		for _, e := range c.exits.Check(ctx) {
			if e.Accepted && e.Opportunity != nil {
				accepted = append(accepted, *e.Opportunity)
				summary.Exits++
			}
		}
	}

	if len(accepted) > 0 && c.current(gen) {
		outcomes := make([]domain.ExecutionOutcome, len(accepted))
		var wg sync.WaitGroup
		for i, opp := range accepted {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := c.coord.Submit(ctx, opp)
				if err != nil {
					out.Status = domain.ExecStatusRejected
					out.Reason = domain.ReasonShuttingDown
					if !errors.Is(err, context.Canceled) {
						c.logger.Warn("submit failed", slog.String("symbol", opp.Candidate.Symbol), slog.String("error", err.Error()))
					}
				}
				outcomes[i] = out
			}()
		}
		wg.Wait()

		for _, out := range outcomes {
			switch out.Status {
			case domain.ExecStatusExecuted:
				summary.Executed++
			case domain.ExecStatusFailed:
				summary.Failed++
			default:
				summary.Skipped[out.Reason]++
			}
		}
	}
	summary.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("cycle", cycleNo),
		attribute.Int("accepted", report.Accepted),
		attribute.Int("executed", summary.Executed),
	)
	span.AddEvent("cycle summarised", oteltrace.WithAttributes(attribute.Int("failed", summary.Failed)))

	c.metrics.RecordScan("auto", summary.Duration, reasonCounts(report.Rejected), report.Accepted)
	c.logger.Info("scan cycle completed",
		slog.Int("cycle", cycleNo),
		slog.Int("candidates", len(evals)),
		slog.Int("accepted", report.Accepted),
		slog.Int("exits", summary.Exits),
		slog.Int("executed", summary.Executed),
		slog.Int("failed", summary.Failed),
		slog.Duration("elapsed", summary.Duration),
	)
	c.events.Emit(domain.Event{
		Type:    domain.EventScanCompleted,
		Title:   fmt.Sprintf("Scan #%d", cycleNo),
		Message: describeSummary(summary),
		Payload: summary,
	})

	if c.cfg.StatusEvery > 0 && cycleNo%c.cfg.StatusEvery == 0 {
		st := c.Status()
		c.events.Emit(domain.Event{
			Type:    domain.EventStatus,
			Title:   "Status",
			Message: describeStatus(st),
			Payload: st,
		})
	}
	return true
}

func reasonCounts(m map[domain.RejectionReason]int) map[string]int {
	out := make(map[string]int, len(m))
	for r, n := range m {
		out[string(r)] = n
	}
	return out
}

func describeReasons(m map[domain.RejectionReason]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for r := range m {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[domain.RejectionReason(k)]))
	}
	return strings.Join(parts, ", ")
}

func describeReport(r domain.ScanReport) string {
	return fmt.Sprintf("%d candidates, %d accepted; rejected: %s",
		len(r.Evaluations), r.Accepted, describeReasons(r.Rejected))
}

func describeSummary(s CycleSummary) string {
	msg := describeReport(s.Scan)
	if s.Exits > 0 {
		msg += fmt.Sprintf("; %d position exits", s.Exits)
	}
	msg += fmt.Sprintf("; executed %d, failed %d", s.Executed, s.Failed)
	if len(s.Skipped) > 0 {
		msg += "; skipped: " + describeReasons(s.Skipped)
	}
	return msg
}

func describeStatus(st domain.Status) string {
	state := "stopped"
	if st.Enabled {
		state = "running"
	}
	if st.Halted {
		state = "halted"
	}
	mode := "live"
	if st.DryRun {
		mode = "dry-run"
	}
	return fmt.Sprintf("Automation %s (%s), trades today %d/%d, notional $%.2f, open positions %d",
		state, mode, st.TradeCountToday, st.DailyCap, st.CumulativeNotionalUSD, st.OpenPositions)
}
