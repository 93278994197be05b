package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapbot/internal/automation"
	"github.com/alanyoungcy/swapbot/internal/crypto"
	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/executor"
	"github.com/alanyoungcy/swapbot/internal/ledger"
	"github.com/alanyoungcy/swapbot/internal/notify"
	"github.com/alanyoungcy/swapbot/internal/platform/jupiter"
	"github.com/alanyoungcy/swapbot/internal/platform/solana"
	"github.com/alanyoungcy/swapbot/internal/position"
	"github.com/alanyoungcy/swapbot/internal/server"
	"github.com/alanyoungcy/swapbot/internal/server/handler"
	"github.com/alanyoungcy/swapbot/internal/server/ws"
	"github.com/alanyoungcy/swapbot/internal/service"
)

// EngineMode runs the scan loop, the execution coordinator, event delivery,
// the trade archive and the HTTP server until ctx is cancelled. Monitor mode
// reaches here with dry-run and autostart forced on.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	universe, err := domain.NewUniverse(a.cfg.Candidates)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	quotes, scanner := a.buildScanner(deps)
	exec, err := a.buildExecutor(quotes, deps)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	emitter := domain.NewEmitter(a.cfg.Notify.Buffer)

	l := ledger.New(ledger.Limits{
		DailyCap:       a.cfg.Engine.DailyTradeCap,
		MaxNotionalUSD: a.cfg.Engine.MaxDailyNotionalUSD,
	}, time.Now())
	coord := executor.NewCoordinator(exec, l, executor.Config{
		StalenessTolerance: a.cfg.Engine.StalenessTolerance.Duration,
		HaltThreshold:      a.cfg.Engine.HaltThreshold,
		ExecuteTimeout:     a.cfg.Executor.ExecuteTimeout.Duration,
		LockTTL:            a.cfg.Executor.LockTTL.Duration,
		ExplorerURL:        a.cfg.Executor.ExplorerURL,
	}, a.logger)
	coord.SetStore(deps.TradeStore)
	if deps.LockManager != nil {
		coord.SetLockManager(deps.LockManager)
	}
	coord.SetEmitter(emitter)
	coord.SetMetrics(deps.Metrics)
	if err := coord.Restore(ctx); err != nil {
		return fmt.Errorf("engine: restore ledger: %w", err)
	}

	book := position.NewBook(deps.PositionStore, a.logger)
	if err := book.Load(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	coord.SetPositions(book)
	monitor := service.NewPositionMonitor(quotes, book, service.ExitPolicy{
		StopLossPct:   a.cfg.Engine.StopLossPct,
		TakeProfitPct: a.cfg.Engine.TakeProfitPct,
	}, a.scannerConfig(), a.logger)

	ctrl := automation.NewController(scanner, coord, automation.NewAdminSet(a.cfg.Engine.AdminIDs), universe, automation.Config{
		Interval:    a.cfg.Engine.ScanInterval.Duration,
		StatusEvery: a.cfg.Engine.StatusEveryCycles,
		DryRun:      !a.cfg.LiveTrading(),
		Autostart:   a.cfg.Engine.Autostart,
	}, a.logger)
	ctrl.SetEmitter(emitter)
	ctrl.SetMetrics(deps.Metrics)
	ctrl.SetExits(monitor)
	coord.SetGate(ctrl)
	coord.OnHalt(ctrl.HandleHalt)

	dispatcher := notify.NewDispatcher(emitter, deps.Notifier, a.logger)
	if deps.SignalBus != nil {
		dispatcher.SetBus(deps.SignalBus)
	}
	if deps.AuditStore != nil {
		dispatcher.SetAudit(deps.AuditStore)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(ctx) })
	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return archiveLoop(ctx, deps.Archiver, retention, a.cfg.S3.ArchiveInterval.Duration, a.logger)
		})
	}

	if a.cfg.Server.Enabled {
		hubCfg := ws.Config{Status: ctrl.Status}
		if deps.SignalBus != nil {
			hubCfg.History = deps.SignalBus
		}
		hub := ws.NewHub(hubCfg, a.logger)
		if deps.SignalBus != nil {
			hub.SetBus(deps.SignalBus)
		} else {
			dispatcher.SetBroadcaster(hub)
		}
		g.Go(func() error { return hub.Run(ctx) })
		a.startHTTPServer(ctx, g, deps, ctrl, hub)
	}

	mode := "live"
	if !a.cfg.LiveTrading() {
		mode = "dry-run"
	}
	emitter.Emit(domain.Event{
		Type:  domain.EventStartup,
		Title: "Swap engine started",
		Message: fmt.Sprintf("%s mode (%s), %d candidates, %d trades allowed per day",
			a.cfg.Mode, mode, universe.Len(), a.cfg.Engine.DailyTradeCap),
		Payload: ctrl.Status(),
	})

	return g.Wait()
}

// ScanMode evaluates every candidate once, prints the report as JSON to
// stdout and returns. Nothing is executed or recorded.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	universe, err := domain.NewUniverse(a.cfg.Candidates)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	_, scanner := a.buildScanner(deps)

	report := domain.NewScanReport(scanner.Scan(ctx, universe.All()))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("scan: encode report: %w", err)
	}
	return nil
}

// buildScanner wires the quote and price clients, through the shared rate
// limit and price cache when Redis is available, into a Scanner.
func (a *App) buildScanner(deps *Dependencies) (*jupiter.Client, *service.Scanner) {
	gw := a.cfg.Gateway
	opts := []jupiter.ClientOption{
		jupiter.WithAPIKey(gw.APIKey),
		jupiter.WithMetrics(deps.Metrics),
	}
	if deps.RateLimiter != nil && gw.RateLimit > 0 {
		opts = append(opts, jupiter.WithRateLimit(deps.RateLimiter, "jupiter", gw.RateLimit, gw.RateWindow.Duration))
	}

	quotes := jupiter.NewClient(gw.QuoteURL, gw.QuoteTTL.Duration, opts...)
	priceClient := jupiter.NewPriceClient(gw.PriceURL, opts...)

	var bus domain.SignalBus
	if deps.SignalBus != nil {
		bus = deps.SignalBus
	}
	prices := service.NewPriceService(priceClient, deps.PriceCache, bus, gw.PriceCacheTTL.Duration, a.logger)

	risk := service.NewRiskService(service.RiskPolicy{
		MinProfitPct:        a.cfg.Engine.MinProfitPct,
		MaxTradeNotionalUSD: a.cfg.Engine.MaxTradeNotionalUSD,
		MinLiquidityUSD:     a.cfg.Engine.MinLiquidityUSD,
		MaxPriceImpactPct:   a.cfg.Engine.MaxPriceImpactPct,
		MinRoundTripRatio:   a.cfg.Engine.MinRoundTripRatio,
	}, a.logger)

	scanner := service.NewScanner(quotes, prices, risk, a.scannerConfig(), a.logger)
	return quotes, scanner
}

func (a *App) scannerConfig() service.ScannerConfig {
	return service.ScannerConfig{
		NotionalUSD:    a.cfg.Engine.NotionalUSD,
		QuoteMint:      a.cfg.Engine.QuoteMint,
		QuoteDecimals:  a.cfg.Engine.QuoteDecimals,
		SlippageBps:    a.cfg.Engine.SlippageBps,
		RoundTripCheck: a.cfg.Engine.RoundTripCheck,
		Concurrency:    a.cfg.Engine.ScanConcurrency,
		QuoteTimeout:   a.cfg.Gateway.QuoteTimeout.Duration,
		PriceTimeout:   a.cfg.Gateway.PriceTimeout.Duration,
	}
}

// buildExecutor returns the live Solana executor when trading for real and
// the dry-run executor otherwise.
func (a *App) buildExecutor(builder solana.SwapBuilder, deps *Dependencies) (domain.Executor, error) {
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	}
	hasKey := keyCfg.RawPrivateKey != "" || keyCfg.EncryptedKeyPath != ""

	if !a.cfg.LiveTrading() {
		wallet := ""
		if hasKey {
			if signer, err := loadSigner(keyCfg); err != nil {
				a.logger.Warn("dry run: wallet key unusable, swaps will not be built",
					slog.String("error", err.Error()))
			} else {
				wallet = signer.PublicKey()
			}
		}
		return solana.NewDryRunExecutor(builder, wallet, a.logger), nil
	}

	signer, err := loadSigner(keyCfg)
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}
	rpc := solana.NewRPCClient(a.cfg.Executor.RPCURL,
		solana.WithMaxRetries(a.cfg.Executor.MaxRetries),
		solana.WithRetryDelay(a.cfg.Executor.RetryDelay.Duration),
		solana.WithMetrics(deps.Metrics),
	)
	deps.Health["solana_rpc"] = healthFunc(rpc.GetHealth)

	a.logger.Info("live trading enabled",
		slog.String("wallet", signer.PublicKey()),
		slog.String("rpc", a.cfg.Executor.RPCURL),
	)
	return solana.NewSwapExecutor(builder, signer, rpc, solana.ExecutorConfig{
		ConfirmPoll:    a.cfg.Executor.ConfirmPoll.Duration,
		ConfirmTimeout: a.cfg.Executor.ConfirmTimeout.Duration,
	}, a.logger), nil
}

func loadSigner(cfg crypto.KeyConfig) (*solana.Signer, error) {
	key, err := crypto.LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return solana.NewSigner(key)
}

// startHTTPServer adds the HTTP server and its graceful shutdown to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, ctrl *automation.Controller, hub *ws.Hub) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Engine: handler.NewEngineHandler(ctrl, a.logger),
		Trades: handler.NewTradeHandler(deps.TradeStore, a.logger),
	}
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if a.cfg.Server.RateLimitPerMinute > 0 {
		srvCfg.RateLimit = a.cfg.Server.RateLimitPerMinute
		srvCfg.RateWindow = time.Minute
	}
	srv := server.NewServer(srvCfg, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
