package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/platform/jupiter"
)

// SwapBuilder turns a quoted route into an unsigned transaction paid for by
// the given wallet. *jupiter.Client implements it.
type SwapBuilder interface {
	BuildSwap(ctx context.Context, route domain.Route, userPublicKey string) (jupiter.SwapTransaction, error)
}

// ExecutorConfig tunes confirmation polling. A zero ConfirmPoll skips
// confirmation and returns as soon as the node accepts the transaction.
type ExecutorConfig struct {
	ConfirmPoll    time.Duration
	ConfirmTimeout time.Duration
}

// SwapExecutor builds, signs and broadcasts swaps. It implements
// domain.Executor.
type SwapExecutor struct {
	builder SwapBuilder
	signer  *Signer
	rpc     *RPCClient
	cfg     ExecutorConfig
	logger  *slog.Logger
}

// NewSwapExecutor creates a live executor.
func NewSwapExecutor(builder SwapBuilder, signer *Signer, rpc *RPCClient, cfg ExecutorConfig, logger *slog.Logger) *SwapExecutor {
	return &SwapExecutor{
		builder: builder,
		signer:  signer,
		rpc:     rpc,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "solana_executor")),
	}
}

// Execute performs exactly one broadcast attempt for route. Any error after
// the broadcast means the outcome on chain is unknown or failed; the caller
// counts it as a failure.
func (e *SwapExecutor) Execute(ctx context.Context, route domain.Route) (domain.ExecutionResult, error) {
	built, err := e.builder.BuildSwap(ctx, route, e.signer.PublicKey())
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("solana: execute: %w", err)
	}

	signed, localSig, err := e.signer.SignTransaction(built.Tx)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("solana: execute: %w", err)
	}

	sig, err := e.rpc.SendTransaction(ctx, signed)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("solana: execute: %w", err)
	}
	if sig != localSig {
		e.logger.Warn("node returned unexpected signature",
			slog.String("local", localSig),
			slog.String("remote", sig),
		)
	}
	e.logger.Info("transaction sent",
		slog.String("signature", sig),
		slog.Uint64("last_valid_block_height", built.LastValidBlockHeight),
	)

	if e.cfg.ConfirmPoll <= 0 {
		return domain.ExecutionResult{TxID: sig}, nil
	}
	if err := e.confirm(ctx, sig); err != nil {
		return domain.ExecutionResult{TxID: sig}, fmt.Errorf("solana: execute %s: %w", sig, err)
	}
	return domain.ExecutionResult{TxID: sig}, nil
}

// confirm polls the signature status until it reaches confirmed commitment,
// fails on chain, or the timeout elapses.
func (e *SwapExecutor) confirm(ctx context.Context, sig string) error {
	if e.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(e.cfg.ConfirmPoll)
	defer ticker.Stop()

	for {
		statuses, err := e.rpc.GetSignatureStatuses(ctx, []string{sig})
		if err != nil {
			e.logger.Warn("signature status poll failed",
				slog.String("signature", sig),
				slog.String("error", err.Error()),
			)
		} else if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Failed() {
				return fmt.Errorf("transaction failed on chain: %s", string(st.Err))
			}
			if st.Confirmed() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("not confirmed: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// DryRunExecutor never broadcasts. With a builder and wallet configured it
// still asks the router to build the transaction, so routing failures show up
// in dry runs too.
type DryRunExecutor struct {
	builder SwapBuilder
	wallet  string
	logger  *slog.Logger
}

// NewDryRunExecutor creates a dry-run executor. builder may be nil.
func NewDryRunExecutor(builder SwapBuilder, wallet string, logger *slog.Logger) *DryRunExecutor {
	return &DryRunExecutor{
		builder: builder,
		wallet:  wallet,
		logger:  logger.With(slog.String("component", "dry_run_executor")),
	}
}

// DryRunPrefix marks synthetic transaction ids.
const DryRunPrefix = "dry-"

// Execute returns a synthetic transaction id.
func (d *DryRunExecutor) Execute(ctx context.Context, route domain.Route) (domain.ExecutionResult, error) {
	if d.builder != nil && d.wallet != "" {
		if _, err := d.builder.BuildSwap(ctx, route, d.wallet); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("solana: dry run: %w", err)
		}
	}
	id := DryRunPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	d.logger.Info("dry run: swap not broadcast",
		slog.String("tx_id", id),
		slog.String("venues", strings.Join(route.Venues, ",")),
	)
	return domain.ExecutionResult{TxID: id}, nil
}

// Compile-time interface checks.
var (
	_ domain.Executor = (*SwapExecutor)(nil)
	_ domain.Executor = (*DryRunExecutor)(nil)
	_ SwapBuilder     = (*jupiter.Client)(nil)
)
