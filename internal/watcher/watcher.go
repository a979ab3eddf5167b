package watcher

import (
	"context"
	"distribution_engine/internal/distribution"
	"distribution_engine/internal/metrics"
	"distribution_engine/internal/models"
	"distribution_engine/internal/repository"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	Logger   *slog.Logger
	Engine   *distribution.Engine
	Ethereum repository.EthereumRepository

	// ConfirmationBlocks is how far the chain head must be past a receipt's block
	// before its outcome is final.
	ConfirmationBlocks uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Ethereum == nil {
		return errors.New("ethereum repository is required")
	}
	return nil
}

// Watcher reconciles executing batches against on-chain receipts.
type Watcher struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Watcher{log: cfg.Logger, cfg: cfg}, nil
}

// Result counts what one reconciliation run did.
type Result struct {
	Events      int
	Checked     int
	Completed   int
	Failed      int
	Unconfirmed int
	Unmined     int
}

type inflight struct {
	eventID string
	batch   distribution.BatchSummary
}

// Reconcile finalizes every executing batch of the running events whose transaction
// is mined with enough confirmations. A batch that cannot be finalized is logged and
// skipped; the joined errors are returned after the whole run.
func (w *Watcher) Reconcile(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	events, err := w.cfg.Engine.Lifecycle.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list running events: %w", err)
	}
	result := &Result{Events: len(events)}

	var pending []inflight
	for _, event := range events {
		summary, err := w.cfg.Engine.Lifecycle.Describe(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to describe event %s: %w", event.ID, err)
		}
		for _, batch := range summary.Batches {
			if batch.Status == models.BatchStatusExecuting && batch.TxHash != "" {
				pending = append(pending, inflight{eventID: event.ID, batch: batch})
			}
		}
	}
	if len(pending) == 0 {
		w.log.Debug("watcher: nothing in flight", "events", len(events))
		return result, nil
	}

	hashes := make([]string, 0, len(pending))
	for _, p := range pending {
		hashes = append(hashes, p.batch.TxHash)
	}
	receipts, err := w.cfg.Ethereum.FetchReceipts(ctx, hashes)
	if err != nil {
		metrics.ReconcileErrorsTotal.Inc()
		return nil, fmt.Errorf("failed to fetch receipts: %w", err)
	}
	head, err := w.cfg.Ethereum.GetLatestBlock(ctx)
	if err != nil {
		metrics.ReconcileErrorsTotal.Inc()
		return nil, err
	}

	var errs []error
	for _, p := range pending {
		result.Checked++
		receipt, ok := receipts[p.batch.TxHash]
		if !ok {
			result.Unmined++
			continue
		}
		if err := w.reconcileBatch(ctx, p, receipt, head, result); err != nil {
			metrics.ReconcileErrorsTotal.Inc()
			w.log.Error("watcher: failed to reconcile batch", "event", p.eventID, "batch", p.batch.BatchID, "txHash", p.batch.TxHash, "error", err)
			errs = append(errs, err)
		}
	}

	w.log.Info("watcher: reconciliation finished",
		"events", result.Events,
		"checked", result.Checked,
		"completed", result.Completed,
		"failed", result.Failed,
		"unconfirmed", result.Unconfirmed,
		"unmined", result.Unmined,
		"duration", time.Since(start).String(),
	)
	return result, errors.Join(errs...)
}

func (w *Watcher) reconcileBatch(ctx context.Context, p inflight, receipt *repository.Receipt, head uint64, result *Result) error {
	// Keep the stored position in step with the receipt; it moves after a reorg.
	if p.batch.BlockNumber == nil || *p.batch.BlockNumber != receipt.BlockNumber {
		blockNumber := receipt.BlockNumber
		transactionIndex := receipt.TransactionIndex
		broadcast := distribution.Broadcast{BlockNumber: &blockNumber, TransactionIndex: &transactionIndex}
		if _, err := w.cfg.Engine.Tracker.RecordBroadcast(ctx, p.eventID, p.batch.BatchID, p.batch.TxHash, broadcast, models.BatchStatusExecuting); err != nil {
			return fmt.Errorf("failed to record block of batch %s: %w", p.batch.BatchID, err)
		}
	}

	if head < receipt.BlockNumber || head-receipt.BlockNumber < w.cfg.ConfirmationBlocks {
		result.Unconfirmed++
		return nil
	}

	status := models.BatchStatusCompleted
	if !receipt.Succeeded {
		status = models.BatchStatusFailed
	}
	if _, err := w.cfg.Engine.Tracker.Finalize(ctx, p.eventID, p.batch.BatchID, status); err != nil {
		return err
	}
	if status == models.BatchStatusCompleted {
		result.Completed++
	} else {
		result.Failed++
	}
	w.log.Info("watcher: batch finalized", "event", p.eventID, "batch", p.batch.BatchID, "status", status.String(), "block", receipt.BlockNumber, "feeEther", receipt.FeeEther)
	return nil
}
