package distribution

import (
	"context"
	"distribution_engine/internal/metrics"
	"distribution_engine/internal/models"
	"distribution_engine/internal/repository"
	"fmt"
	"log/slog"
)

// Broadcast is the on-chain metadata of a submitted batch transaction.
type Broadcast struct {
	BlockNumber      *uint64
	TransactionIndex *uint
	Input            string
}

// Tracker records broadcast and confirmation reports from the chain watcher.
type Tracker struct {
	log *slog.Logger
	cfg Config
}

// RecordBroadcast stores the transaction that carries a signed batch and moves the
// execution to status, normally EXECUTING. A replacement broadcast of an EXECUTING
// batch overwrites the metadata. Redelivering the hash that already finalized a batch
// is accepted without changes.
func (t *Tracker) RecordBroadcast(ctx context.Context, eventID, batchID, txHash string, broadcast Broadcast, status models.BatchStatus) (*models.Execution, error) {
	if err := validateHash(txHash); err != nil {
		return nil, err
	}
	if err := validateHexData("input", broadcast.Input, false); err != nil {
		return nil, err
	}
	if status < models.BatchStatusExecuting || !status.IsValid() {
		return nil, fmt.Errorf("%w: broadcast cannot set status %s", models.ErrInvalidInput, status)
	}

	var result *models.Execution
	changed := false
	err := retryConflicts(ctx, t.cfg.MaxConflictRetries, func() error {
		changed = false
		return t.cfg.Repository.WithTransaction(ctx, func(ctx context.Context, tx repository.DbRepository) error {
			if _, err := activeEvent(ctx, tx, eventID); err != nil {
				return err
			}
			execution, err := tx.FindExecution(ctx, eventID, batchID)
			if err != nil {
				return err
			}
			report := broadcast
			// The same transaction keeps its call input when a report omits it.
			if execution.TxHash == txHash && report.Input == "" {
				report.Input = execution.Input
			}
			switch {
			case execution.Status.IsTerminal():
				if execution.TxHash != txHash {
					return fmt.Errorf("batch %s of event %s already %s by %s: %w", batchID, eventID, execution.Status, execution.TxHash, models.ErrInvalidState)
				}
				result = execution
				return t.promoteEvent(ctx, tx, eventID, true)
			case execution.Status == models.BatchStatusPending:
				return fmt.Errorf("batch %s of event %s is not signed: %w", batchID, eventID, models.ErrInvalidState)
			case execution.Status == models.BatchStatusExecuting && status == models.BatchStatusExecuting &&
				execution.TxHash == txHash && sameBroadcast(execution, report):
				result = execution
				return t.promoteEvent(ctx, tx, eventID, false)
			}

			prior := execution.Status
			execution.TxHash = txHash
			execution.BlockNumber = report.BlockNumber
			execution.TransactionIndex = report.TransactionIndex
			execution.Input = report.Input
			execution.Status = status
			execution.UpdatedAt = t.cfg.Clock.Now().UTC()

			updated, err := tx.UpdateExecution(ctx, *execution, prior)
			if err != nil {
				return fmt.Errorf("failed to update execution: %w", err)
			}
			if !updated {
				return fmt.Errorf("batch %s of event %s: %w", batchID, eventID, models.ErrConcurrencyConflict)
			}
			result = execution
			changed = true
			return t.promoteEvent(ctx, tx, eventID, status.IsTerminal())
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.BatchTransitionsTotal.WithLabelValues(status.String()).Inc()
		t.log.Info("tracker: broadcast recorded", "event", eventID, "batch", batchID, "txHash", txHash, "status", status.String())
	}
	return result, nil
}

// Finalize applies the terminal outcome observed on chain. The same outcome reported
// twice is a no-op; a contradicting one is rejected.
func (t *Tracker) Finalize(ctx context.Context, eventID, batchID string, status models.BatchStatus) (*models.Execution, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: finalize needs COMPLETED or FAILED, got %s", models.ErrInvalidInput, status)
	}

	var result *models.Execution
	changed := false
	err := retryConflicts(ctx, t.cfg.MaxConflictRetries, func() error {
		changed = false
		return t.cfg.Repository.WithTransaction(ctx, func(ctx context.Context, tx repository.DbRepository) error {
			if _, err := activeEvent(ctx, tx, eventID); err != nil {
				return err
			}
			execution, err := tx.FindExecution(ctx, eventID, batchID)
			if err != nil {
				return err
			}
			if execution.Status == status {
				result = execution
				return t.promoteEvent(ctx, tx, eventID, true)
			}
			if execution.Status != models.BatchStatusExecuting {
				return fmt.Errorf("batch %s of event %s is %s: %w", batchID, eventID, execution.Status, models.ErrInvalidState)
			}

			execution.Status = status
			execution.UpdatedAt = t.cfg.Clock.Now().UTC()
			updated, err := tx.UpdateExecution(ctx, *execution, models.BatchStatusExecuting)
			if err != nil {
				return fmt.Errorf("failed to update execution: %w", err)
			}
			if !updated {
				return fmt.Errorf("batch %s of event %s: %w", batchID, eventID, models.ErrConcurrencyConflict)
			}
			result = execution
			changed = true
			return t.promoteEvent(ctx, tx, eventID, true)
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.BatchTransitionsTotal.WithLabelValues(status.String()).Inc()
		t.log.Info("tracker: batch finalized", "event", eventID, "batch", batchID, "txHash", result.TxHash, "status", status.String())
	}
	return result, nil
}

// promoteEvent moves a pending event to executing and, when checkCompletion is set,
// an executing event whose batches are all terminal to completed. Both swaps are
// conditional, so it is safe to repeat on redelivered reports.
func (t *Tracker) promoteEvent(ctx context.Context, tx repository.DbRepository, eventID string, checkCompletion bool) error {
	if _, err := tx.SwapEventStatus(ctx, eventID, models.EventStatusPending, models.EventStatusExecuting); err != nil {
		return fmt.Errorf("failed to mark event %s executing: %w", eventID, err)
	}
	if !checkCompletion {
		return nil
	}
	executions, err := tx.ListExecutions(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to list executions of event %s: %w", eventID, err)
	}
	for _, execution := range executions {
		if !execution.Status.IsTerminal() {
			return nil
		}
	}
	swapped, err := tx.SwapEventStatus(ctx, eventID, models.EventStatusExecuting, models.EventStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark event %s completed: %w", eventID, err)
	}
	if swapped {
		t.log.Info("tracker: event completed", "event", eventID, "batches", len(executions))
	}
	return nil
}

func sameBroadcast(execution *models.Execution, broadcast Broadcast) bool {
	return equalPtr(execution.BlockNumber, broadcast.BlockNumber) &&
		equalPtr(execution.TransactionIndex, broadcast.TransactionIndex) &&
		execution.Input == broadcast.Input
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
