package distribution

import (
	"context"
	"distribution_engine/internal/metrics"
	"distribution_engine/internal/models"
	"distribution_engine/internal/repository"
	"fmt"
	"log/slog"
)

// Signer moves batches from PENDING to SIGNED, consuming one contract nonce each.
type Signer struct {
	log *slog.Logger
	cfg Config
}

// Sign allocates the next nonce of the event's contract and records it with the
// signature. Allocation and the execution write commit together or not at all, so a
// failed Sign never burns a nonce. Re-signing anything past PENDING is rejected with
// ErrInvalidState because it would consume a second nonce for the same batch.
func (s *Signer) Sign(ctx context.Context, eventID, batchID, signature string) (*models.Execution, error) {
	if err := validateHexData("signature", signature, true); err != nil {
		return nil, err
	}

	var signed *models.Execution
	err := retryConflicts(ctx, s.cfg.MaxConflictRetries, func() error {
		return s.cfg.Repository.WithTransaction(ctx, func(ctx context.Context, tx repository.DbRepository) error {
			event, err := activeEvent(ctx, tx, eventID)
			if err != nil {
				return err
			}
			execution, err := tx.FindExecution(ctx, eventID, batchID)
			if err != nil {
				return err
			}
			if execution.Status != models.BatchStatusPending {
				return fmt.Errorf("batch %s of event %s is %s: %w", batchID, eventID, execution.Status, models.ErrInvalidState)
			}

			nonce, err := allocateNonce(ctx, tx, event.Contract)
			if err != nil {
				return err
			}
			execution.Signature = signature
			execution.Nonce = &nonce
			execution.Status = models.BatchStatusSigned
			execution.UpdatedAt = s.cfg.Clock.Now().UTC()

			updated, err := tx.UpdateExecution(ctx, *execution, models.BatchStatusPending)
			if err != nil {
				return fmt.Errorf("failed to update execution: %w", err)
			}
			if !updated {
				return fmt.Errorf("batch %s of event %s: %w", batchID, eventID, models.ErrConcurrencyConflict)
			}
			signed = execution
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.BatchTransitionsTotal.WithLabelValues(models.BatchStatusSigned.String()).Inc()
	s.log.Info("signer: batch signed", "event", eventID, "batch", batchID, "nonce", *signed.Nonce)
	return signed, nil
}
