package services

import (
	"context"
	"distribution_engine/internal/distribution"
	"distribution_engine/internal/watcher"
	"fmt"
	"log/slog"
)

// ResumeRunning reports the events a previous process left executing. Their batches
// are picked up by the next reconciliation.
func ResumeRunning(ctx context.Context, log *slog.Logger, engine *distribution.Engine) (int, error) {
	events, err := engine.Lifecycle.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running events: %w", err)
	}
	for _, event := range events {
		summary, err := engine.Lifecycle.Describe(ctx, event.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to describe event %s: %w", event.ID, err)
		}
		log.Info("Resuming event",
			"event", event.ID,
			"contract", event.Contract,
			"batches", len(summary.Batches),
			"signed", summary.Signed,
			"completed", summary.TransfersCompleted,
		)
	}
	return len(events), nil
}

// SyncConfirmations runs one reconciliation pass of the chain watcher.
func SyncConfirmations(ctx context.Context, log *slog.Logger, w *watcher.Watcher) error {
	log.Info("Syncing confirmations...")
	result, err := w.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile confirmations: %w", err)
	}
	if result.Checked == 0 {
		log.Info("Skipping sync (no batches in flight)")
	}
	return nil
}
