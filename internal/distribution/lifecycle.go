package distribution

import (
	"context"
	"distribution_engine/internal/models"
	"distribution_engine/internal/repository"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// BatchSummary is one batch of an event together with that event's execution state.
type BatchSummary struct {
	BatchID      string
	AddressCount int
	BatchValue   string
	Status       models.BatchStatus
	Signature    string
	Nonce        *uint64
	TxHash       string
	BlockNumber  *uint64
}

type EventSummary struct {
	Event              models.Event
	AddressCount       int
	TotalValue         string
	Signed             int
	TransfersCompleted int
	Batches            []BatchSummary
}

// Lifecycle creates, clones, deletes and reports on distribution events.
type Lifecycle struct {
	log      *slog.Logger
	cfg      Config
	registry *Registry
	files    *Files
}

func (l *Lifecycle) Create(ctx context.Context, contractAddress, initiatedBy, fileID string) (*models.Event, error) {
	contract, err := l.registry.Get(ctx, contractAddress)
	if err != nil {
		return nil, err
	}
	if fileID != "" {
		if _, err := l.files.Get(ctx, fileID); err != nil {
			return nil, err
		}
	}
	event := l.newEvent(contract.Address, initiatedBy, fileID)
	if err := l.cfg.Repository.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	l.log.Info("lifecycle: event created", "event", event.ID, "contract", event.Contract, "file", fileID)
	return &event, nil
}

func (l *Lifecycle) Get(ctx context.Context, eventID string) (*models.Event, error) {
	return activeEvent(ctx, l.cfg.Repository, eventID)
}

// Clone starts a new run over the source event's batches. Batch content is shared;
// each batch gets a fresh PENDING execution under the new event.
func (l *Lifecycle) Clone(ctx context.Context, userID, sourceEventID string) (*models.Event, error) {
	var clone models.Event
	err := l.cfg.Repository.WithTransaction(ctx, func(ctx context.Context, tx repository.DbRepository) error {
		source, err := activeEvent(ctx, tx, sourceEventID)
		if err != nil {
			return err
		}
		executions, err := tx.ListExecutions(ctx, source.ID)
		if err != nil {
			return fmt.Errorf("failed to list executions of event %s: %w", source.ID, err)
		}
		if len(executions) == 0 {
			return fmt.Errorf("event %s: %w", source.ID, models.ErrNoBatches)
		}
		if _, err := activeContract(ctx, tx, source.Contract); err != nil {
			return err
		}

		clone = l.newEvent(source.Contract, userID, source.FileID)
		if err := tx.InsertEvent(ctx, clone); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		now := l.cfg.Clock.Now().UTC()
		fresh := make([]models.Execution, 0, len(executions))
		for _, execution := range executions {
			fresh = append(fresh, *models.NewExecution(clone.ID, execution.BatchID, now))
		}
		if err := tx.InsertExecutions(ctx, fresh); err != nil {
			return fmt.Errorf("failed to insert executions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("lifecycle: event cloned", "source", sourceEventID, "event", clone.ID, "by", userID)
	return &clone, nil
}

func (l *Lifecycle) SetStatus(ctx context.Context, eventID, status string) error {
	if strings.TrimSpace(status) == "" {
		return fmt.Errorf("%w: empty event status", models.ErrInvalidInput)
	}
	if err := l.cfg.Repository.SetEventStatus(ctx, eventID, status); err != nil {
		return err
	}
	l.log.Info("lifecycle: event status set", "event", eventID, "status", status)
	return nil
}

// SoftDelete only applies to pending events; runs in flight or finished stay visible.
func (l *Lifecycle) SoftDelete(ctx context.Context, eventID string) error {
	deleted, err := l.cfg.Repository.SoftDeleteEvent(ctx, eventID, models.EventStatusPending)
	if err != nil {
		return err
	}
	if deleted {
		l.log.Info("lifecycle: event deleted", "event", eventID)
		return nil
	}
	event, err := activeEvent(ctx, l.cfg.Repository, eventID)
	if err != nil {
		return err
	}
	return fmt.Errorf("event %s has status %q: %w", eventID, event.Status, models.ErrInvalidState)
}

func (l *Lifecycle) Describe(ctx context.Context, eventID string) (*EventSummary, error) {
	event, err := activeEvent(ctx, l.cfg.Repository, eventID)
	if err != nil {
		return nil, err
	}
	executions, err := l.cfg.Repository.ListExecutions(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of event %s: %w", eventID, err)
	}
	batches, err := l.cfg.Repository.FindBatches(ctx, repository.BatchFilter{IDs: batchIDs(executions)})
	if err != nil {
		return nil, fmt.Errorf("failed to find batches of event %s: %w", eventID, err)
	}
	byID := make(map[string]models.Batch, len(batches))
	for _, batch := range batches {
		byID[batch.ID] = batch
	}

	summary := &EventSummary{Event: *event, Batches: make([]BatchSummary, 0, len(executions))}
	total := new(big.Int)
	for _, execution := range executions {
		batch := byID[execution.BatchID]
		if value, ok := new(big.Int).SetString(batch.BatchValue, 10); ok {
			total.Add(total, value)
		}
		summary.AddressCount += len(batch.Addresses)
		if execution.Signature != "" {
			summary.Signed++
		}
		if execution.Status == models.BatchStatusCompleted {
			summary.TransfersCompleted++
		}
		summary.Batches = append(summary.Batches, BatchSummary{
			BatchID:      execution.BatchID,
			AddressCount: len(batch.Addresses),
			BatchValue:   batch.BatchValue,
			Status:       execution.Status,
			Signature:    execution.Signature,
			Nonce:        execution.Nonce,
			TxHash:       execution.TxHash,
			BlockNumber:  execution.BlockNumber,
		})
	}
	summary.TotalValue = total.String()
	return summary, nil
}

// ListRunning returns the executing events a restarted process has to resume.
func (l *Lifecycle) ListRunning(ctx context.Context) ([]models.Event, error) {
	return l.cfg.Repository.ListEventsByStatus(ctx, models.EventStatusExecuting)
}

func (l *Lifecycle) newEvent(contract, initiatedBy, fileID string) models.Event {
	return models.Event{
		ID:          uuid.NewString(),
		Contract:    contract,
		InitiatedBy: initiatedBy,
		Timestamp:   l.cfg.Clock.Now().UTC(),
		Status:      models.EventStatusPending,
		State:       models.LifecycleActive,
		FileID:      fileID,
	}
}
