package distribution

import (
	"context"
	"distribution_engine/internal/metrics"
	"distribution_engine/internal/models"
	"distribution_engine/internal/repository"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"github.com/google/uuid"
)

// Recipient is one (address, amount) pair produced by the recipient aggregator.
type Recipient struct {
	Address string
	Amount  *big.Int
}

// Planner turns recipient lists into batches attached to an event.
type Planner struct {
	log *slog.Logger
	cfg Config
}

// CreateBatch stores new batch content and its PENDING execution under the event.
// It never deduplicates; callers that retry planning use MatchByAddresses first.
// Addresses are stored in checksummed form. An empty batchValue is filled with the
// sum of balances.
func (p *Planner) CreateBatch(ctx context.Context, eventID string, addresses, balances []string, batchValue string) (*models.Batch, error) {
	normalized, sum, err := validateBatch(addresses, balances)
	if err != nil {
		return nil, err
	}
	if batchValue == "" {
		batchValue = sum.String()
	} else if _, err := parseAmount(batchValue); err != nil {
		return nil, err
	}

	batch := models.Batch{
		ID:         uuid.NewString(),
		Addresses:  normalized,
		Balances:   slices.Clone(balances),
		BatchValue: batchValue,
	}
	err = p.cfg.Repository.WithTransaction(ctx, func(ctx context.Context, tx repository.DbRepository) error {
		if _, err := activeEvent(ctx, tx, eventID); err != nil {
			return err
		}
		if err := tx.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		execution := models.NewExecution(eventID, batch.ID, p.cfg.Clock.Now().UTC())
		if err := tx.InsertExecutions(ctx, []models.Execution{*execution}); err != nil {
			return fmt.Errorf("failed to insert execution: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.BatchesCreatedTotal.Inc()
	p.log.Debug("planner: batch created", "event", eventID, "batch", batch.ID, "addresses", len(addresses), "value", batchValue)
	return &batch, nil
}

// MatchByAddresses finds the event's batch whose address list equals addresses
// element by element, ignoring hex letter case. A permutation is a different batch.
func (p *Planner) MatchByAddresses(ctx context.Context, eventID string, addresses []string) (*models.Batch, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("batch of event %s with no addresses: %w", eventID, models.ErrNotFound)
	}
	normalized := make([]string, len(addresses))
	for i, address := range addresses {
		checksummed, err := normalizeAddress(address)
		if err != nil {
			return nil, fmt.Errorf("batch of event %s with address %q: %w", eventID, address, models.ErrNotFound)
		}
		normalized[i] = checksummed
	}
	return p.findOne(ctx, eventID, repository.BatchFilter{Addresses: normalized})
}

// FindByAddress answers which batch of the event pays address.
func (p *Planner) FindByAddress(ctx context.Context, eventID, address string) (*models.Batch, error) {
	checksummed, err := normalizeAddress(address)
	if err != nil {
		return nil, fmt.Errorf("batch of event %s with address %q: %w", eventID, address, models.ErrNotFound)
	}
	return p.findOne(ctx, eventID, repository.BatchFilter{Contains: checksummed})
}

// Plan partitions recipients, in order, into batches of at most batchSize and attaches
// them to the event. Chunks that already exist under the event are reused, so a
// planning run interrupted halfway can simply be repeated. progress, when set, is
// called after each chunk.
func (p *Planner) Plan(ctx context.Context, eventID string, recipients []Recipient, batchSize int, progress func(planned int)) ([]models.Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", models.ErrInvalidInput, batchSize)
	}
	if _, err := activeEvent(ctx, p.cfg.Repository, eventID); err != nil {
		return nil, err
	}

	planned := make([]models.Batch, 0, (len(recipients)+batchSize-1)/batchSize)
	created := 0
	for start := 0; start < len(recipients); start += batchSize {
		chunk := recipients[start:min(start+batchSize, len(recipients))]
		addresses := make([]string, len(chunk))
		balances := make([]string, len(chunk))
		for i, recipient := range chunk {
			if recipient.Amount == nil {
				return nil, fmt.Errorf("%w: recipient %s has no amount", models.ErrInvalidInput, recipient.Address)
			}
			addresses[i] = recipient.Address
			balances[i] = recipient.Amount.String()
		}

		batch, err := p.MatchByAddresses(ctx, eventID, addresses)
		if errors.Is(err, models.ErrNotFound) {
			batch, err = p.CreateBatch(ctx, eventID, addresses, balances, "")
			if err == nil {
				created++
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to plan batch starting at recipient %d (%d batches created): %w", start, created, err)
		}
		planned = append(planned, *batch)
		if progress != nil {
			progress(len(chunk))
		}
	}
	p.log.Info("planner: event planned", "event", eventID, "recipients", len(recipients), "batches", len(planned), "created", created)
	return planned, nil
}

func (p *Planner) findOne(ctx context.Context, eventID string, filter repository.BatchFilter) (*models.Batch, error) {
	if _, err := activeEvent(ctx, p.cfg.Repository, eventID); err != nil {
		return nil, err
	}
	executions, err := p.cfg.Repository.ListExecutions(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of event %s: %w", eventID, err)
	}
	if len(executions) == 0 {
		return nil, fmt.Errorf("batch of event %s: %w", eventID, models.ErrNotFound)
	}
	filter.IDs = batchIDs(executions)
	batches, err := p.cfg.Repository.FindBatches(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find batches of event %s: %w", eventID, err)
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("batch of event %s: %w", eventID, models.ErrNotFound)
	}
	return &batches[0], nil
}

// validateBatch returns the checksummed addresses and the sum of balances.
func validateBatch(addresses, balances []string) ([]string, *big.Int, error) {
	if len(addresses) == 0 {
		return nil, nil, fmt.Errorf("%w: batch has no addresses", models.ErrInvalidInput)
	}
	if len(addresses) != len(balances) {
		return nil, nil, fmt.Errorf("%w: %d addresses but %d balances", models.ErrInvalidInput, len(addresses), len(balances))
	}
	normalized := make([]string, len(addresses))
	sum := new(big.Int)
	for i, address := range addresses {
		checksummed, err := normalizeAddress(address)
		if err != nil {
			return nil, nil, fmt.Errorf("address %d: %w", i, err)
		}
		normalized[i] = checksummed
		amount, err := parseAmount(balances[i])
		if err != nil {
			return nil, nil, err
		}
		sum.Add(sum, amount)
	}
	return normalized, sum, nil
}
