package distribution

import (
	"context"
	"distribution_engine/internal/models"
	"distribution_engine/internal/repository"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// retryConflicts reruns op while it fails with ErrConcurrencyConflict. Any other
// error stops the loop immediately.
func retryConflicts(ctx context.Context, maxTries int, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !errors.Is(err, models.ErrConcurrencyConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxTries)))
	return err
}

func activeEvent(ctx context.Context, repo repository.DbRepository, eventID string) (*models.Event, error) {
	event, err := repo.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.State.IsActive() {
		return nil, fmt.Errorf("event %s: %w", eventID, models.ErrNotFound)
	}
	return event, nil
}

func batchIDs(executions []models.Execution) []string {
	ids := make([]string, 0, len(executions))
	for _, execution := range executions {
		ids = append(ids, execution.BatchID)
	}
	return ids
}

// normalizeAddress returns the checksummed form used as the contract key.
func normalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q is not a hex address", models.ErrInvalidInput, address)
	}
	return common.HexToAddress(address).Hex(), nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is not a non-negative integer amount", models.ErrInvalidInput, value)
	}
	return amount, nil
}

func validateHash(txHash string) error {
	raw, err := hexutil.Decode(txHash)
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("%w: %q is not a transaction hash", models.ErrInvalidInput, txHash)
	}
	return nil
}

func validateHexData(name, data string, required bool) error {
	if data == "" && !required {
		return nil
	}
	if _, err := hexutil.Decode(data); err != nil {
		return fmt.Errorf("%w: %s must be 0x-prefixed hex: %v", models.ErrInvalidInput, name, err)
	}
	return nil
}
