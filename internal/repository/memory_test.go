package repository

import (
	"context"
	"distribution_engine/internal/models"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_TransactionRollback(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.InsertContract(ctx, models.Contract{Address: "0xC", State: models.LifecycleActive}))

	boom := errors.New("boom")
	err := repo.WithTransaction(ctx, func(ctx context.Context, tx DbRepository) error {
		swapped, err := tx.SwapContractNonce(ctx, "0xC", 0, 1)
		require.NoError(t, err)
		require.True(t, swapped)
		require.NoError(t, tx.InsertEvent(ctx, models.Event{ID: "e1", State: models.LifecycleActive}))

		contract, err := tx.FindContract(ctx, "0xC")
		require.NoError(t, err)
		require.Equal(t, uint64(1), contract.Nonce)
		return boom
	})
	require.ErrorIs(t, err, boom)

	contract, err := repo.FindContract(ctx, "0xC")
	require.NoError(t, err)
	require.Equal(t, uint64(0), contract.Nonce)
	_, err = repo.FindEvent(ctx, "e1")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemory_TransactionCommit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx DbRepository) error {
		if err := tx.InsertBatch(ctx, models.Batch{ID: "b1", Addresses: []string{"0x1"}, Balances: []string{"1"}}); err != nil {
			return err
		}
		return tx.InsertExecutions(ctx, []models.Execution{*models.NewExecution("e1", "b1", time.Now())})
	})
	require.NoError(t, err)

	execution, err := repo.FindExecution(ctx, "e1", "b1")
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusPending, execution.Status)
}

func TestMemory_SwapContractNonce(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.InsertContract(ctx, models.Contract{Address: "0xC", State: models.LifecycleActive}))

	swapped, err := repo.SwapContractNonce(ctx, "0xC", 0, 1)
	require.NoError(t, err)
	require.True(t, swapped)

	swapped, err = repo.SwapContractNonce(ctx, "0xC", 0, 1)
	require.NoError(t, err)
	require.False(t, swapped)

	require.NoError(t, repo.SetContractState(ctx, "0xC", models.LifecycleDeleted, ""))
	swapped, err = repo.SwapContractNonce(ctx, "0xC", 1, 2)
	require.NoError(t, err)
	require.False(t, swapped)

	swapped, err = repo.SwapContractNonce(ctx, "0xD", 0, 1)
	require.NoError(t, err)
	require.False(t, swapped)
}

func TestMemory_InsertDuplicates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.InsertContract(ctx, models.Contract{Address: "0xC"}))
	require.ErrorIs(t, repo.InsertContract(ctx, models.Contract{Address: "0xC"}), ErrDuplicate)

	now := time.Now()
	err := repo.InsertExecutions(ctx, []models.Execution{
		*models.NewExecution("e1", "b1", now),
		*models.NewExecution("e1", "b2", now),
		*models.NewExecution("e1", "b1", now),
	})
	require.ErrorIs(t, err, ErrDuplicate)

	executions, err := repo.ListExecutions(ctx, "e1")
	require.NoError(t, err)
	require.Empty(t, executions)
}

func TestMemory_UpdateExecutionIsConditional(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.InsertExecutions(ctx, []models.Execution{*models.NewExecution("e1", "b1", time.Now())}))

	execution, err := repo.FindExecution(ctx, "e1", "b1")
	require.NoError(t, err)
	nonce := uint64(4)
	execution.Nonce = &nonce
	execution.Status = models.BatchStatusSigned

	updated, err := repo.UpdateExecution(ctx, *execution, models.BatchStatusSigned)
	require.NoError(t, err)
	require.False(t, updated)

	updated, err = repo.UpdateExecution(ctx, *execution, models.BatchStatusPending)
	require.NoError(t, err)
	require.True(t, updated)

	// Stored pointers are not shared with the caller.
	nonce = 9
	stored, err := repo.FindExecution(ctx, "e1", "b1")
	require.NoError(t, err)
	require.Equal(t, uint64(4), *stored.Nonce)
}

func TestMemory_FindBatches(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.InsertBatch(ctx, models.Batch{ID: "b1", Addresses: []string{"0x1", "0x2"}, Balances: []string{"1", "2"}}))
	require.NoError(t, repo.InsertBatch(ctx, models.Batch{ID: "b2", Addresses: []string{"0x3"}, Balances: []string{"3"}}))
	ids := []string{"b2", "b1", "missing"}

	all, err := repo.FindBatches(ctx, BatchFilter{IDs: ids})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b2", all[0].ID)

	exact, err := repo.FindBatches(ctx, BatchFilter{IDs: ids, Addresses: []string{"0x1", "0x2"}})
	require.NoError(t, err)
	require.Len(t, exact, 1)
	require.Equal(t, "b1", exact[0].ID)

	permuted, err := repo.FindBatches(ctx, BatchFilter{IDs: ids, Addresses: []string{"0x2", "0x1"}})
	require.NoError(t, err)
	require.Empty(t, permuted)

	containing, err := repo.FindBatches(ctx, BatchFilter{IDs: ids, Contains: "0x2"})
	require.NoError(t, err)
	require.Len(t, containing, 1)
	require.Equal(t, "b1", containing[0].ID)

	scoped, err := repo.FindBatches(ctx, BatchFilter{IDs: []string{"b2"}, Contains: "0x2"})
	require.NoError(t, err)
	require.Empty(t, scoped)
}

func TestMemory_EventStatusSwaps(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.InsertEvent(ctx, models.Event{ID: "e1", Status: models.EventStatusPending, State: models.LifecycleActive}))

	swapped, err := repo.SwapEventStatus(ctx, "e1", models.EventStatusExecuting, models.EventStatusCompleted)
	require.NoError(t, err)
	require.False(t, swapped)

	swapped, err = repo.SwapEventStatus(ctx, "e1", models.EventStatusPending, models.EventStatusExecuting)
	require.NoError(t, err)
	require.True(t, swapped)

	deleted, err := repo.SoftDeleteEvent(ctx, "e1", models.EventStatusPending)
	require.NoError(t, err)
	require.False(t, deleted)

	running, err := repo.ListEventsByStatus(ctx, models.EventStatusExecuting)
	require.NoError(t, err)
	require.Len(t, running, 1)
}

func TestMemory_CancelledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.FindContract(ctx, "0xC")
	require.ErrorIs(t, err, context.Canceled)
}
