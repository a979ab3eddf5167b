package distribution

import (
	"context"
	"distribution_engine/internal/models"
	"distribution_engine/internal/repository"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// failingUpdateRepo fails every UpdateExecution, inside transactions too.
type failingUpdateRepo struct {
	repository.DbRepository
}

func (r *failingUpdateRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.DbRepository) error) error {
	return r.DbRepository.WithTransaction(ctx, func(ctx context.Context, tx repository.DbRepository) error {
		return fn(ctx, &failingUpdateRepo{DbRepository: tx})
	})
}

func (r *failingUpdateRepo) UpdateExecution(context.Context, models.Execution, models.BatchStatus) (bool, error) {
	return false, fmt.Errorf("write rejected: %w", models.ErrStoreUnavailable)
}

func TestSigner_Sign(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	batch, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1, addr2}, []string{"10", "20"}, "30")
	require.NoError(t, err)

	signed, err := env.engine.Signer.Sign(ctx, event.ID, batch.ID, testSig)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusSigned, signed.Status)
	require.Equal(t, testSig, signed.Signature)
	require.NotNil(t, signed.Nonce)
	require.Equal(t, uint64(0), *signed.Nonce)
	require.Equal(t, uint64(1), env.contractNonce(t))

	stored, err := env.repo.FindExecution(ctx, event.ID, batch.ID)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusSigned, stored.Status)
	require.Equal(t, uint64(0), *stored.Nonce)
}

func TestSigner_Sign_RejectsResign(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	batch, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1}, []string{"10"}, "")
	require.NoError(t, err)
	_, err = env.engine.Signer.Sign(ctx, event.ID, batch.ID, testSig)
	require.NoError(t, err)

	_, err = env.engine.Signer.Sign(ctx, event.ID, batch.ID, "0x99")
	require.ErrorIs(t, err, models.ErrInvalidState)
	require.Equal(t, uint64(1), env.contractNonce(t))
}

func TestSigner_Sign_Validation(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	batch, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1}, []string{"10"}, "")
	require.NoError(t, err)

	_, err = env.engine.Signer.Sign(ctx, event.ID, batch.ID, "")
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = env.engine.Signer.Sign(ctx, event.ID, batch.ID, "signature")
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = env.engine.Signer.Sign(ctx, event.ID, "missing", testSig)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = env.engine.Signer.Sign(ctx, "missing", batch.ID, testSig)
	require.ErrorIs(t, err, models.ErrNotFound)

	require.Equal(t, uint64(0), env.contractNonce(t))
}

func TestSigner_Sign_DeletedContract(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	batch, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1}, []string{"10"}, "")
	require.NoError(t, err)
	require.NoError(t, env.engine.Registry.SoftDelete(ctx, testContract))

	_, err = env.engine.Signer.Sign(ctx, event.ID, batch.ID, testSig)
	require.ErrorIs(t, err, models.ErrNotFound)

	execution, err := env.repo.FindExecution(ctx, event.ID, batch.ID)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusPending, execution.Status)
}

func TestSigner_Sign_FailedWriteDoesNotBurnNonce(t *testing.T) {
	memory := repository.NewMemoryRepository()
	env := newTestEnvWithRepo(t, memory)
	event := env.withEvent(t)
	ctx := context.Background()

	batch, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1}, []string{"10"}, "")
	require.NoError(t, err)

	broken := newTestEnvWithRepo(t, &failingUpdateRepo{DbRepository: memory})
	_, err = broken.engine.Signer.Sign(ctx, event.ID, batch.ID, testSig)
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
	require.Equal(t, uint64(0), env.contractNonce(t))

	signed, err := env.engine.Signer.Sign(ctx, event.ID, batch.ID, testSig)
	require.NoError(t, err)
	require.Equal(t, uint64(0), *signed.Nonce)
}

func TestSigner_Sign_ConcurrentBatchesGetDistinctNonces(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	const batches = 8
	ids := make([]string, batches)
	for i := range ids {
		address := fmt.Sprintf("0x%040x", i+1)
		batch, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{address}, []string{"1"}, "")
		require.NoError(t, err)
		ids[i] = batch.ID
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		nonces []uint64
		errs   []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(batchID string) {
			defer wg.Done()
			signed, err := env.engine.Signer.Sign(ctx, event.ID, batchID, testSig)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			nonces = append(nonces, *signed.Nonce)
		}(id)
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	require.Len(t, nonces, batches)
	for i, nonce := range nonces {
		require.Equal(t, uint64(i), nonce)
	}
	require.Equal(t, uint64(batches), env.contractNonce(t))
}

func TestSigner_Sign_SameBatchConcurrentlyConsumesOneNonce(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	batch, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1}, []string{"1"}, "")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Signer.Sign(ctx, event.ID, batch.ID, testSig)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, models.ErrInvalidState) {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, 3, rejected)
	require.Equal(t, uint64(1), env.contractNonce(t))
}
