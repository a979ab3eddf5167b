package distribution

import (
	"context"
	"distribution_engine/internal/metrics"
	"distribution_engine/internal/models"
	"distribution_engine/internal/repository"
	"errors"
	"fmt"
	"log/slog"
)

// Registry owns distributor contracts and their nonce counters.
type Registry struct {
	log *slog.Logger
	cfg Config
}

// Register creates the contract on first sight and revives it if it was soft-deleted.
// A revived contract keeps its nonce so already used values are never handed out again.
func (r *Registry) Register(ctx context.Context, address, tokenAddress, txHash string) (*models.Contract, error) {
	key, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	token, err := normalizeAddress(tokenAddress)
	if err != nil {
		return nil, err
	}

	existing, err := r.cfg.Repository.FindContract(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		contract := models.Contract{
			Address:      key,
			TokenAddress: token,
			DeploymentTx: txHash,
			Nonce:        0,
			State:        models.LifecycleActive,
			CreatedAt:    r.cfg.Clock.Now().UTC(),
		}
		err = r.cfg.Repository.InsertContract(ctx, contract)
		if err == nil {
			r.log.Info("registry: contract registered", "contract", key, "token", token)
			return &contract, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to register contract %s: %w", key, err)
		}
		// Lost the insert race to a concurrent Register; fall through to the match path.
		existing, err = r.cfg.Repository.FindContract(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contract %s: %w", key, err)
	}

	if existing.State.IsActive() {
		return existing, nil
	}
	if err := r.cfg.Repository.SetContractState(ctx, key, models.LifecycleActive, token); err != nil {
		return nil, fmt.Errorf("failed to revive contract %s: %w", key, err)
	}
	r.log.Info("registry: contract revived", "contract", key, "nonce", existing.Nonce)
	existing.State = models.LifecycleActive
	existing.TokenAddress = token
	return existing, nil
}

func (r *Registry) Get(ctx context.Context, address string) (*models.Contract, error) {
	key, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return activeContract(ctx, r.cfg.Repository, key)
}

func (r *Registry) SoftDelete(ctx context.Context, address string) error {
	contract, err := r.Get(ctx, address)
	if err != nil {
		return err
	}
	if err := r.cfg.Repository.SetContractState(ctx, contract.Address, models.LifecycleDeleted, ""); err != nil {
		return fmt.Errorf("failed to delete contract %s: %w", contract.Address, err)
	}
	r.log.Info("registry: contract deleted", "contract", contract.Address)
	return nil
}

func (r *Registry) List(ctx context.Context, activeOnly bool) ([]models.Contract, error) {
	return r.cfg.Repository.ListContracts(ctx, activeOnly)
}

// NextNonce consumes the contract's current nonce and returns it. Concurrent callers
// always receive distinct, strictly increasing values.
func (r *Registry) NextNonce(ctx context.Context, address string) (uint64, error) {
	key, err := normalizeAddress(address)
	if err != nil {
		return 0, err
	}
	var nonce uint64
	err = retryConflicts(ctx, r.cfg.MaxConflictRetries, func() error {
		n, allocErr := allocateNonce(ctx, r.cfg.Repository, key)
		nonce = n
		return allocErr
	})
	if err != nil {
		return 0, err
	}
	r.log.Debug("registry: nonce allocated", "contract", key, "nonce", nonce)
	return nonce, nil
}

func activeContract(ctx context.Context, repo repository.DbRepository, address string) (*models.Contract, error) {
	contract, err := repo.FindContract(ctx, address)
	if err != nil {
		return nil, err
	}
	if !contract.State.IsActive() {
		return nil, fmt.Errorf("contract %s: %w", address, models.ErrNotFound)
	}
	return contract, nil
}

// allocateNonce is a single compare-and-swap attempt: read n, then write n+1 only if
// the stored value is still n. Reading and writing without the condition would let
// two signers consume the same nonce.
func allocateNonce(ctx context.Context, repo repository.DbRepository, address string) (uint64, error) {
	contract, err := activeContract(ctx, repo, address)
	if err != nil {
		return 0, err
	}
	swapped, err := repo.SwapContractNonce(ctx, address, contract.Nonce, contract.Nonce+1)
	if err != nil {
		return 0, fmt.Errorf("failed to advance nonce of contract %s: %w", address, err)
	}
	if !swapped {
		metrics.NonceConflictsTotal.Inc()
		return 0, fmt.Errorf("nonce %d of contract %s: %w", contract.Nonce, address, models.ErrConcurrencyConflict)
	}
	metrics.NoncesAllocatedTotal.WithLabelValues(address).Inc()
	return contract.Nonce, nil
}
