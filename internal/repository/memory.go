package repository

import (
	"context"
	"distribution_engine/internal/models"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu    sync.Mutex
	state *memoryState
}

// NewMemoryRepository returns an in-process DbRepository. Transactions are serialised
// and applied copy-on-write, so a failed transaction leaves no trace. It backs dry
// runs of the planning CLI and the unit tests.
func NewMemoryRepository() DbRepository {
	return &memoryRepository{state: newMemoryState()}
}

func (r *memoryRepository) Health() error     { return nil }
func (r *memoryRepository) Disconnect() error { return nil }

func (r *memoryRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DbRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{state: snapshot}); err != nil {
		return err
	}
	r.state = snapshot
	return nil
}

// write runs fn against the committed state under the repository lock. Every
// non-transactional call is a single-statement transaction.
func (r *memoryRepository) write(ctx context.Context, fn func(tx *memoryTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&memoryTx{state: r.state})
}

func (r *memoryRepository) InsertContract(ctx context.Context, contract models.Contract) error {
	return r.write(ctx, func(tx *memoryTx) error { return tx.InsertContract(ctx, contract) })
}

func (r *memoryRepository) FindContract(ctx context.Context, address string) (result *models.Contract, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.FindContract(ctx, address)
		return err
	})
	return result, err
}

func (r *memoryRepository) ListContracts(ctx context.Context, activeOnly bool) (result []models.Contract, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.ListContracts(ctx, activeOnly)
		return err
	})
	return result, err
}

func (r *memoryRepository) SetContractState(ctx context.Context, address string, state models.Lifecycle, tokenAddress string) error {
	return r.write(ctx, func(tx *memoryTx) error { return tx.SetContractState(ctx, address, state, tokenAddress) })
}

func (r *memoryRepository) SwapContractNonce(ctx context.Context, address string, expected, next uint64) (ok bool, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		ok, err = tx.SwapContractNonce(ctx, address, expected, next)
		return err
	})
	return ok, err
}

func (r *memoryRepository) InsertEvent(ctx context.Context, event models.Event) error {
	return r.write(ctx, func(tx *memoryTx) error { return tx.InsertEvent(ctx, event) })
}

func (r *memoryRepository) FindEvent(ctx context.Context, id string) (result *models.Event, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.FindEvent(ctx, id)
		return err
	})
	return result, err
}

func (r *memoryRepository) ListEventsByStatus(ctx context.Context, status string) (result []models.Event, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.ListEventsByStatus(ctx, status)
		return err
	})
	return result, err
}

func (r *memoryRepository) SetEventStatus(ctx context.Context, id string, status string) error {
	return r.write(ctx, func(tx *memoryTx) error { return tx.SetEventStatus(ctx, id, status) })
}

func (r *memoryRepository) SwapEventStatus(ctx context.Context, id string, expected, next string) (ok bool, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		ok, err = tx.SwapEventStatus(ctx, id, expected, next)
		return err
	})
	return ok, err
}

func (r *memoryRepository) SoftDeleteEvent(ctx context.Context, id string, requiredStatus string) (ok bool, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		ok, err = tx.SoftDeleteEvent(ctx, id, requiredStatus)
		return err
	})
	return ok, err
}

func (r *memoryRepository) InsertBatch(ctx context.Context, batch models.Batch) error {
	return r.write(ctx, func(tx *memoryTx) error { return tx.InsertBatch(ctx, batch) })
}

func (r *memoryRepository) FindBatches(ctx context.Context, filter BatchFilter) (result []models.Batch, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.FindBatches(ctx, filter)
		return err
	})
	return result, err
}

func (r *memoryRepository) InsertExecutions(ctx context.Context, executions []models.Execution) error {
	return r.WithTransaction(ctx, func(ctx context.Context, tx DbRepository) error {
		return tx.InsertExecutions(ctx, executions)
	})
}

func (r *memoryRepository) FindExecution(ctx context.Context, eventID, batchID string) (result *models.Execution, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.FindExecution(ctx, eventID, batchID)
		return err
	})
	return result, err
}

func (r *memoryRepository) ListExecutions(ctx context.Context, eventID string) (result []models.Execution, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.ListExecutions(ctx, eventID)
		return err
	})
	return result, err
}

func (r *memoryRepository) UpdateExecution(ctx context.Context, execution models.Execution, expected models.BatchStatus) (ok bool, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		ok, err = tx.UpdateExecution(ctx, execution, expected)
		return err
	})
	return ok, err
}

func (r *memoryRepository) InsertFile(ctx context.Context, file models.File) error {
	return r.write(ctx, func(tx *memoryTx) error { return tx.InsertFile(ctx, file) })
}

func (r *memoryRepository) FindFile(ctx context.Context, id string) (result *models.File, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.FindFile(ctx, id)
		return err
	})
	return result, err
}

func (r *memoryRepository) ListFiles(ctx context.Context, activeOnly bool) (result []models.File, err error) {
	err = r.write(ctx, func(tx *memoryTx) error {
		result, err = tx.ListFiles(ctx, activeOnly)
		return err
	})
	return result, err
}

func (r *memoryRepository) SetFileState(ctx context.Context, id string, state models.Lifecycle) error {
	return r.write(ctx, func(tx *memoryTx) error { return tx.SetFileState(ctx, id, state) })
}

type executionKey struct {
	eventID string
	batchID string
}

type memoryState struct {
	contracts  map[string]models.Contract
	events     map[string]models.Event
	batches    map[string]models.Batch
	executions map[executionKey]models.Execution
	// executionOrder keeps each event's batch ids in insertion order.
	executionOrder map[string][]string
	files          map[string]models.File
}

func newMemoryState() *memoryState {
	return &memoryState{
		contracts:      make(map[string]models.Contract),
		events:         make(map[string]models.Event),
		batches:        make(map[string]models.Batch),
		executions:     make(map[executionKey]models.Execution),
		executionOrder: make(map[string][]string),
		files:          make(map[string]models.File),
	}
}

// clone copies the maps. Batch slices are never mutated after insert and execution
// pointer fields are copied on every read and write, so sharing them is safe.
func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		contracts:      make(map[string]models.Contract, len(s.contracts)),
		events:         make(map[string]models.Event, len(s.events)),
		batches:        make(map[string]models.Batch, len(s.batches)),
		executions:     make(map[executionKey]models.Execution, len(s.executions)),
		executionOrder: make(map[string][]string, len(s.executionOrder)),
		files:          make(map[string]models.File, len(s.files)),
	}
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.executions {
		c.executions[k] = v
	}
	for k, v := range s.executionOrder {
		c.executionOrder[k] = slices.Clone(v)
	}
	for k, v := range s.files {
		c.files[k] = v
	}
	return c
}

// memoryTx operates on a state without locking; the owner holds the lock.
type memoryTx struct {
	state *memoryState
}

func (tx *memoryTx) Health() error     { return nil }
func (tx *memoryTx) Disconnect() error { return nil }

func (tx *memoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DbRepository) error) error {
	return fn(ctx, tx)
}

func (tx *memoryTx) InsertContract(ctx context.Context, contract models.Contract) error {
	if _, ok := tx.state.contracts[contract.Address]; ok {
		return fmt.Errorf("contract %s: %w", contract.Address, ErrDuplicate)
	}
	tx.state.contracts[contract.Address] = contract
	return nil
}

func (tx *memoryTx) FindContract(ctx context.Context, address string) (*models.Contract, error) {
	contract, ok := tx.state.contracts[address]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", address, models.ErrNotFound)
	}
	return &contract, nil
}

func (tx *memoryTx) ListContracts(ctx context.Context, activeOnly bool) ([]models.Contract, error) {
	contracts := make([]models.Contract, 0, len(tx.state.contracts))
	for _, contract := range tx.state.contracts {
		if activeOnly && !contract.State.IsActive() {
			continue
		}
		contracts = append(contracts, contract)
	}
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].Address < contracts[j].Address })
	return contracts, nil
}

func (tx *memoryTx) SetContractState(ctx context.Context, address string, state models.Lifecycle, tokenAddress string) error {
	contract, ok := tx.state.contracts[address]
	if !ok {
		return fmt.Errorf("contract %s: %w", address, models.ErrNotFound)
	}
	contract.State = state
	if tokenAddress != "" {
		contract.TokenAddress = tokenAddress
	}
	tx.state.contracts[address] = contract
	return nil
}

func (tx *memoryTx) SwapContractNonce(ctx context.Context, address string, expected, next uint64) (bool, error) {
	contract, ok := tx.state.contracts[address]
	if !ok || !contract.State.IsActive() || contract.Nonce != expected {
		return false, nil
	}
	contract.Nonce = next
	tx.state.contracts[address] = contract
	return true, nil
}

func (tx *memoryTx) InsertEvent(ctx context.Context, event models.Event) error {
	if _, ok := tx.state.events[event.ID]; ok {
		return fmt.Errorf("event %s: %w", event.ID, ErrDuplicate)
	}
	tx.state.events[event.ID] = event
	return nil
}

func (tx *memoryTx) FindEvent(ctx context.Context, id string) (*models.Event, error) {
	event, ok := tx.state.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	return &event, nil
}

func (tx *memoryTx) ListEventsByStatus(ctx context.Context, status string) ([]models.Event, error) {
	events := make([]models.Event, 0)
	for _, event := range tx.state.events {
		if event.Status == status && event.State.IsActive() {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (tx *memoryTx) SetEventStatus(ctx context.Context, id string, status string) error {
	event, ok := tx.state.events[id]
	if !ok || !event.State.IsActive() {
		return fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	event.Status = status
	tx.state.events[id] = event
	return nil
}

func (tx *memoryTx) SwapEventStatus(ctx context.Context, id string, expected, next string) (bool, error) {
	event, ok := tx.state.events[id]
	if !ok || !event.State.IsActive() || event.Status != expected {
		return false, nil
	}
	event.Status = next
	tx.state.events[id] = event
	return true, nil
}

func (tx *memoryTx) SoftDeleteEvent(ctx context.Context, id string, requiredStatus string) (bool, error) {
	event, ok := tx.state.events[id]
	if !ok || !event.State.IsActive() || event.Status != requiredStatus {
		return false, nil
	}
	event.State = models.LifecycleDeleted
	tx.state.events[id] = event
	return true, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch models.Batch) error {
	if _, ok := tx.state.batches[batch.ID]; ok {
		return fmt.Errorf("batch %s: %w", batch.ID, ErrDuplicate)
	}
	batch.Addresses = slices.Clone(batch.Addresses)
	batch.Balances = slices.Clone(batch.Balances)
	tx.state.batches[batch.ID] = batch
	return nil
}

func (tx *memoryTx) FindBatches(ctx context.Context, filter BatchFilter) ([]models.Batch, error) {
	batches := make([]models.Batch, 0, len(filter.IDs))
	for _, id := range filter.IDs {
		batch, ok := tx.state.batches[id]
		if !ok {
			continue
		}
		if filter.Addresses != nil && !slices.Equal(batch.Addresses, filter.Addresses) {
			continue
		}
		if filter.Contains != "" && !slices.Contains(batch.Addresses, filter.Contains) {
			continue
		}
		batch.Addresses = slices.Clone(batch.Addresses)
		batch.Balances = slices.Clone(batch.Balances)
		batches = append(batches, batch)
	}
	return batches, nil
}

func (tx *memoryTx) InsertExecutions(ctx context.Context, executions []models.Execution) error {
	for _, execution := range executions {
		key := executionKey{eventID: execution.EventID, batchID: execution.BatchID}
		if _, ok := tx.state.executions[key]; ok {
			return fmt.Errorf("execution %s/%s: %w", execution.EventID, execution.BatchID, ErrDuplicate)
		}
		tx.state.executions[key] = copyExecution(execution)
		tx.state.executionOrder[execution.EventID] = append(tx.state.executionOrder[execution.EventID], execution.BatchID)
	}
	return nil
}

func (tx *memoryTx) FindExecution(ctx context.Context, eventID, batchID string) (*models.Execution, error) {
	execution, ok := tx.state.executions[executionKey{eventID: eventID, batchID: batchID}]
	if !ok {
		return nil, fmt.Errorf("execution %s/%s: %w", eventID, batchID, models.ErrNotFound)
	}
	execution = copyExecution(execution)
	return &execution, nil
}

func (tx *memoryTx) ListExecutions(ctx context.Context, eventID string) ([]models.Execution, error) {
	order := tx.state.executionOrder[eventID]
	executions := make([]models.Execution, 0, len(order))
	for _, batchID := range order {
		executions = append(executions, copyExecution(tx.state.executions[executionKey{eventID: eventID, batchID: batchID}]))
	}
	return executions, nil
}

func (tx *memoryTx) UpdateExecution(ctx context.Context, execution models.Execution, expected models.BatchStatus) (bool, error) {
	key := executionKey{eventID: execution.EventID, batchID: execution.BatchID}
	current, ok := tx.state.executions[key]
	if !ok || current.Status != expected {
		return false, nil
	}
	tx.state.executions[key] = copyExecution(execution)
	return true, nil
}

func (tx *memoryTx) InsertFile(ctx context.Context, file models.File) error {
	if _, ok := tx.state.files[file.ID]; ok {
		return fmt.Errorf("file %s: %w", file.ID, ErrDuplicate)
	}
	tx.state.files[file.ID] = file
	return nil
}

func (tx *memoryTx) FindFile(ctx context.Context, id string) (*models.File, error) {
	file, ok := tx.state.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	return &file, nil
}

func (tx *memoryTx) ListFiles(ctx context.Context, activeOnly bool) ([]models.File, error) {
	files := make([]models.File, 0, len(tx.state.files))
	for _, file := range tx.state.files {
		if activeOnly && !file.State.IsActive() {
			continue
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (tx *memoryTx) SetFileState(ctx context.Context, id string, state models.Lifecycle) error {
	file, ok := tx.state.files[id]
	if !ok {
		return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	file.State = state
	tx.state.files[id] = file
	return nil
}

func copyExecution(execution models.Execution) models.Execution {
	if execution.Nonce != nil {
		nonce := *execution.Nonce
		execution.Nonce = &nonce
	}
	if execution.BlockNumber != nil {
		block := *execution.BlockNumber
		execution.BlockNumber = &block
	}
	if execution.TransactionIndex != nil {
		index := *execution.TransactionIndex
		execution.TransactionIndex = &index
	}
	return execution
}
