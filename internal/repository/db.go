package repository

import (
	"context"
	"distribution_engine/internal/config"
	"distribution_engine/internal/models"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	contractsCollection  = "contracts"
	eventsCollection     = "events"
	batchesCollection    = "batches"
	executionsCollection = "executions"
	filesCollection      = "files"
)

// BatchFilter selects batches among IDs. Addresses matches the whole array exactly,
// order included; Contains matches any batch paying that address.
type BatchFilter struct {
	IDs       []string
	Addresses []string
	Contains  string
}

// DbRepository is the store the distribution engine runs on. Lookups return
// models.ErrNotFound when nothing matches; conditional writes report whether they
// matched instead of failing, so callers decide how to treat a lost race.
type DbRepository interface {
	Health() error
	Disconnect() error

	// WithTransaction runs fn with read-your-writes consistency; either every write
	// made through tx is kept or none is.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DbRepository) error) error

	InsertContract(ctx context.Context, contract models.Contract) error
	FindContract(ctx context.Context, address string) (*models.Contract, error)
	ListContracts(ctx context.Context, activeOnly bool) ([]models.Contract, error)
	SetContractState(ctx context.Context, address string, state models.Lifecycle, tokenAddress string) error
	SwapContractNonce(ctx context.Context, address string, expected, next uint64) (bool, error)

	InsertEvent(ctx context.Context, event models.Event) error
	FindEvent(ctx context.Context, id string) (*models.Event, error)
	ListEventsByStatus(ctx context.Context, status string) ([]models.Event, error)
	SetEventStatus(ctx context.Context, id string, status string) error
	SwapEventStatus(ctx context.Context, id string, expected, next string) (bool, error)
	SoftDeleteEvent(ctx context.Context, id string, requiredStatus string) (bool, error)

	InsertBatch(ctx context.Context, batch models.Batch) error
	FindBatches(ctx context.Context, filter BatchFilter) ([]models.Batch, error)

	InsertExecutions(ctx context.Context, executions []models.Execution) error
	FindExecution(ctx context.Context, eventID, batchID string) (*models.Execution, error)
	ListExecutions(ctx context.Context, eventID string) ([]models.Execution, error)
	UpdateExecution(ctx context.Context, execution models.Execution, expected models.BatchStatus) (bool, error)

	InsertFile(ctx context.Context, file models.File) error
	FindFile(ctx context.Context, id string) (*models.File, error)
	ListFiles(ctx context.Context, activeOnly bool) ([]models.File, error)
	SetFileState(ctx context.Context, id string, state models.Lifecycle) error
}

type mongoRepository struct {
	client *mongo.Client
	dbName string
}

func ConnectToDb(config *config.Config) (DbRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, err := connect(ctx, config.Db.URI(), config.Db.DbName)
	if err != nil {
		return nil, err
	}
	log.Println("✅ Db connected")
	return repo, nil
}

func connect(ctx context.Context, uri, dbName string) (*mongoRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", classify(err))
	}
	repo := &mongoRepository{
		client: client,
		dbName: dbName,
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return repo, nil
}

func (r *mongoRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.client.Database(r.dbName).Collection(executionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "eventId", Value: 1}, {Key: "batchId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create execution indexes: %w", classify(err))
	}
	_, err = r.client.Database(r.dbName).Collection(batchesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "addresses", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create batch indexes: %w", classify(err))
	}
	_, err = r.client.Database(r.dbName).Collection(eventsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "state", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create event indexes: %w", classify(err))
	}
	return nil
}

func (r *mongoRepository) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	return r.client.Ping(ctx, nil)
}

func (r *mongoRepository) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return r.client.Disconnect(ctx)
}

// WithTransaction requires a replica set deployment. The driver retries the whole
// callback on TransientTransactionError, which is how write conflicts on the same
// contract document surface.
func (r *mongoRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DbRepository) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, r)
	}
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", classify(err))
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx, r)
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (r *mongoRepository) InsertContract(ctx context.Context, contract models.Contract) error {
	return r.Collection(contractsCollection).InsertOne(ctx, contract)
}

func (r *mongoRepository) FindContract(ctx context.Context, address string) (*models.Contract, error) {
	var contract models.Contract
	if err := r.Collection(contractsCollection).FindOne(ctx, bson.M{"_id": address}).Decode(&contract); err != nil {
		return nil, fmt.Errorf("contract %s: %w", address, classify(err))
	}
	return &contract, nil
}

func (r *mongoRepository) ListContracts(ctx context.Context, activeOnly bool) ([]models.Contract, error) {
	filter := bson.M{}
	if activeOnly {
		filter["state"] = models.LifecycleActive
	}
	contracts := make([]models.Contract, 0)
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if err := r.Collection(contractsCollection).FindMany(ctx, filter, opts, &contracts); err != nil {
		return nil, err
	}
	return contracts, nil
}

func (r *mongoRepository) SetContractState(ctx context.Context, address string, state models.Lifecycle, tokenAddress string) error {
	update := bson.M{"state": state}
	if tokenAddress != "" {
		update["tokenAddress"] = tokenAddress
	}
	matched, err := r.Collection(contractsCollection).UpdateOne(ctx, bson.M{"_id": address}, update)
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("contract %s: %w", address, models.ErrNotFound)
	}
	return nil
}

// SwapContractNonce is the compare-and-swap behind nonce allocation. A plain
// read-then-write would let two signers observe the same nonce; the filter on the
// current value makes the loser match nothing.
func (r *mongoRepository) SwapContractNonce(ctx context.Context, address string, expected, next uint64) (bool, error) {
	return r.Collection(contractsCollection).UpdateOne(ctx,
		bson.M{"_id": address, "nonce": expected, "state": models.LifecycleActive},
		bson.M{"nonce": next},
	)
}

func (r *mongoRepository) InsertEvent(ctx context.Context, event models.Event) error {
	return r.Collection(eventsCollection).InsertOne(ctx, event)
}

func (r *mongoRepository) FindEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	if err := r.Collection(eventsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&event); err != nil {
		return nil, fmt.Errorf("event %s: %w", id, classify(err))
	}
	return &event, nil
}

func (r *mongoRepository) ListEventsByStatus(ctx context.Context, status string) ([]models.Event, error) {
	events := make([]models.Event, 0)
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	filter := bson.M{"status": status, "state": models.LifecycleActive}
	if err := r.Collection(eventsCollection).FindMany(ctx, filter, opts, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *mongoRepository) SetEventStatus(ctx context.Context, id string, status string) error {
	matched, err := r.Collection(eventsCollection).UpdateOne(ctx, bson.M{"_id": id, "state": models.LifecycleActive}, bson.M{"status": status})
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r *mongoRepository) SwapEventStatus(ctx context.Context, id string, expected, next string) (bool, error) {
	return r.Collection(eventsCollection).UpdateOne(ctx,
		bson.M{"_id": id, "status": expected, "state": models.LifecycleActive},
		bson.M{"status": next},
	)
}

func (r *mongoRepository) SoftDeleteEvent(ctx context.Context, id string, requiredStatus string) (bool, error) {
	return r.Collection(eventsCollection).UpdateOne(ctx,
		bson.M{"_id": id, "status": requiredStatus, "state": models.LifecycleActive},
		bson.M{"state": models.LifecycleDeleted},
	)
}

func (r *mongoRepository) InsertBatch(ctx context.Context, batch models.Batch) error {
	return r.Collection(batchesCollection).InsertOne(ctx, batch)
}

func (r *mongoRepository) FindBatches(ctx context.Context, filter BatchFilter) ([]models.Batch, error) {
	query := bson.M{"_id": bson.M{"$in": filter.IDs}}
	if filter.Addresses != nil {
		// Array equality in MongoDB compares element by element, in order.
		query["addresses"] = filter.Addresses
	}
	if filter.Contains != "" {
		query["addresses"] = filter.Contains
	}
	batches := make([]models.Batch, 0)
	if err := r.Collection(batchesCollection).FindMany(ctx, query, options.Find(), &batches); err != nil {
		return nil, err
	}
	return orderByIDs(batches, filter.IDs), nil
}

func (r *mongoRepository) InsertExecutions(ctx context.Context, executions []models.Execution) error {
	operations := make([]mongo.WriteModel, 0, len(executions))
	for _, execution := range executions {
		operations = append(operations, mongo.NewInsertOneModel().SetDocument(execution))
	}
	if _, err := r.Collection(executionsCollection).BulkWrite(ctx, operations, options.BulkWrite().SetOrdered(true)); err != nil {
		var bulkErr *BulkWriteError
		if errors.As(err, &bulkErr) {
			return fmt.Errorf("failed to insert executions (%d inserted): %w", bulkErr.InsertedCount, classify(bulkErr.Err))
		}
		return err
	}
	return nil
}

func (r *mongoRepository) FindExecution(ctx context.Context, eventID, batchID string) (*models.Execution, error) {
	var execution models.Execution
	err := r.Collection(executionsCollection).FindOne(ctx, bson.M{"eventId": eventID, "batchId": batchID}).Decode(&execution)
	if err != nil {
		return nil, fmt.Errorf("execution %s/%s: %w", eventID, batchID, classify(err))
	}
	return &execution, nil
}

func (r *mongoRepository) ListExecutions(ctx context.Context, eventID string) ([]models.Execution, error) {
	executions := make([]models.Execution, 0)
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if err := r.Collection(executionsCollection).FindMany(ctx, bson.M{"eventId": eventID}, opts, &executions); err != nil {
		return nil, err
	}
	return executions, nil
}

func (r *mongoRepository) UpdateExecution(ctx context.Context, execution models.Execution, expected models.BatchStatus) (bool, error) {
	set := bson.M{"status": execution.Status, "updatedAt": execution.UpdatedAt}
	unset := bson.M{}
	setOrUnset := func(key string, value interface{}, present bool) {
		if present {
			set[key] = value
		} else {
			unset[key] = ""
		}
	}
	setOrUnset("batchSignature", execution.Signature, execution.Signature != "")
	setOrUnset("nonce", execution.Nonce, execution.Nonce != nil)
	setOrUnset("txHash", execution.TxHash, execution.TxHash != "")
	setOrUnset("blockNumber", execution.BlockNumber, execution.BlockNumber != nil)
	setOrUnset("transactionIndex", execution.TransactionIndex, execution.TransactionIndex != nil)
	setOrUnset("input", execution.Input, execution.Input != "")

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	filter := bson.M{"eventId": execution.EventID, "batchId": execution.BatchID, "status": expected}
	return r.Collection(executionsCollection).UpdateRaw(ctx, filter, update)
}

func (r *mongoRepository) InsertFile(ctx context.Context, file models.File) error {
	return r.Collection(filesCollection).InsertOne(ctx, file)
}

func (r *mongoRepository) FindFile(ctx context.Context, id string) (*models.File, error) {
	var file models.File
	if err := r.Collection(filesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&file); err != nil {
		return nil, fmt.Errorf("file %s: %w", id, classify(err))
	}
	return &file, nil
}

func (r *mongoRepository) ListFiles(ctx context.Context, activeOnly bool) ([]models.File, error) {
	filter := bson.M{}
	if activeOnly {
		filter["state"] = models.LifecycleActive
	}
	files := make([]models.File, 0)
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	if err := r.Collection(filesCollection).FindMany(ctx, filter, opts, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (r *mongoRepository) SetFileState(ctx context.Context, id string, state models.Lifecycle) error {
	matched, err := r.Collection(filesCollection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"state": state})
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func orderByIDs(batches []models.Batch, ids []string) []models.Batch {
	position := make(map[string]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}
	ordered := make([]models.Batch, len(ids))
	present := make([]bool, len(ids))
	for _, batch := range batches {
		if i, ok := position[batch.ID]; ok {
			ordered[i] = batch
			present[i] = true
		}
	}
	result := make([]models.Batch, 0, len(batches))
	for i := range ordered {
		if present[i] {
			result = append(result, ordered[i])
		}
	}
	return result
}
