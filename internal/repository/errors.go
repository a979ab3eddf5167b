package repository

import (
	"context"
	"distribution_engine/internal/models"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrDuplicate is returned by inserts that collide with an existing key.
var ErrDuplicate = errors.New("duplicate key")

// classify maps driver errors onto the engine's error taxonomy. Errors that are
// already classified, and context errors, pass through untouched.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrStoreUnavailable),
		errors.Is(err, models.ErrConcurrencyConflict), errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrNoBatches), errors.Is(err, ErrDuplicate):
		return err
	case errors.Is(err, mongo.ErrNoDocuments):
		return models.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case isTransient(err):
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}

// isTransient reports connectivity failures worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"server selection", "connection refused", "connection reset", "no reachable servers"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
