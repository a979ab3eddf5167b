package models

import "time"

const (
	EventStatusPending   = "pending"
	EventStatusExecuting = "executing"
	EventStatusCompleted = "completed"
)

// Event is one distribution run against a contract.
type Event struct {
	ID          string    `bson:"_id"`
	Contract    string    `bson:"contract"`
	InitiatedBy string    `bson:"initiatedBy"`
	Timestamp   time.Time `bson:"timestamp"`
	Status      string    `bson:"status"`
	State       Lifecycle `bson:"state"`
	FileID      string    `bson:"fileId,omitempty"`
}

// File describes an uploaded recipient manifest. Cloned events share the same file.
type File struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	Path           string    `bson:"path"`
	NumOfTokens    string    `bson:"numOfTokens"`
	NumOfTransfers int       `bson:"numOfTransfers"`
	State          Lifecycle `bson:"state"`
}
