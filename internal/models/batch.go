package models

import (
	"fmt"
	"time"
)

type BatchStatus int

const (
	BatchStatusPending BatchStatus = iota
	BatchStatusSigned
	BatchStatusExecuting
	BatchStatusCompleted
	BatchStatusFailed
)

func (s BatchStatus) String() string {
	switch s {
	case BatchStatusPending:
		return "PENDING"
	case BatchStatusSigned:
		return "SIGNED"
	case BatchStatusExecuting:
		return "EXECUTING"
	case BatchStatusCompleted:
		return "COMPLETED"
	case BatchStatusFailed:
		return "FAILED"
	}
	return fmt.Sprintf("BatchStatus(%d)", int(s))
}

func (s BatchStatus) IsValid() bool {
	return s >= BatchStatusPending && s <= BatchStatusFailed
}

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// Batch is immutable content: Balances[i] is paid to Addresses[i]. Amounts are base-10
// integer strings in the token's smallest unit.
type Batch struct {
	ID         string   `bson:"_id"`
	Addresses  []string `bson:"addresses"`
	Balances   []string `bson:"balances"`
	BatchValue string   `bson:"batchValue"`
}

// Execution is the mutable per-(event, batch) record of signing, broadcast and
// confirmation state. A cloned event gets fresh executions over the same batches.
type Execution struct {
	EventID          string      `bson:"eventId"`
	BatchID          string      `bson:"batchId"`
	Status           BatchStatus `bson:"status"`
	Signature        string      `bson:"batchSignature,omitempty"`
	Nonce            *uint64     `bson:"nonce,omitempty"`
	TxHash           string      `bson:"txHash,omitempty"`
	BlockNumber      *uint64     `bson:"blockNumber,omitempty"`
	TransactionIndex *uint       `bson:"transactionIndex,omitempty"`
	Input            string      `bson:"input,omitempty"`
	UpdatedAt        time.Time   `bson:"updatedAt"`
}

// NewExecution returns the PENDING execution every batch starts with.
func NewExecution(eventID, batchID string, now time.Time) *Execution {
	return &Execution{
		EventID:   eventID,
		BatchID:   batchID,
		Status:    BatchStatusPending,
		UpdatedAt: now,
	}
}
