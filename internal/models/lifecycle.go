package models

// Lifecycle is the tombstone state shared by contracts, events and files. Nothing is
// hard-deleted in normal operation.
type Lifecycle string

const (
	LifecycleActive  Lifecycle = "active"
	LifecycleDeleted Lifecycle = "deleted"
)

func (l Lifecycle) IsActive() bool { return l == LifecycleActive }
