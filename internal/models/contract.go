package models

import "time"

// Contract is an on-chain distributor deployment and the authoritative nonce counter
// for the batches it executes.
type Contract struct {
	Address      string    `bson:"_id"`
	TokenAddress string    `bson:"tokenAddress"`
	DeploymentTx string    `bson:"deploymentTx"`
	Nonce        uint64    `bson:"nonce"`
	State        Lifecycle `bson:"state"`
	CreatedAt    time.Time `bson:"createdAt"`
}
