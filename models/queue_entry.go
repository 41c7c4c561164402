package models

import (
	"fmt"
	"time"
)

// QueueEntry is one waiting identity in the pool.
type QueueEntry struct {
	Identity        string    `dynamodbav:"deviceId" json:"deviceId"`         // Partition Key
	PartitionKey    string    `dynamodbav:"partitionKey" json:"partitionKey"` // GSI partition: own verified attribute
	WantedAttribute string    `dynamodbav:"wantedAttribute" json:"wantedAttribute"`
	EnqueuedAt      time.Time `dynamodbav:"enqueuedAt" json:"enqueuedAt"`
	Seq             uint64    `dynamodbav:"seq" json:"seq"`           // Insertion counter, breaks EnqueuedAt ties
	OrderKey        string    `dynamodbav:"orderKey" json:"orderKey"` // GSI sort key
}

// BuildOrderKey renders (enqueuedAt, seq) as a string whose lexical order is
// the pool order.
func BuildOrderKey(enqueuedAt time.Time, seq uint64) string {
	return fmt.Sprintf("%020d#%020d", enqueuedAt.UnixNano(), seq)
}

// Before reports whether e sorts ahead of other within a partition.
func (e QueueEntry) Before(other QueueEntry) bool {
	if !e.EnqueuedAt.Equal(other.EnqueuedAt) {
		return e.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return e.Seq < other.Seq
}

// PairingAttempt is a candidate pairing produced by the match engine. It is
// never persisted.
type PairingAttempt struct {
	Requester       string
	Candidate       string
	TargetPartition string
}
