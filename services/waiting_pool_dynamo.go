package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"klymo_server/models"
	"klymo_server/utils"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// DynamoPool keeps one item per queued identity, keyed by deviceId. The
// partitionKey-orderKey GSI is the scan index; it is eventually consistent,
// so every state change goes through a conditional write on the base item.
type DynamoPool struct {
	Dynamo *DynamoService
	Table  string
	Index  string
	now    func() time.Time
}

func NewDynamoPool(dynamo *DynamoService, table string, now func() time.Time) *DynamoPool {
	if now == nil {
		now = time.Now
	}
	return &DynamoPool{Dynamo: dynamo, Table: table, Index: models.WaitingPoolPartitionIndex, now: now}
}

func poolKey(identity string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"deviceId": &types.AttributeValueMemberS{Value: identity},
	}
}

func (p *DynamoPool) Enqueue(ctx context.Context, entry models.QueueEntry) error {
	ok, err := p.Dynamo.PutItemIf(ctx, p.Table, entry, "attribute_not_exists(deviceId)", nil, nil)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", entry.Identity, err)
	}
	if !ok {
		return ErrAlreadyQueued
	}
	return nil
}

func (p *DynamoPool) Dequeue(ctx context.Context, identity, partition string) error {
	_, ok, err := p.Dynamo.DeleteItemIf(ctx, p.Table, poolKey(identity),
		"attribute_exists(deviceId) AND partitionKey = :p",
		nil,
		map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: partition},
		},
	)
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", identity, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (p *DynamoPool) PeekOldest(ctx context.Context, partition string, limit int) ([]models.QueueEntry, error) {
	items, err := p.Dynamo.QueryItemsWithIndex(ctx, p.Table, p.Index,
		"partitionKey = :p",
		map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: partition},
		},
		nil,
		int32(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("peek partition %s: %w", partition, err)
	}

	entries := make([]models.QueueEntry, 0, len(items))
	for _, item := range items {
		var entry models.QueueEntry
		if err := attributevalue.UnmarshalMap(item, &entry); err != nil {
			log.WithError(err).WithField("partition", partition).Warn("⚠️ Skipping undecodable queue entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *DynamoPool) Claim(ctx context.Context, identity, partition, claimID string, lease time.Duration) error {
	now := p.now()
	ok, old, err := p.Dynamo.UpdateItemIf(ctx, p.Table, poolKey(identity),
		"SET claimedBy = :c, claimExpires = :exp",
		"attribute_exists(deviceId) AND partitionKey = :p AND "+
			"(attribute_not_exists(claimedBy) OR claimedBy = :c OR claimExpires < :now)",
		nil,
		map[string]types.AttributeValue{
			":c":   &types.AttributeValueMemberS{Value: claimID},
			":p":   &types.AttributeValueMemberS{Value: partition},
			":exp": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(lease).UnixNano(), 10)},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
		},
	)
	if err != nil {
		return fmt.Errorf("claim %s: %w", identity, err)
	}
	if ok {
		return nil
	}
	if len(old) == 0 || utils.ExtractString(old, "partitionKey") != partition {
		return ErrNotFound
	}
	return ErrClaimed
}

func (p *DynamoPool) Release(ctx context.Context, identity, claimID string) error {
	_, _, err := p.Dynamo.UpdateItemIf(ctx, p.Table, poolKey(identity),
		"REMOVE claimedBy, claimExpires",
		"claimedBy = :c",
		nil,
		map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: claimID},
		},
	)
	if err != nil {
		return fmt.Errorf("release %s: %w", identity, err)
	}
	return nil
}

func (p *DynamoPool) Commit(ctx context.Context, identity, claimID string) error {
	_, ok, err := p.Dynamo.DeleteItemIf(ctx, p.Table, poolKey(identity),
		"claimedBy = :c",
		nil,
		map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: claimID},
		},
	)
	if err != nil {
		return fmt.Errorf("commit %s: %w", identity, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (p *DynamoPool) Restore(ctx context.Context, entry models.QueueEntry) error {
	return p.Enqueue(ctx, entry)
}
