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
)

// Counter rows outlive their day by this much before DynamoDB TTL reaps them.
const usageRetention = 48 * time.Hour

// DynamoLimitStore keeps usage counters and cooldown marks in two tables,
// both keyed by deviceId.
type DynamoLimitStore struct {
	Dynamo         *DynamoService
	UsageTable     string
	CooldownsTable string
	now            func() time.Time
}

func NewDynamoLimitStore(dynamo *DynamoService, usageTable, cooldownsTable string, now func() time.Time) *DynamoLimitStore {
	if now == nil {
		now = time.Now
	}
	return &DynamoLimitStore{Dynamo: dynamo, UsageTable: usageTable, CooldownsTable: cooldownsTable, now: now}
}

func (s *DynamoLimitStore) Usage(ctx context.Context, identity, day string) (int, error) {
	item, err := s.Dynamo.GetItem(ctx, s.UsageTable, utils.StringKey("deviceId", identity))
	if err != nil {
		return 0, err
	}
	if item == nil || utils.ExtractString(item, "date") != day {
		return 0, nil
	}
	return utils.ExtractInt(item, "matchCount"), nil
}

// IncrementUsage adds one to today's counter. A row left over from an
// earlier day is overwritten with a count of one instead.
func (s *DynamoLimitStore) IncrementUsage(ctx context.Context, identity, day string) (int, error) {
	key := utils.StringKey("deviceId", identity)
	names := map[string]string{"#date": "date"}
	values := map[string]types.AttributeValue{
		":day": &types.AttributeValueMemberS{Value: day},
		":one": &types.AttributeValueMemberN{Value: "1"},
		":exp": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(usageRetention).Unix(), 10)},
	}

	for attempt := 0; attempt < 3; attempt++ {
		ok, item, err := s.Dynamo.UpdateItemIf(ctx, s.UsageTable, key,
			"SET #date = :day, expiresAt = :exp ADD matchCount :one",
			"attribute_not_exists(deviceId) OR #date = :day",
			names, values,
		)
		if err != nil {
			return 0, err
		}
		if ok {
			return utils.ExtractInt(item, "matchCount"), nil
		}

		ok, item, err = s.Dynamo.UpdateItemIf(ctx, s.UsageTable, key,
			"SET #date = :day, expiresAt = :exp, matchCount = :one",
			"#date <> :day",
			names, values,
		)
		if err != nil {
			return 0, err
		}
		if ok {
			return utils.ExtractInt(item, "matchCount"), nil
		}
		// Another writer rolled the day over first; add to its row.
	}
	return 0, fmt.Errorf("increment usage for %s: too much contention", identity)
}

func (s *DynamoLimitStore) Cooldown(ctx context.Context, identity string) (time.Time, bool, error) {
	item, err := s.Dynamo.GetItem(ctx, s.CooldownsTable, utils.StringKey("deviceId", identity))
	if err != nil {
		return time.Time{}, false, err
	}
	if item == nil {
		return time.Time{}, false, nil
	}
	var mark models.CooldownMark
	if err := attributevalue.UnmarshalMap(item, &mark); err != nil {
		return time.Time{}, false, fmt.Errorf("decode cooldown for %s: %w", identity, err)
	}
	return mark.ExpiresAt, true, nil
}

func (s *DynamoLimitStore) SetCooldown(ctx context.Context, mark models.CooldownMark) error {
	mark.TTL = mark.ExpiresAt.Add(time.Minute).Unix()
	return s.Dynamo.PutItem(ctx, s.CooldownsTable, mark)
}
