package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// DynamoAPI is the subset of the DynamoDB client the stores use.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type DynamoService struct {
	Client DynamoAPI
}

// InitializeDynamoDBClient initializes the DynamoDB client. A non-empty
// endpoint points the client at DynamoDB Local or another compatible server.
func InitializeDynamoDBClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// conditionFailed unwraps a ConditionalCheckFailedException. The old item is
// returned when the request asked for ALL_OLD on failure.
func conditionFailed(err error) (map[string]types.AttributeValue, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf.Item, true
	}
	return nil, false
}

// PutItemIf inserts item only when condition holds. It reports false, nil
// when the condition failed.
func (ds *DynamoService) PutItemIf(
	ctx context.Context,
	tableName string,
	item interface{},
	condition string,
	expressionAttributeNames map[string]string,
	expressionAttributeValues map[string]types.AttributeValue,
) (bool, error) {
	marshaledItem, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, fmt.Errorf("failed to marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      marshaledItem,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}
	if len(expressionAttributeNames) > 0 {
		input.ExpressionAttributeNames = expressionAttributeNames
	}
	if len(expressionAttributeValues) > 0 {
		input.ExpressionAttributeValues = expressionAttributeValues
	}

	if _, err := ds.Client.PutItem(ctx, input); err != nil {
		if _, ok := conditionFailed(err); ok {
			return false, nil
		}
		return false, fmt.Errorf("failed to put item in table '%s': %w", tableName, err)
	}
	return true, nil
}

// PutItem inserts or replaces item unconditionally.
func (ds *DynamoService) PutItem(ctx context.Context, tableName string, item interface{}) error {
	_, err := ds.PutItemIf(ctx, tableName, item, "", nil, nil)
	return err
}

// GetItem retrieves an item from DynamoDB. A missing item is returned as nil
// without error.
func (ds *DynamoService) GetItem(ctx context.Context, tableName string, key map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	output, err := ds.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(tableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from table '%s': %w", tableName, err)
	}
	return output.Item, nil
}

// UpdateItemIf applies updateExpression when condition holds. On a failed
// condition it reports false and the item as it was, if any.
func (ds *DynamoService) UpdateItemIf(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	updateExpression string,
	condition string,
	expressionAttributeNames map[string]string,
	expressionAttributeValues map[string]types.AttributeValue,
) (bool, map[string]types.AttributeValue, error) {
	if len(key) == 0 {
		return false, nil, errors.New("update failed: key cannot be empty")
	}
	if updateExpression == "" {
		return false, nil, errors.New("update failed: updateExpression cannot be empty")
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                           aws.String(tableName),
		Key:                                 key,
		UpdateExpression:                    aws.String(updateExpression),
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}
	if len(expressionAttributeNames) > 0 {
		input.ExpressionAttributeNames = expressionAttributeNames
	}
	if len(expressionAttributeValues) > 0 {
		input.ExpressionAttributeValues = expressionAttributeValues
	}

	output, err := ds.Client.UpdateItem(ctx, input)
	if err != nil {
		if old, ok := conditionFailed(err); ok {
			return false, old, nil
		}
		log.WithField("table", tableName).WithError(err).Error("❌ UpdateItem failed")
		return false, nil, fmt.Errorf("failed to update item in table '%s': %w", tableName, err)
	}
	return true, output.Attributes, nil
}

// DeleteItemIf removes an item when condition holds. It returns the deleted
// item, or ok=false when the condition failed.
func (ds *DynamoService) DeleteItemIf(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	condition string,
	expressionAttributeNames map[string]string,
	expressionAttributeValues map[string]types.AttributeValue,
) (map[string]types.AttributeValue, bool, error) {
	input := &dynamodb.DeleteItemInput{
		TableName:    aws.String(tableName),
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}
	if len(expressionAttributeNames) > 0 {
		input.ExpressionAttributeNames = expressionAttributeNames
	}
	if len(expressionAttributeValues) > 0 {
		input.ExpressionAttributeValues = expressionAttributeValues
	}

	output, err := ds.Client.DeleteItem(ctx, input)
	if err != nil {
		if _, ok := conditionFailed(err); ok {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to delete item from table '%s': %w", tableName, err)
	}
	return output.Attributes, true, nil
}

// QueryItemsWithIndex queries a Global Secondary Index in ascending sort key
// order.
func (ds *DynamoService) QueryItemsWithIndex(
	ctx context.Context,
	tableName string,
	indexName string,
	keyConditionExpression string,
	expressionAttributeValues map[string]types.AttributeValue,
	expressionAttributeNames map[string]string,
	limit int32,
) ([]map[string]types.AttributeValue, error) {
	output, err := ds.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(tableName),
		IndexName:                 aws.String(indexName),
		KeyConditionExpression:    aws.String(keyConditionExpression),
		ExpressionAttributeValues: expressionAttributeValues,
		ExpressionAttributeNames:  expressionAttributeNames,
		ScanIndexForward:          aws.Bool(true),
		Limit:                     aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query GSI '%s': %w", indexName, err)
	}
	return output.Items, nil
}
