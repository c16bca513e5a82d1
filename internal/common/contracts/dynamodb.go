package contracts

import (
	"context"
	"fmt"
	"strconv"

	"rfq-workers/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBLookup.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoDBLookup reads contract items keyed by the string attribute "id".
type DynamoDBLookup struct {
	client DynamoDBAPI
	table  string
}

func NewDynamoDBLookup(client DynamoDBAPI, table string) *DynamoDBLookup {
	return &DynamoDBLookup{client: client, table: table}
}

func (l *DynamoDBLookup) Lookup(ctx context.Context, stackID string) (*models.ContractRecord, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.table),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: stackID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get contract item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrStackNotFound
	}

	rec := &models.ContractRecord{
		StackID:  stackID,
		Services: make(map[models.Category]models.ServiceContract, len(models.Categories)),
	}
	for _, c := range models.Categories {
		svc := models.ServiceContract{}
		if s, ok := out.Item[c.EndpointsKey()].(*types.AttributeValueMemberS); ok {
			svc.Endpoints = models.ParseEndpoints(s.Value)
		}
		value, err := numberAttribute(out.Item[c.ContractValueKey()])
		if err != nil {
			return nil, fmt.Errorf("stack %s: %s: %w", stackID, c.ContractValueKey(), err)
		}
		svc.ContractValue = value
		rec.Services[c] = svc
	}
	return rec, nil
}

// numberAttribute accepts N attributes and numeric strings; anything else is treated as absent.
func numberAttribute(av types.AttributeValue) (*float64, error) {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		if v.Value == "" {
			return nil, nil
		}
		raw = v.Value
	default:
		return nil, nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", raw)
	}
	return &f, nil
}
