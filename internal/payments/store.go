package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/aws"
)

// Store persists payments, at most one per order.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// PutOp creates p inside a caller's transaction. The write fails if the order already has a
// payment.
func (s *Store) PutOp(p Payment) (types.TransactWriteItem, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.nowFunc().UTC()
	}
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal payment: %w", err)
	}
	cond := "attribute_not_exists(order_id)"
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: &cond,
	}}, nil
}

// Get returns (nil, nil) when the order has no payment.
func (s *Store) Get(ctx context.Context, orderID string) (*Payment, error) {
	consistent := true
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: &consistent,
	})
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Payment
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	return &p, nil
}
