package addresses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/aws"
)

// Address is a shipping address owned by one user.
type Address struct {
	AddressID string `dynamodbav:"address_id" json:"address_id"`
	UserID    string `dynamodbav:"user_id" json:"user_id"`
	Name      string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Line1     string `dynamodbav:"line1,omitempty" json:"line1,omitempty"`
	City      string `dynamodbav:"city,omitempty" json:"city,omitempty"`
	State     string `dynamodbav:"state,omitempty" json:"state,omitempty"`
	Pincode   string `dynamodbav:"pincode" json:"pincode"`
	IsDefault bool   `dynamodbav:"is_default,omitempty" json:"is_default,omitempty"`
}

// Store is a read model over the addresses table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Get returns the address only when it belongs to userID; otherwise (nil, nil).
func (s *Store) Get(ctx context.Context, addressID, userID string) (*Address, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"address_id": &types.AttributeValueMemberS{Value: addressID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var a Address
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	if a.UserID != userID {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) Put(ctx context.Context, a Address) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal address: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put address: %w", err)
	}
	return nil
}
