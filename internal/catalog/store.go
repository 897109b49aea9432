package catalog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
)

// Store reads products and per-pincode availability.
type Store struct {
	client            aws.DynamoDBAPI
	productsTable     string
	availabilityTable string
}

func NewStore(client aws.DynamoDBAPI, productsTable, availabilityTable string) *Store {
	return &Store{
		client:            client,
		productsTable:     productsTable,
		availabilityTable: availabilityTable,
	}
}

// GetProduct returns (nil, nil) if the product does not exist.
func (s *Store) GetProduct(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.productsTable,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it productItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &Product{
		ProductID:     it.ProductID,
		Name:          it.Name,
		Price:         pricing.ParseAmount(it.Price),
		DiscountPrice: pricing.ParseAmount(it.DiscountPrice),
	}, nil
}

// PutProduct stores p with prices as fixed 2-place strings.
func (s *Store) PutProduct(ctx context.Context, p Product) error {
	it := productItem{
		ProductID: p.ProductID,
		Name:      p.Name,
		Price:     pricing.Format(p.Price),
	}
	if p.DiscountPrice.IsPositive() {
		it.DiscountPrice = pricing.Format(p.DiscountPrice)
	}
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.productsTable, Item: item}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// GetAvailability returns (nil, nil) when no record exists for the pair.
func (s *Store) GetAvailability(ctx context.Context, productID, pincode string) (*Availability, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.availabilityTable,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
			"pincode":    &types.AttributeValueMemberS{Value: pincode},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var a Availability
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal availability: %w", err)
	}
	return &a, nil
}

func (s *Store) PutAvailability(ctx context.Context, a Availability) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.availabilityTable, Item: item}); err != nil {
		return fmt.Errorf("put availability: %w", err)
	}
	return nil
}
