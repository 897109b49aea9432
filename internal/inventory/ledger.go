package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/aws"
)

const (
	reserveExpr = "SET stock = stock - :qty"
	reserveCond = "attribute_exists(unit_key) AND stock >= :qty"
	releaseExpr = "SET stock = stock + :qty"
	releaseCond = "attribute_exists(unit_key)"
)

// Ledger owns the per-(product, size) stock counters. Every mutation is a single conditional
// write on one item, so concurrent reservations on the same key are serialized by DynamoDB.
type Ledger struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewLedger creates a Ledger over the inventory table.
func NewLedger(client aws.DynamoDBAPI, tableName string) *Ledger {
	return &Ledger{client: client, tableName: tableName}
}

// Get returns the unit for key or ErrUnitNotFound.
func (l *Ledger) Get(ctx context.Context, key Key) (*Unit, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.tableName,
		Key:            unitKey(key),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrUnitNotFound
	}
	var u Unit
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal unit: %w", err)
	}
	return &u, nil
}

// SetStock creates or overwrites the counter for key.
func (l *Ledger) SetStock(ctx context.Context, key Key, stock int) error {
	if stock < 0 {
		return fmt.Errorf("stock must not be negative: %d", stock)
	}
	item, err := attributevalue.MarshalMap(Unit{UnitKey: key.String(), ProductID: key.ProductID, Size: key.Size, Stock: stock})
	if err != nil {
		return fmt.Errorf("marshal unit: %w", err)
	}
	if _, err := l.client.PutItem(ctx, &dyn.PutItemInput{TableName: &l.tableName, Item: item}); err != nil {
		return fmt.Errorf("put unit: %w", err)
	}
	return nil
}

// Reserve takes qty units out of stock, or fails without mutation when fewer remain.
func (l *Ledger) Reserve(ctx context.Context, key Key, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	op := l.ReserveOp(key, qty).Update
	_, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 op.TableName,
		Key:                       op.Key,
		UpdateExpression:          op.UpdateExpression,
		ConditionExpression:       op.ConditionExpression,
		ExpressionAttributeValues: op.ExpressionAttributeValues,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return l.classify(ctx, key)
		}
		if aws.IsTransactionConflict(err) {
			return fmt.Errorf("reserve %s: %w", key, aws.ErrContention)
		}
		return fmt.Errorf("reserve %s: %w", key, err)
	}
	return nil
}

// Release returns qty units to stock.
func (l *Ledger) Release(ctx context.Context, key Key, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	op := l.ReleaseOp(key, qty).Update
	_, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 op.TableName,
		Key:                       op.Key,
		UpdateExpression:          op.UpdateExpression,
		ConditionExpression:       op.ConditionExpression,
		ExpressionAttributeValues: op.ExpressionAttributeValues,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrUnitNotFound
		}
		if aws.IsTransactionConflict(err) {
			return fmt.Errorf("release %s: %w", key, aws.ErrContention)
		}
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// ReserveOp is Reserve as a transaction item, for callers that commit the reservation
// together with their own writes.
func (l *Ledger) ReserveOp(key Key, qty int) types.TransactWriteItem {
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                 &l.tableName,
		Key:                       unitKey(key),
		UpdateExpression:          strPtr(reserveExpr),
		ConditionExpression:       strPtr(reserveCond),
		ExpressionAttributeValues: qtyValues(qty),
	}}
}

// ReleaseOp is Release as a transaction item.
func (l *Ledger) ReleaseOp(key Key, qty int) types.TransactWriteItem {
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                 &l.tableName,
		Key:                       unitKey(key),
		UpdateExpression:          strPtr(releaseExpr),
		ConditionExpression:       strPtr(releaseCond),
		ExpressionAttributeValues: qtyValues(qty),
	}}
}

// ReleaseAll returns every movement to stock in one transaction together with extra items
// (typically an idempotency marker). Quantities for the same key are merged.
func (l *Ledger) ReleaseAll(ctx context.Context, moves []Movement, extra ...types.TransactWriteItem) error {
	merged := map[Key]int{}
	var order []Key
	for _, m := range moves {
		if m.Quantity < 1 {
			continue
		}
		if _, ok := merged[m.Key]; !ok {
			order = append(order, m.Key)
		}
		merged[m.Key] += m.Quantity
	}
	items := make([]types.TransactWriteItem, 0, len(order)+len(extra))
	for _, k := range order {
		items = append(items, l.ReleaseOp(k, merged[k]))
	}
	items = append(items, extra...)
	if len(items) == 0 {
		return nil
	}
	_, err := l.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("release all: %w", err)
	}
	return nil
}

// IsStockFailure reports whether a cancelled transaction failed on a ledger item at index i.
// Callers use it to tell an insufficient stock reservation apart from their own conditions.
func IsStockFailure(err error, i int) bool {
	return aws.CancelledAt(err, i)
}

// classify distinguishes a missing unit from an exhausted one after a failed condition.
func (l *Ledger) classify(ctx context.Context, key Key) error {
	if _, err := l.Get(ctx, key); err != nil {
		return err
	}
	return ErrInsufficientStock
}

// ClassifyReservation resolves a failed transactional reservation of key.
func (l *Ledger) ClassifyReservation(ctx context.Context, key Key) error {
	return l.classify(ctx, key)
}

func unitKey(k Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"unit_key": &types.AttributeValueMemberS{Value: k.String()},
	}
}

func qtyValues(qty int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":qty": &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
