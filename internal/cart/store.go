package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/inventory"
)

// MaxLines bounds a cart so an order built from it fits a single transaction.
const MaxLines = 90

const maxAttempts = 3

// Store persists cart lines. Every change of a line's quantity commits together with the
// matching ledger reservation or release.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ledger    *inventory.Ledger
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string, ledger *inventory.Ledger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ledger:    ledger,
		nowFunc:   time.Now,
	}
}

// Lines returns every line of userID's cart, oldest first by line id order.
func (s *Store) Lines(ctx context.Context, userID string) ([]Line, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: str("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	var lines []Line
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return lines, nil
}

// Get returns ErrLineNotFound when the line does not exist.
func (s *Store) Get(ctx context.Context, userID, lineID string) (*Line, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            lineKey(userID, lineID),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get cart line: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrLineNotFound
	}
	var l Line
	if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
		return nil, fmt.Errorf("unmarshal cart line: %w", err)
	}
	return &l, nil
}

// Add reserves qty of (productID, size) and adds it to the cart, merging with an existing
// line for the same pair.
func (s *Store) Add(ctx context.Context, userID, productID, size string, qty int) (*Line, error) {
	if qty < 1 {
		return nil, inventory.ErrInvalidQuantity
	}
	lines, err := s.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	lineID := LineID(productID, size)
	if len(lines) >= MaxLines && !containsLine(lines, lineID) {
		return nil, ErrCartTooLarge
	}

	key := inventory.Key{ProductID: productID, Size: size}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				s.ledger.ReserveOp(key, qty),
				s.incrementOp(userID, lineID, productID, size, qty),
			},
		})
		if err == nil {
			return s.Get(ctx, userID, lineID)
		}
		if aws.IsTransactionConflict(err) {
			continue
		}
		if inventory.IsStockFailure(err, 0) {
			return nil, s.ledger.ClassifyReservation(ctx, key)
		}
		return nil, fmt.Errorf("add to cart: %w", err)
	}
	return nil, aws.ErrContention
}

// SetQuantity moves a line to qty, reserving or releasing the difference.
func (s *Store) SetQuantity(ctx context.Context, userID, lineID string, qty int) (*Line, error) {
	if qty < 1 {
		return nil, inventory.ErrInvalidQuantity
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		line, err := s.Get(ctx, userID, lineID)
		if err != nil {
			return nil, err
		}
		diff := qty - line.Quantity
		if diff == 0 {
			return line, nil
		}

		stockOp := s.ledger.ReserveOp(line.Key(), diff)
		if diff < 0 {
			stockOp = s.ledger.ReleaseOp(line.Key(), -diff)
		}
		now := s.nowFunc().UTC()
		_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				stockOp,
				{Update: &types.Update{
					TableName:           &s.tableName,
					Key:                 lineKey(userID, lineID),
					UpdateExpression:    str("SET quantity = :q, updated_at = :ua"),
					ConditionExpression: str("quantity = :old"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":q":   num(qty),
						":old": num(line.Quantity),
						":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
					},
				}},
			},
		})
		if err == nil {
			line.Quantity = qty
			line.UpdatedAt = now
			return line, nil
		}
		if aws.IsTransactionConflict(err) || inventory.IsStockFailure(err, 1) {
			continue
		}
		if inventory.IsStockFailure(err, 0) {
			return nil, s.ledger.ClassifyReservation(ctx, line.Key())
		}
		return nil, fmt.Errorf("update cart quantity: %w", err)
	}
	return nil, ErrLineChanged
}

// ChangeSize moves a line to another size of the same product. The old stock is released and
// the new stock reserved in the same transaction, so a failed reservation leaves both
// counters and the line untouched.
func (s *Store) ChangeSize(ctx context.Context, userID, lineID, size string) (*Line, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		line, err := s.Get(ctx, userID, lineID)
		if err != nil {
			return nil, err
		}
		if line.Size == size {
			return line, nil
		}

		newKey := inventory.Key{ProductID: line.ProductID, Size: size}
		newID := LineID(line.ProductID, size)
		_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				s.ledger.ReserveOp(newKey, line.Quantity),
				s.ledger.ReleaseOp(line.Key(), line.Quantity),
				s.deleteOp(userID, lineID, line.Quantity),
				s.incrementOp(userID, newID, line.ProductID, size, line.Quantity),
			},
		})
		if err == nil {
			return s.Get(ctx, userID, newID)
		}
		if aws.IsTransactionConflict(err) || inventory.IsStockFailure(err, 2) {
			continue
		}
		if inventory.IsStockFailure(err, 0) {
			return nil, s.ledger.ClassifyReservation(ctx, newKey)
		}
		return nil, fmt.Errorf("change cart size: %w", err)
	}
	return nil, ErrLineChanged
}

// Remove deletes a line and returns its stock. Removing a missing line is a no-op.
func (s *Store) Remove(ctx context.Context, userID, lineID string) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		line, err := s.Get(ctx, userID, lineID)
		if errors.Is(err, ErrLineNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				s.ledger.ReleaseOp(line.Key(), line.Quantity),
				s.deleteOp(userID, lineID, line.Quantity),
			},
		})
		if err == nil {
			return nil
		}
		if aws.IsTransactionConflict(err) || inventory.IsStockFailure(err, 1) {
			continue
		}
		return fmt.Errorf("remove cart line: %w", err)
	}
	return ErrLineChanged
}

// HandOverOps returns the writes that move the ordered quantities out of userID's cart, for
// callers that commit them with a paid order in their own transaction. Each (product, size)
// line loses exactly the ordered quantity and is deleted when nothing is left. The ledger is
// not touched: those reserved units now belong to the order. Other lines and any surplus
// quantity stay in the cart with their reservations. ErrCartMismatch means the cart no
// longer holds what was ordered.
func (s *Store) HandOverOps(ctx context.Context, userID string, moves []inventory.Movement) ([]types.TransactWriteItem, error) {
	want := map[inventory.Key]int{}
	var keys []inventory.Key
	for _, m := range moves {
		if m.Quantity < 1 {
			continue
		}
		if _, ok := want[m.Key]; !ok {
			keys = append(keys, m.Key)
		}
		want[m.Key] += m.Quantity
	}

	ops := make([]types.TransactWriteItem, 0, len(keys))
	for _, k := range keys {
		lineID := LineID(k.ProductID, k.Size)
		line, err := s.Get(ctx, userID, lineID)
		if errors.Is(err, ErrLineNotFound) {
			return nil, fmt.Errorf("%w: %s size %s", ErrCartMismatch, k.ProductID, k.Size)
		}
		if err != nil {
			return nil, err
		}
		qty := want[k]
		switch {
		case line.Quantity < qty:
			return nil, fmt.Errorf("%w: %s size %s", ErrCartMismatch, k.ProductID, k.Size)
		case line.Quantity == qty:
			ops = append(ops, s.deleteOp(userID, lineID, qty))
		default:
			ops = append(ops, s.decrementOp(userID, lineID, qty))
		}
	}
	return ops, nil
}

func (s *Store) incrementOp(userID, lineID, productID, size string, qty int) types.TransactWriteItem {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                &s.tableName,
		Key:                      lineKey(userID, lineID),
		UpdateExpression:         str("SET product_id = :p, #sz = :s, quantity = if_not_exists(quantity, :zero) + :q, created_at = if_not_exists(created_at, :now), updated_at = :now"),
		ExpressionAttributeNames: map[string]string{"#sz": "size"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":    &types.AttributeValueMemberS{Value: productID},
			":s":    &types.AttributeValueMemberS{Value: size},
			":q":    num(qty),
			":zero": num(0),
			":now":  &types.AttributeValueMemberS{Value: now},
		},
	}}
}

func (s *Store) deleteOp(userID, lineID string, expectedQty int) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:                 &s.tableName,
		Key:                       lineKey(userID, lineID),
		ConditionExpression:       str("quantity = :old"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":old": num(expectedQty)},
	}}
}

func (s *Store) decrementOp(userID, lineID string, qty int) types.TransactWriteItem {
	return types.TransactWriteItem{Update: &types.Update{
		TableName:           &s.tableName,
		Key:                 lineKey(userID, lineID),
		UpdateExpression:    str("SET quantity = quantity - :q, updated_at = :ua"),
		ConditionExpression: str("quantity > :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  num(qty),
			":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	}}
}

func containsLine(lines []Line, lineID string) bool {
	for _, l := range lines {
		if l.LineID == lineID {
			return true
		}
	}
	return false
}

func lineKey(userID, lineID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
		"line_id": &types.AttributeValueMemberS{Value: lineID},
	}
}

func num(n int) types.AttributeValue { return &types.AttributeValueMemberN{Value: strconv.Itoa(n)} }
func str(s string) *string           { return &s }
func boolPtr(b bool) *bool           { return &b }
