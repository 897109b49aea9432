package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/aws"
)

var (
	ErrInProgress = fmt.Errorf("%w: request with this key is still in progress", apperr.ErrConflict)
	ErrKeyReused  = fmt.Errorf("%w: idempotency key reused with a different request", apperr.ErrConflict)
)

const createCond = "attribute_not_exists(idempotency_key)"

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long a key is remembered (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (s *Store) newRecord(key, ref, status string) Record {
	now := s.nowFunc().UTC()
	return Record{
		IdempotencyKey: key,
		Status:         status,
		Ref:            ref,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
}

// CreateIfNotExists creates a record with status IN_PROGRESS if the key does not exist.
// Returns (created=true, nil) if successfully created.
// Returns (created=false, nil) if the record already exists (caller should Get to inspect).
func (s *Store) CreateIfNotExists(ctx context.Context, key, ref string) (bool, error) {
	item, err := attributevalue.MarshalMap(s.newRecord(key, ref, StatusInProgress))
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(createCond),
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return false, nil
		}
		if aws.IsTransactionConflict(err) {
			return false, fmt.Errorf("put item: %w", aws.ErrContention)
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// RecordOrphan stores a permanent ORPHANED record under key. The TTL attribute is left out so
// the record outlives the replay window. It reports false when the key already exists.
func (s *Store) RecordOrphan(ctx context.Context, key, ref, note string) (bool, error) {
	rec := s.newRecord(key, ref, StatusOrphaned)
	rec.Note = note
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}
	delete(item, "expires_at")
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(createCond),
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item (orphan): %w", err)
	}
	return true, nil
}

// Reclaim moves a FAILED record back to IN_PROGRESS so the request can be retried.
// It reports false when another caller already holds or finished the key.
func (s *Store) Reclaim(ctx context.Context, key string) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                s.table(),
		Key:                      recordKey(key),
		UpdateExpression:         awsString("SET #s = :inprogress, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :failed"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":ua":         &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("update item (reclaim): %w", err)
	}
	return true, nil
}

// CompletedOp returns a Put of a DONE record, conditioned on the key being new, for callers
// that commit the key together with the work it protects.
func (s *Store) CompletedOp(key, ref, requestHash, responseBody string, responseStatus int) (types.TransactWriteItem, error) {
	rec := s.newRecord(key, ref, StatusDone)
	rec.RequestHash = requestHash
	rec.ResponseBody = responseBody
	rec.ResponseStatus = responseStatus
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal record: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           s.table(),
		Item:                item,
		ConditionExpression: awsString(createCond),
	}}, nil
}

// Replay resolves an existing record for a request carrying requestHash. It returns the
// stored response when the earlier request completed, ErrKeyReused for a different payload
// and ErrInProgress otherwise.
func (s *Store) Replay(ctx context.Context, key, requestHash string) (*Record, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if rec.RequestHash != "" && rec.RequestHash != requestHash {
		return nil, ErrKeyReused
	}
	if rec.Status != StatusDone {
		return nil, ErrInProgress
	}
	return rec, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      s.table(),
		Key:            recordKey(key),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores a small response body & status.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                s.table(),
		Key:                      recordKey(key),
		UpdateExpression:         awsString("SET #s = :done, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(idempotency_key)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":rb":   &types.AttributeValueMemberS{Value: responseBody},
			":rs":   &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
			":ua":   &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the record as FAILED with a note, releasing the key for a retry.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                s.table(),
		Key:                      recordKey(key),
		UpdateExpression:         awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(idempotency_key)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

// IsDuplicate reports whether err is a lost create condition, either from PutItem or from
// the transaction item at index i.
func IsDuplicate(err error, i int) bool {
	return aws.IsConditionFailed(err) || aws.CancelledAt(err, i)
}

func (s *Store) table() *string { return &s.tableName }

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func awsString(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }
