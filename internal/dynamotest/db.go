// Package dynamotest provides an in-memory DynamoDB for store tests.
//
// It understands the expression subset the stores issue: AND-joined conditions over
// attribute_exists / attribute_not_exists / comparisons, SET and REMOVE update clauses with
// if_not_exists and +/- arithmetic, and key conditions with an optional sort-key comparison.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// KeySpec names the partition and (optional) sort key attributes.
type KeySpec struct {
	PK string
	SK string
}

// TableSpec describes a table and its secondary indexes.
type TableSpec struct {
	Name    string
	Key     KeySpec
	Indexes map[string]KeySpec
}

type table struct {
	spec  TableSpec
	items map[string]Item
}

// DB is a mutex-guarded in-memory DynamoDB.
type DB struct {
	mu     sync.Mutex
	tables map[string]*table

	failNext map[string][]error
	calls    map[string]int
}

// New returns a DB with the given tables created.
func New(specs ...TableSpec) *DB {
	db := &DB{
		tables:   map[string]*table{},
		failNext: map[string][]error{},
		calls:    map[string]int{},
	}
	for _, s := range specs {
		db.CreateTable(s)
	}
	return db
}

// CreateTable registers a table; recreating an existing table drops its items.
func (db *DB) CreateTable(spec TableSpec) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[spec.Name] = &table{spec: spec, items: map[string]Item{}}
}

// FailNext makes the next call to op ("PutItem", "Query", ...) return err. Repeated calls
// queue failures for the following calls in order.
func (db *DB) FailNext(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failNext[op] = append(db.failNext[op], err)
}

// TransactionConflict builds the error DynamoDB returns when the item at index at of an
// n-item transaction was held by another transaction.
func TransactionConflict(n, at int) error {
	reasons := make([]types.CancellationReason, n)
	for i := range reasons {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
	}
	reasons[at] = types.CancellationReason{
		Code:    aws.String("TransactionConflict"),
		Message: aws.String("Transaction is ongoing for the item"),
	}
	return &types.TransactionCanceledException{
		Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
		CancellationReasons: reasons,
	}
}

// Calls returns how many times op was invoked.
func (db *DB) Calls(op string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[op]
}

// Items returns a copy of every item stored in tableName.
func (db *DB) Items(tableName string) []Item {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[tableName]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyItem(t.items[k]))
	}
	return out
}

// Seed stores item as-is, bypassing conditions.
func (db *DB) Seed(tableName string, item Item) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tables[tableName]
	k, err := t.keyOf(item)
	if err != nil {
		panic(err)
	}
	t.items[k] = copyItem(item)
}

func (db *DB) enter(op string) error {
	db.calls[op]++
	queued := db.failNext[op]
	if len(queued) == 0 {
		return nil
	}
	if len(queued) == 1 {
		delete(db.failNext, op)
	} else {
		db.failNext[op] = queued[1:]
	}
	return queued[0]
}

func (db *DB) table(name *string) (*table, error) {
	t, ok := db.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

func (t *table) keyOf(item Item) (string, error) {
	pk, ok := item[t.spec.Key.PK]
	if !ok {
		return "", fmt.Errorf("missing partition key %q", t.spec.Key.PK)
	}
	k := scalar(pk)
	if t.spec.Key.SK != "" {
		sk, ok := item[t.spec.Key.SK]
		if !ok {
			return "", fmt.Errorf("missing sort key %q", t.spec.Key.SK)
		}
		k += "|" + scalar(sk)
	}
	return k, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// PutItem implements the DynamoDB PutItem call.
func (db *DB) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("PutItem"); err != nil {
		return nil, err
	}
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := env.eval(aws.ToString(in.ConditionExpression), t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

// GetItem implements the DynamoDB GetItem call.
func (db *DB) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("GetItem"); err != nil {
		return nil, err
	}
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

// UpdateItem implements the DynamoDB UpdateItem call.
func (db *DB) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	updated, err := t.update(env, in.Key, aws.ToString(in.ConditionExpression), aws.ToString(in.UpdateExpression))
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues != "" && in.ReturnValues != types.ReturnValueNone {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

func (t *table) update(env exprEnv, key Item, cond, update string) (Item, error) {
	k, err := t.keyOf(key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	ok, err := env.eval(cond, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	next := copyItem(current)
	if next == nil {
		next = copyItem(key)
	}
	if err := env.apply(update, next); err != nil {
		return nil, err
	}
	t.items[k] = next
	return next, nil
}

// DeleteItem implements the DynamoDB DeleteItem call.
func (db *DB) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := env.eval(aws.ToString(in.ConditionExpression), t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	delete(t.items, k)
	return &dyn.DeleteItemOutput{}, nil
}

// Query implements the DynamoDB Query call against a table or one of its indexes.
func (db *DB) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("Query"); err != nil {
		return nil, err
	}
	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	keys := t.spec.Key
	if idx := aws.ToString(in.IndexName); idx != "" {
		ks, ok := t.spec.Indexes[idx]
		if !ok {
			return nil, fmt.Errorf("unknown index %q on %s", idx, t.spec.Name)
		}
		keys = ks
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}

	var matched []Item
	for _, item := range t.items {
		if _, ok := item[keys.PK]; !ok {
			continue
		}
		if keys.SK != "" {
			if _, ok := item[keys.SK]; !ok {
				continue
			}
		}
		ok, err := env.eval(aws.ToString(in.KeyConditionExpression), item)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if f := aws.ToString(in.FilterExpression); f != "" {
			ok, err := env.eval(f, item)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, item)
	}

	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.SliceStable(matched, func(i, j int) bool {
		var c int
		if keys.SK != "" {
			c = compare(matched[i][keys.SK], matched[j][keys.SK])
		}
		if c == 0 {
			ki, _ := t.keyOf(matched[i])
			kj, _ := t.keyOf(matched[j])
			c = strings.Compare(ki, kj)
		}
		if forward {
			return c < 0
		}
		return c > 0
	})
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
	}

	out := &dyn.QueryOutput{Count: int32(len(matched))}
	for _, item := range matched {
		out.Items = append(out.Items, copyItem(item))
	}
	return out, nil
}

// TransactWriteItems applies every write or none of them.
func (db *DB) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("TransactWriteItems"); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > 100 {
		return nil, errors.New("ValidationException: transaction exceeds 100 items")
	}
	if err := db.checkDistinctTargets(in.TransactItems); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, it := range in.TransactItems {
		ok, err := db.checkTransactItem(it)
		if err != nil {
			return nil, err
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
			continue
		}
		failed = true
		reasons[i] = types.CancellationReason{
			Code:    aws.String("ConditionalCheckFailed"),
			Message: aws.String("The conditional request failed"),
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			t, _ := db.table(it.Put.TableName)
			k, _ := t.keyOf(it.Put.Item)
			t.items[k] = copyItem(it.Put.Item)
		case it.Update != nil:
			t, _ := db.table(it.Update.TableName)
			env := exprEnv{names: it.Update.ExpressionAttributeNames, values: it.Update.ExpressionAttributeValues}
			if _, err := t.update(env, it.Update.Key, "", aws.ToString(it.Update.UpdateExpression)); err != nil {
				return nil, err
			}
		case it.Delete != nil:
			t, _ := db.table(it.Delete.TableName)
			k, _ := t.keyOf(it.Delete.Key)
			delete(t.items, k)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// checkDistinctTargets rejects transactions that touch the same item twice.
func (db *DB) checkDistinctTargets(items []types.TransactWriteItem) error {
	seen := make(map[string]int, len(items))
	for i, it := range items {
		var (
			tableName *string
			key       Item
		)
		switch {
		case it.Put != nil:
			tableName, key = it.Put.TableName, it.Put.Item
		case it.Update != nil:
			tableName, key = it.Update.TableName, it.Update.Key
		case it.Delete != nil:
			tableName, key = it.Delete.TableName, it.Delete.Key
		case it.ConditionCheck != nil:
			tableName, key = it.ConditionCheck.TableName, it.ConditionCheck.Key
		default:
			return errors.New("empty transact item")
		}
		t, err := db.table(tableName)
		if err != nil {
			return err
		}
		k, err := t.keyOf(key)
		if err != nil {
			return err
		}
		target := aws.ToString(tableName) + "\x00" + k
		if j, ok := seen[target]; ok {
			return &smithy.GenericAPIError{
				Code:    "ValidationException",
				Message: fmt.Sprintf("Transaction request cannot include multiple operations on one item (items %d and %d)", j, i),
			}
		}
		seen[target] = i
	}
	return nil
}

func (db *DB) checkTransactItem(it types.TransactWriteItem) (bool, error) {
	var (
		tableName *string
		key       Item
		cond      *string
		names     map[string]string
		values    map[string]types.AttributeValue
	)
	switch {
	case it.Put != nil:
		tableName, key, cond, names, values = it.Put.TableName, it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues
	case it.Update != nil:
		tableName, key, cond, names, values = it.Update.TableName, it.Update.Key, it.Update.ConditionExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues
	case it.Delete != nil:
		tableName, key, cond, names, values = it.Delete.TableName, it.Delete.Key, it.Delete.ConditionExpression, it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues
	case it.ConditionCheck != nil:
		tableName, key, cond, names, values = it.ConditionCheck.TableName, it.ConditionCheck.Key, it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues
	default:
		return false, errors.New("empty transact item")
	}
	t, err := db.table(tableName)
	if err != nil {
		return false, err
	}
	k, err := t.keyOf(key)
	if err != nil {
		return false, err
	}
	env := exprEnv{names: names, values: values}
	return env.eval(aws.ToString(cond), t.items[k])
}

func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func scalar(v types.AttributeValue) string {
	switch a := v.(type) {
	case *types.AttributeValueMemberS:
		return a.Value
	case *types.AttributeValueMemberN:
		return a.Value
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprint(a.Value)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// compare orders two attribute values; numbers numerically, everything else as strings.
func compare(a, b types.AttributeValue) int {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		return decimal.RequireFromString(an.Value).Cmp(decimal.RequireFromString(bn.Value))
	}
	return strings.Compare(scalar(a), scalar(b))
}

func sameType(a, b types.AttributeValue) bool {
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}
