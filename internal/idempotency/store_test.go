package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/dynamotest"
)

const tbl = "idempotency-table"

func newStore() (*Store, *dynamotest.DB) {
	db := dynamotest.New(dynamotest.TableSpec{Name: tbl, Key: dynamotest.KeySpec{PK: "idempotency_key"}})
	s := NewStore(db, tbl, 48*time.Hour)
	s.nowFunc = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return s, db
}

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	key := "verify:order-123:pay_1"

	created, err := s.CreateIfNotExists(ctx, key, "order-123")
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, key, "order-123")
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil || rec.Status != StatusInProgress || rec.Ref != "order-123" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if want := s.nowFunc().Add(48 * time.Hour).Unix(); rec.ExpiresAt != want {
		t.Fatalf("expires_at = %d, want %d", rec.ExpiresAt, want)
	}

	if err := s.MarkDone(ctx, key, `{"ok":true}`, 200); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusDone || rec.ResponseBody != `{"ok":true}` || rec.ResponseStatus != 200 {
		t.Fatalf("record not marked done: %+v", rec)
	}

	if err := s.MarkFailed(ctx, key, "failed-reason"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusFailed || rec.Note != "failed-reason" {
		t.Fatalf("record not marked failed: %+v", rec)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newStore()
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", rec, err)
	}
}

func TestReclaim_OnlyFromFailed(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	if _, err := s.CreateIfNotExists(ctx, "k", "o1"); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Reclaim(ctx, "k")
	if err != nil || ok {
		t.Fatalf("in-progress key must not be reclaimed: ok=%v err=%v", ok, err)
	}

	if err := s.MarkFailed(ctx, "k", "gateway down"); err != nil {
		t.Fatal(err)
	}
	ok, err = s.Reclaim(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("failed key should be reclaimed: ok=%v err=%v", ok, err)
	}
	rec, _ := s.Get(ctx, "k")
	if rec.Status != StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", rec.Status)
	}
}

func TestCompletedOp_CommitsOnceInTransaction(t *testing.T) {
	s, db := newStore()
	ctx := context.Background()

	op, err := s.CompletedOp("order:u1:abc", "o1", "addr-1", `{"order_id":"o1"}`, 201)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{op}}); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	_, err = db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{op}})
	if !IsDuplicate(err, 0) {
		t.Fatalf("second commit should lose the key condition, got %v", err)
	}

	rec, err := s.Replay(ctx, "order:u1:abc", "addr-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rec.Ref != "o1" || rec.ResponseStatus != 201 || rec.ResponseBody != `{"order_id":"o1"}` {
		t.Fatalf("unexpected replay record %+v", rec)
	}
}

func TestReplay_DifferentPayloadAndInProgress(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	rec, err := s.Replay(ctx, "missing", "h")
	if err != nil || rec != nil {
		t.Fatalf("missing key: (%+v, %v)", rec, err)
	}

	op, _ := s.CompletedOp("order:u1:k", "o1", "addr-1", "{}", 201)
	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{op}}); err != nil {
		t.Fatal(err)
	}
	_, err = s.Replay(ctx, "order:u1:k", "addr-2")
	if !errors.Is(err, ErrKeyReused) || !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}

	if _, err := s.CreateIfNotExists(ctx, "verify:o1:p1", "o1"); err != nil {
		t.Fatal(err)
	}
	_, err = s.Replay(ctx, "verify:o1:p1", "")
	if !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
}

func TestCreateIfNotExists_PropagatesStoreErrors(t *testing.T) {
	s, db := newStore()
	db.FailNext("PutItem", errors.New("throttled"))

	created, err := s.CreateIfNotExists(context.Background(), "k", "")
	if err == nil || created {
		t.Fatalf("expected error, got created=%v err=%v", created, err)
	}
}

func TestRecordOrphan_KeptWithoutExpiry(t *testing.T) {
	s, db := newStore()
	ctx := context.Background()
	key := "orphan:order-123:pay_9"

	created, err := s.RecordOrphan(ctx, key, "order-123", `{"remote_payment_id":"pay_9"}`)
	if err != nil || !created {
		t.Fatalf("RecordOrphan = %v, %v", created, err)
	}
	created, err = s.RecordOrphan(ctx, key, "order-123", "again")
	if err != nil || created {
		t.Fatalf("second RecordOrphan = %v, %v", created, err)
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.Status != StatusOrphaned || rec.Ref != "order-123" || rec.Note != `{"remote_payment_id":"pay_9"}` {
		t.Fatalf("unexpected record: %+v", rec)
	}
	item := db.Items(tbl)[0]
	if _, ok := item["expires_at"]; ok {
		t.Fatalf("orphan record must not carry a TTL")
	}
}
