package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-orderledger/internal/cart"
	"github.com/imrishuroy/go-orderledger/internal/dynamotest"
	"github.com/imrishuroy/go-orderledger/internal/idempotency"
	"github.com/imrishuroy/go-orderledger/internal/inventory"
	"github.com/imrishuroy/go-orderledger/internal/orders"
	"github.com/imrishuroy/go-orderledger/internal/payments"
	"github.com/shopspring/decimal"
)

var (
	unitM  = inventory.Key{ProductID: "prod-a", Size: "M"}
	unitXL = inventory.Key{ProductID: "prod-b", Size: "XL"}
)

type fixture struct {
	db        *dynamotest.DB
	ledger    *inventory.Ledger
	store     *orders.Store
	orders    *orders.Service
	processor *Processor
}

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) SweepDue(context.Context) (int, error) {
	f.calls++
	return 3, f.err
}

func newFixture(t *testing.T, sweeper Sweeper) *fixture {
	t.Helper()
	db := dynamotest.New(
		dynamotest.TableSpec{
			Name: "orders",
			Key:  dynamotest.KeySpec{PK: "order_id"},
			Indexes: map[string]dynamotest.KeySpec{
				orders.UserIndex:      {PK: "user_id", SK: "created_at"},
				orders.StatusEtaIndex: {PK: "status", SK: "estimated_delivery"},
			},
		},
		dynamotest.TableSpec{Name: "order_lines", Key: dynamotest.KeySpec{PK: "line_id"}, Indexes: map[string]dynamotest.KeySpec{orders.OrderIndex: {PK: "order_id"}}},
		dynamotest.TableSpec{Name: "order_events", Key: dynamotest.KeySpec{PK: "order_id", SK: "seq"}},
		dynamotest.TableSpec{Name: "idempotency", Key: dynamotest.KeySpec{PK: "idempotency_key"}},
		dynamotest.TableSpec{Name: "inventory", Key: dynamotest.KeySpec{PK: "unit_key"}},
	)
	ledger := inventory.NewLedger(db, "inventory")
	ctx := context.Background()
	if err := ledger.SetStock(ctx, unitM, 8); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	if err := ledger.SetStock(ctx, unitXL, 0); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	store := orders.NewStore(db, orders.Tables{Orders: "orders", Lines: "order_lines", Events: "order_events"})
	p := NewProcessor(Deps{
		Orders:      store,
		Stock:       ledger,
		Idempotency: idempotency.NewStore(db, "idempotency", time.Hour),
		Sweeper:     sweeper,
	})
	svc := orders.NewService(orders.Deps{Store: store, Notifier: p})
	return &fixture{db: db, ledger: ledger, store: store, orders: svc, processor: p}
}

// paidOrder creates an order holding 2 x M, 1 x XL and one line whose size was coerced away,
// then confirms it with its stock committed.
func (f *fixture) paidOrder(t *testing.T) *orders.Order {
	t.Helper()
	ctx := context.Background()
	o := orders.Order{
		OrderID:           uuid.NewString(),
		UserID:            "u1",
		AddressID:         "addr-1",
		TotalAmount:       decimal.RequireFromString("1500.00"),
		EtaDays:           5,
		EstimatedDelivery: time.Now().AddDate(0, 0, 5).Format(time.DateOnly),
	}
	lines := []orders.Line{
		{LineID: uuid.NewString(), ProductID: "prod-a", Size: "M", Quantity: 2},
		{LineID: uuid.NewString(), ProductID: "prod-b", Size: "XL", Quantity: 1},
		{LineID: uuid.NewString(), ProductID: "prod-c", Size: "", Quantity: 1},
	}
	if err := f.store.Create(ctx, o, lines); err != nil {
		t.Fatalf("create order: %v", err)
	}
	got, err := f.store.Get(ctx, o.OrderID)
	if err != nil || got == nil {
		t.Fatalf("get order: %v %v", got, err)
	}
	err = f.orders.Transition(ctx, got, orders.Transition{To: orders.StatusConfirmed, Note: "COD confirmed", CommitStock: true})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return got
}

func (f *fixture) stock(t *testing.T, k inventory.Key) int {
	t.Helper()
	u, err := f.ledger.Get(context.Background(), k)
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	return u.Stock
}

func sqsEvent(t *testing.T, bodies ...any) events.SQSEvent {
	t.Helper()
	var ev events.SQSEvent
	for _, b := range bodies {
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		ev.Records = append(ev.Records, events.SQSMessage{MessageId: uuid.NewString(), Body: string(raw)})
	}
	return ev
}

func TestCancelledPaidOrder_ReleasesStockOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := f.paidOrder(t)

	// Cancelling dispatches inline to the processor.
	if _, err := f.orders.Cancel(ctx, "u1", o.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.stock(t, unitM); got != 10 {
		t.Fatalf("expected M stock 10 after release, got %d", got)
	}
	if got := f.stock(t, unitXL); got != 1 {
		t.Fatalf("expected XL stock 1 after release, got %d", got)
	}

	// A redelivered queue message is a no-op.
	ev := orders.StatusChanged{Type: orders.EventStatusChanged, OrderID: o.OrderID, UserID: "u1", From: orders.StatusConfirmed, To: orders.StatusCancelled, StockCommitted: true}
	if err := f.processor.Handle(ctx, sqsEvent(t, ev, ev)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.stock(t, unitM); got != 10 {
		t.Fatalf("expected M stock to stay 10, got %d", got)
	}
}

func TestCancelledUnpaidOrder_KeepsLedger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := orders.Order{OrderID: uuid.NewString(), UserID: "u1", EstimatedDelivery: time.Now().AddDate(0, 0, 3).Format(time.DateOnly)}
	if err := f.store.Create(ctx, o, []orders.Line{{LineID: uuid.NewString(), ProductID: "prod-a", Size: "M", Quantity: 2}}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := f.orders.Cancel(ctx, "u1", o.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.stock(t, unitM); got != 8 {
		t.Fatalf("expected stock untouched at 8, got %d", got)
	}
}

func TestStaleCancellationEvent_Ignored(t *testing.T) {
	f := newFixture(t, nil)
	o := f.paidOrder(t)

	ev := orders.StatusChanged{Type: orders.EventStatusChanged, OrderID: o.OrderID, To: orders.StatusCancelled, StockCommitted: true}
	if err := f.processor.Handle(context.Background(), sqsEvent(t, ev)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.stock(t, unitM); got != 8 {
		t.Fatalf("expected stock untouched while order is CONFIRMED, got %d", got)
	}
}

func TestSweepMessage(t *testing.T) {
	sw := &fakeSweeper{}
	f := newFixture(t, sw)

	if err := f.processor.Handle(context.Background(), sqsEvent(t, Envelope{Type: MessageSweep})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sw.calls != 1 {
		t.Fatalf("expected one sweep, got %d", sw.calls)
	}

	sw.err = errors.New("throttled")
	if err := f.processor.Handle(context.Background(), sqsEvent(t, Envelope{Type: MessageSweep})); err == nil {
		t.Fatal("expected sweep failure to be returned for retry")
	}

	noSweeper := newFixture(t, nil)
	if err := noSweeper.processor.Handle(context.Background(), sqsEvent(t, Envelope{Type: MessageSweep})); err == nil {
		t.Fatal("expected error without a sweeper")
	}
}

func TestHandle_BadBodiesAndUnknownTypes(t *testing.T) {
	f := newFixture(t, nil)

	bad := events.SQSEvent{Records: []events.SQSMessage{{Body: "{not json"}}}
	if err := f.processor.Handle(context.Background(), bad); err == nil {
		t.Fatal("expected invalid body error")
	}
	if err := f.processor.Handle(context.Background(), sqsEvent(t, Envelope{Type: "order.shipped_label"})); err != nil {
		t.Fatalf("expected unknown type to be skipped, got %v", err)
	}
}

func TestStatusChanged_PaidThenCancelledBalancesLedger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.db.CreateTable(dynamotest.TableSpec{Name: "cart_lines", Key: dynamotest.KeySpec{PK: "user_id", SK: "line_id"}})
	f.db.CreateTable(dynamotest.TableSpec{Name: "payments", Key: dynamotest.KeySpec{PK: "order_id"}})
	cartStore := cart.NewStore(f.db, "cart_lines", f.ledger)
	pay := payments.NewService(payments.NewStore(f.db, "payments"), f.orders, cartStore, nil,
		idempotency.NewStore(f.db, "idempotency", time.Hour), "INR")

	if _, err := cartStore.Add(ctx, "u1", "prod-a", "M", 2); err != nil {
		t.Fatalf("add to cart: %v", err)
	}
	o := orders.Order{
		OrderID:           uuid.NewString(),
		UserID:            "u1",
		AddressID:         "addr-1",
		TotalAmount:       decimal.RequireFromString("928.00"),
		EtaDays:           5,
		EstimatedDelivery: time.Now().AddDate(0, 0, 5).Format(time.DateOnly),
	}
	lines := []orders.Line{{LineID: uuid.NewString(), ProductID: "prod-a", Size: "M", Quantity: 2}}
	if err := f.store.Create(ctx, o, lines); err != nil {
		t.Fatalf("create order: %v", err)
	}
	// one more unit lands in the cart after checkout
	if _, err := cartStore.Add(ctx, "u1", "prod-a", "M", 1); err != nil {
		t.Fatalf("add to cart: %v", err)
	}

	if _, err := pay.PayCOD(ctx, "u1", o.OrderID, "COD"); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if got := f.stock(t, unitM); got != 5 {
		t.Fatalf("stock after payment = %d, want 5", got)
	}
	if _, err := f.orders.Cancel(ctx, "u1", o.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	cartLines, err := cartStore.Lines(ctx, "u1")
	if err != nil {
		t.Fatalf("cart lines: %v", err)
	}
	if len(cartLines) != 1 || cartLines[0].Quantity != 1 {
		t.Fatalf("cart after payment = %+v, want the later unit only", cartLines)
	}
	// initial 8 = free stock + the unit still reserved by the cart
	if got := f.stock(t, unitM); got != 7 {
		t.Fatalf("stock after cancel = %d, want 7", got)
	}
}
