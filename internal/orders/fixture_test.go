package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/imrishuroy/go-orderledger/internal/addresses"
	"github.com/imrishuroy/go-orderledger/internal/cart"
	"github.com/imrishuroy/go-orderledger/internal/delivery"
	"github.com/imrishuroy/go-orderledger/internal/dynamotest"
	"github.com/imrishuroy/go-orderledger/internal/idempotency"
	"github.com/shopspring/decimal"
)

var testTables = Tables{Orders: "orders", Lines: "order_lines", Events: "order_events"}

func newTestDB() *dynamotest.DB {
	return dynamotest.New(
		dynamotest.TableSpec{
			Name: testTables.Orders,
			Key:  dynamotest.KeySpec{PK: "order_id"},
			Indexes: map[string]dynamotest.KeySpec{
				UserIndex:      {PK: "user_id", SK: "created_at"},
				StatusEtaIndex: {PK: "status", SK: "estimated_delivery"},
			},
		},
		dynamotest.TableSpec{
			Name:    testTables.Lines,
			Key:     dynamotest.KeySpec{PK: "line_id"},
			Indexes: map[string]dynamotest.KeySpec{OrderIndex: {PK: "order_id"}},
		},
		dynamotest.TableSpec{Name: testTables.Events, Key: dynamotest.KeySpec{PK: "order_id", SK: "seq"}},
		dynamotest.TableSpec{Name: "idempotency", Key: dynamotest.KeySpec{PK: "idempotency_key"}},
	)
}

type fakeCart map[string][]cart.PricedLine

func (f fakeCart) Lines(_ context.Context, userID string) ([]cart.PricedLine, error) {
	return f[userID], nil
}

type fakeAddresses map[string]addresses.Address

func (f fakeAddresses) Get(_ context.Context, addressID, userID string) (*addresses.Address, error) {
	a, ok := f[addressID]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	return &a, nil
}

// fakeEstimator maps pincode -> eta; unknown pincodes are undeliverable.
type fakeEstimator map[string]int

func (f fakeEstimator) Estimate(_ context.Context, productIDs []string, pincode string) (int, error) {
	eta, ok := f[pincode]
	if !ok {
		return 0, delivery.ErrUndeliverable
	}
	return eta, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []StatusChanged
}

func (n *recordingNotifier) Notify(_ context.Context, ev StatusChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) statuses() []Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Status, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.To
	}
	return out
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]float64
}

func (m *countingMetrics) Count(_ context.Context, name string, value float64, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]float64{}
	}
	m.counts[name] += value
	return nil
}

type harness struct {
	db       *dynamotest.DB
	store    *Store
	svc      *Service
	cart     fakeCart
	notifier *recordingNotifier
	metrics  *countingMetrics
	now      time.Time
}

var day0 = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:       newTestDB(),
		cart:     fakeCart{},
		notifier: &recordingNotifier{},
		metrics:  &countingMetrics{},
		now:      day0,
	}
	h.store = NewStore(h.db, testTables)
	h.store.nowFunc = func() time.Time { return h.now }
	idem := idempotency.NewStore(h.db, "idempotency", 48*time.Hour)
	h.svc = NewService(Deps{
		Store: h.store,
		Cart:  h.cart,
		Addresses: fakeAddresses{
			"addr-1": {AddressID: "addr-1", UserID: "u1", Pincode: "110001"},
			"addr-2": {AddressID: "addr-2", UserID: "u1", Pincode: "999999"},
			"addr-3": {AddressID: "addr-3", UserID: "u2", Pincode: "110001"},
		},
		Estimator:   fakeEstimator{"110001": 5},
		Idempotency: idem,
		Notifier:    h.notifier,
		Metrics:     h.metrics,
	})
	h.svc.nowFunc = func() time.Time { return h.now }
	return h
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (h *harness) fillCart(userID string, lines ...cart.PricedLine) {
	h.cart[userID] = lines
}

func shirtLine(qty int) cart.PricedLine {
	return cart.PricedLine{
		Line:          cart.Line{ProductID: "prod-a", Size: "M", Quantity: qty, LineID: cart.LineID("prod-a", "M")},
		Name:          "Product A",
		Price:         money("500"),
		DiscountPrice: money("400"),
	}
}
